// Package tracing provides OpenTelemetry tracing integration for the
// fulfillment core.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer defines the interface for distributed tracing.
type Tracer interface {
	// StartTransition starts a root span for a transition attempt.
	StartTransition(ctx context.Context, orderID, channel, target string) (context.Context, Span)

	// StartConversion starts a span for a conversion send.
	StartConversion(ctx context.Context, eventID, eventName string) (context.Context, Span)
}

// Span represents an active tracing span.
type Span interface {
	// End completes the span.
	End()

	// SetError marks the span as having an error.
	SetError(err error)

	// SetStatus sets the span status.
	SetStatus(code codes.Code, description string)

	// SetAttributes adds attributes to the span.
	SetAttributes(attrs ...attribute.KeyValue)

	// AddEvent adds an event to the span.
	AddEvent(name string, attrs ...attribute.KeyValue)
}

// OTelTracer implements Tracer using OpenTelemetry.
type OTelTracer struct {
	tracer trace.Tracer
}

// Config holds configuration for OTelTracer.
type Config struct {
	// ServiceName is the name of the service for tracing.
	ServiceName string
	// TracerProvider is the OpenTelemetry tracer provider. If nil, the global provider is used.
	TracerProvider trace.TracerProvider
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName: "fulfill",
	}
}

// NewOTelTracer creates a new OTelTracer with the given configuration.
func NewOTelTracer(cfg Config) *OTelTracer {
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &OTelTracer{
		tracer: tp.Tracer(cfg.ServiceName),
	}
}

// StartTransition starts a root span for a transition attempt.
func (t *OTelTracer) StartTransition(ctx context.Context, orderID, channel, target string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, "transition.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("order.channel", channel),
			attribute.String("transition.target", target),
		),
	)
	return ctx, &otelSpan{span: span}
}

// StartConversion starts a span for a conversion send.
func (t *OTelTracer) StartConversion(ctx context.Context, eventID, eventName string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, "conversion.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("conversion.event_id", eventID),
			attribute.String("conversion.event_name", eventName),
		),
	)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetError(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
}

func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *otelSpan) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

func (s *otelSpan) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// NoopTracer is a Tracer that records nothing.
type NoopTracer struct{}

var _ Tracer = (*NoopTracer)(nil)

// StartTransition returns a no-op span.
func (t *NoopTracer) StartTransition(ctx context.Context, orderID, channel, target string) (context.Context, Span) {
	return ctx, noopSpan{}
}

// StartConversion returns a no-op span.
func (t *NoopTracer) StartConversion(ctx context.Context, eventID, eventName string) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End()                                              {}
func (noopSpan) SetError(error)                                    {}
func (noopSpan) SetStatus(codes.Code, string)                      {}
func (noopSpan) SetAttributes(...attribute.KeyValue)               {}
func (noopSpan) AddEvent(string, ...attribute.KeyValue)            {}
