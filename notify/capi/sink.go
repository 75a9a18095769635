// Package capi implements the conversions-API HTTP sink for the
// conversion notifier.
package capi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fulfill/notify"
)

const defaultTimeout = 8 * time.Second

// Config holds the sink configuration.
type Config struct {
	// Endpoint is the conversions-API URL events are posted to
	Endpoint string
	// AccessToken authorizes the request; sent as a bearer token
	AccessToken string
	// TestEventCode, when set, routes events to the endpoint's test
	// pipeline instead of the live one
	TestEventCode string
	// Timeout bounds each request; defaults to 8s when zero
	Timeout time.Duration
}

// Sink posts conversion events to an external conversions API.
// It implements notify.Sink.
type Sink struct {
	config Config
	http   *http.Client
}

var _ notify.Sink = (*Sink)(nil)

// NewSink creates a sink for the given endpoint configuration.
func NewSink(config Config) *Sink {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	config.Endpoint = strings.TrimSpace(config.Endpoint)
	return &Sink{
		config: config,
		http:   &http.Client{Timeout: timeout},
	}
}

// request is the wire envelope the conversions API expects.
type request struct {
	Data          []*notify.Conversion `json:"data"`
	TestEventCode string               `json:"test_event_code,omitempty"`
}

// Send posts one conversion event. Any non-2xx response is an error; the
// caller decides whether to record it for replay.
func (s *Sink) Send(ctx context.Context, conv *notify.Conversion) error {
	payload, err := json.Marshal(request{
		Data:          []*notify.Conversion{conv},
		TestEventCode: s.config.TestEventCode,
	})
	if err != nil {
		return fmt.Errorf("capi: marshal event %s: %w", conv.EventID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("capi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.AccessToken)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("capi: send event %s: %w", conv.EventID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("capi: event %s rejected with status %d: %s",
			conv.EventID, resp.StatusCode, drainError(resp.Body))
	}
	return nil
}

// drainError reads a bounded slice of the response body for error context.
func drainError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(body) == 0 {
		return "<no body>"
	}
	return strings.TrimSpace(string(body))
}
