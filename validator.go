package fulfill

// Validator is the pure transition decision function. It consults the
// status graph and has no side effects; the engine re-runs it against the
// freshly persisted status on every commit attempt.
type Validator struct {
	graph Graph
}

// NewValidator creates a validator over the given graph. The graph should
// already have passed Validate.
func NewValidator(graph Graph) *Validator {
	return &Validator{graph: graph}
}

// Validate returns nil iff the edge from -> to exists for the channel.
// A no-op request (to == from) is invalid unless the graph explicitly
// lists the self-loop. Unknown channels or statuses surface as
// ErrInvalidConfiguration, never as a silent rejection.
func (v *Validator) Validate(channel FulfillmentType, from, to Status) error {
	ok, err := v.graph.CanTransition(channel, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return &TransitionError{Channel: channel, From: from, To: to}
	}
	return nil
}
