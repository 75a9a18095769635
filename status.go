package fulfill

import "fmt"

// FulfillmentType identifies the delivery mode of an order. It is set at
// order creation and never changes mid-lifecycle; it selects which status
// graph governs the order.
type FulfillmentType string

const (
	// ChannelInsideValley is self-delivery within the valley
	ChannelInsideValley FulfillmentType = "inside_valley"
	// ChannelOutsideValley is courier delivery outside the valley
	ChannelOutsideValley FulfillmentType = "outside_valley"
	// ChannelStore is walk-in pickup at the store
	ChannelStore FulfillmentType = "store"
)

// Status represents an order lifecycle state
type Status string

const (
	// StatusIntake indicates the order has been recorded but not worked
	StatusIntake Status = "intake"
	// StatusFollowUp indicates the customer is being followed up; repeated
	// follow-up attempts are modeled as an explicit self-loop
	StatusFollowUp Status = "follow_up"
	// StatusConverted indicates the customer confirmed the purchase
	StatusConverted Status = "converted"
	// StatusStoreSale indicates a walk-in sale was made at the store
	StatusStoreSale Status = "store_sale"
	// StatusPacked indicates the order has been packed
	StatusPacked Status = "packed"
	// StatusDispatched indicates a valley rider has the package
	StatusDispatched Status = "dispatched"
	// StatusHandedToCourier indicates the package was handed to the courier
	StatusHandedToCourier Status = "handed_to_courier"
	// StatusInTransit indicates the courier is moving the package
	StatusInTransit Status = "in_transit"
	// StatusDelivered indicates the customer received the package
	StatusDelivered Status = "delivered"
	// StatusReturnInitiated indicates the customer asked to return the order
	StatusReturnInitiated Status = "return_initiated"
	// StatusReturned indicates the package came back and was reconciled
	StatusReturned Status = "returned"
	// StatusCancelled indicates the order was cancelled before delivery
	StatusCancelled Status = "cancelled"
	// StatusRejected indicates the order was rejected during intake
	StatusRejected Status = "rejected"
)

// Graph is the per-channel directed graph of legal status transitions.
// It is configuration, not state: loaded once at process start, validated,
// and never mutated afterwards. Channels do not share edges even when
// status names coincide.
type Graph map[FulfillmentType]map[Status][]Status

// DefaultGraph returns the reference transition configuration. Each call
// returns a fresh copy so callers cannot alias the package literal.
func DefaultGraph() Graph {
	return Graph{
		ChannelInsideValley: {
			StatusIntake:          {StatusFollowUp, StatusConverted, StatusCancelled, StatusRejected},
			StatusFollowUp:        {StatusFollowUp, StatusConverted, StatusCancelled, StatusRejected},
			StatusConverted:       {StatusPacked, StatusCancelled},
			StatusPacked:          {StatusDispatched, StatusCancelled},
			StatusDispatched:      {StatusDelivered, StatusCancelled},
			StatusDelivered:       {StatusReturnInitiated},
			StatusReturnInitiated: {StatusReturned},
			StatusReturned:        {},
			StatusCancelled:       {},
			StatusRejected:        {},
		},
		ChannelOutsideValley: {
			StatusIntake:          {StatusFollowUp, StatusConverted, StatusCancelled, StatusRejected},
			StatusFollowUp:        {StatusFollowUp, StatusConverted, StatusCancelled, StatusRejected},
			StatusConverted:       {StatusPacked, StatusCancelled},
			StatusPacked:          {StatusHandedToCourier, StatusCancelled},
			StatusHandedToCourier: {StatusInTransit, StatusReturned},
			StatusInTransit:       {StatusDelivered, StatusReturned},
			StatusDelivered:       {StatusReturnInitiated},
			StatusReturnInitiated: {StatusReturned},
			StatusReturned:        {},
			StatusCancelled:       {},
			StatusRejected:        {},
		},
		ChannelStore: {
			StatusIntake:          {StatusFollowUp, StatusStoreSale, StatusCancelled, StatusRejected},
			StatusFollowUp:        {StatusFollowUp, StatusStoreSale, StatusCancelled, StatusRejected},
			StatusStoreSale:       {StatusDelivered, StatusCancelled},
			StatusDelivered:       {StatusReturnInitiated},
			StatusReturnInitiated: {StatusReturned},
			StatusReturned:        {},
			StatusCancelled:       {},
			StatusRejected:        {},
		},
	}
}

// AllowedTargets returns the set of statuses reachable from the given
// status on the given channel. Terminal statuses return an empty slice.
// An unknown channel or status is a configuration error, never an empty
// transition set.
func (g Graph) AllowedTargets(channel FulfillmentType, from Status) ([]Status, error) {
	edges, ok := g[channel]
	if !ok {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidConfiguration, channel)
	}
	targets, ok := edges[from]
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q for channel %q", ErrInvalidConfiguration, from, channel)
	}
	result := make([]Status, len(targets))
	copy(result, targets)
	return result, nil
}

// CanTransition reports whether the edge from -> to exists on the given
// channel. Self-transitions are legal only when explicitly enumerated.
func (g Graph) CanTransition(channel FulfillmentType, from, to Status) (bool, error) {
	targets, err := g.AllowedTargets(channel, from)
	if err != nil {
		return false, err
	}
	for _, target := range targets {
		if target == to {
			return true, nil
		}
	}
	return false, nil
}

// IsTerminal reports whether the status has no outgoing edges on the
// given channel.
func (g Graph) IsTerminal(channel FulfillmentType, status Status) (bool, error) {
	targets, err := g.AllowedTargets(channel, status)
	if err != nil {
		return false, err
	}
	return len(targets) == 0, nil
}

// Statuses returns every status known to the given channel.
func (g Graph) Statuses(channel FulfillmentType) ([]Status, error) {
	edges, ok := g[channel]
	if !ok {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidConfiguration, channel)
	}
	result := make([]Status, 0, len(edges))
	for status := range edges {
		result = append(result, status)
	}
	return result, nil
}

// Channels returns every configured fulfillment channel.
func (g Graph) Channels() []FulfillmentType {
	result := make([]FulfillmentType, 0, len(g))
	for channel := range g {
		result = append(result, channel)
	}
	return result
}

// Validate checks the graph at startup. Every channel must be non-empty,
// must contain the intake status, and every edge target must itself be a
// key of the same channel so no transition can leave an order in a status
// the channel does not define.
func (g Graph) Validate() error {
	if len(g) == 0 {
		return fmt.Errorf("%w: graph has no channels", ErrInvalidConfiguration)
	}
	for channel, edges := range g {
		if len(edges) == 0 {
			return fmt.Errorf("%w: channel %q has no statuses", ErrInvalidConfiguration, channel)
		}
		if _, ok := edges[StatusIntake]; !ok {
			return fmt.Errorf("%w: channel %q has no %q status", ErrInvalidConfiguration, channel, StatusIntake)
		}
		for from, targets := range edges {
			for _, to := range targets {
				if _, ok := edges[to]; !ok {
					return fmt.Errorf("%w: channel %q: edge %s -> %s references undefined status",
						ErrInvalidConfiguration, channel, from, to)
				}
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the graph.
func (g Graph) Clone() Graph {
	clone := make(Graph, len(g))
	for channel, edges := range g {
		clonedEdges := make(map[Status][]Status, len(edges))
		for from, targets := range edges {
			clonedTargets := make([]Status, len(targets))
			copy(clonedTargets, targets)
			clonedEdges[from] = clonedTargets
		}
		clone[channel] = clonedEdges
	}
	return clone
}

// RestockPolicy decides which target statuses return previously allocated
// stock to on-hand inventory. The reference deployment uses a single
// channel-independent set; PerChannel overrides exist so two channels can
// reuse a status name with different stock semantics.
type RestockPolicy struct {
	// Default is the restocking status set applied to channels without an override
	Default []Status
	// PerChannel overrides the restocking set for specific channels
	PerChannel map[FulfillmentType][]Status
}

// DefaultRestockPolicy returns the reference restocking configuration:
// cancelled, rejected and returned restore stock on every channel.
func DefaultRestockPolicy() RestockPolicy {
	return RestockPolicy{
		Default: []Status{StatusCancelled, StatusRejected, StatusReturned},
	}
}

// Restocking reports whether arriving at the given status on the given
// channel must restore stock.
func (p RestockPolicy) Restocking(channel FulfillmentType, to Status) bool {
	set := p.Default
	if override, ok := p.PerChannel[channel]; ok {
		set = override
	}
	for _, status := range set {
		if status == to {
			return true
		}
	}
	return false
}

// Validate checks the policy against a graph: every restocking status must
// be known to the channels it applies to.
func (p RestockPolicy) Validate(g Graph) error {
	for channel, edges := range g {
		set := p.Default
		if override, ok := p.PerChannel[channel]; ok {
			set = override
		}
		for _, status := range set {
			if _, ok := edges[status]; !ok {
				return fmt.Errorf("%w: restock status %q is not defined for channel %q",
					ErrInvalidConfiguration, status, channel)
			}
		}
	}
	for channel := range p.PerChannel {
		if _, ok := g[channel]; !ok {
			return fmt.Errorf("%w: restock override references unknown channel %q",
				ErrInvalidConfiguration, channel)
		}
	}
	return nil
}
