package fulfill

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

// All statuses used by the reference configuration
var allStatuses = []Status{
	StatusIntake,
	StatusFollowUp,
	StatusConverted,
	StatusStoreSale,
	StatusPacked,
	StatusDispatched,
	StatusHandedToCourier,
	StatusInTransit,
	StatusDelivered,
	StatusReturnInitiated,
	StatusReturned,
	StatusCancelled,
	StatusRejected,
}

var allChannels = []FulfillmentType{
	ChannelInsideValley,
	ChannelOutsideValley,
	ChannelStore,
}

func TestCanTransition_ValidEdges(t *testing.T) {
	g := DefaultGraph()

	validEdges := []struct {
		channel FulfillmentType
		from    Status
		to      Status
	}{
		// Shared intake funnel
		{ChannelInsideValley, StatusIntake, StatusFollowUp},
		{ChannelInsideValley, StatusIntake, StatusConverted},
		{ChannelInsideValley, StatusIntake, StatusCancelled},
		{ChannelInsideValley, StatusIntake, StatusRejected},
		// Explicit follow-up self-loop
		{ChannelInsideValley, StatusFollowUp, StatusFollowUp},
		{ChannelOutsideValley, StatusFollowUp, StatusFollowUp},
		{ChannelStore, StatusFollowUp, StatusFollowUp},
		// Inside valley delivery flow
		{ChannelInsideValley, StatusConverted, StatusPacked},
		{ChannelInsideValley, StatusPacked, StatusDispatched},
		{ChannelInsideValley, StatusDispatched, StatusDelivered},
		{ChannelInsideValley, StatusDelivered, StatusReturnInitiated},
		{ChannelInsideValley, StatusReturnInitiated, StatusReturned},
		// Cancellation while in flight
		{ChannelInsideValley, StatusPacked, StatusCancelled},
		{ChannelInsideValley, StatusDispatched, StatusCancelled},
		// Outside valley courier flow
		{ChannelOutsideValley, StatusConverted, StatusPacked},
		{ChannelOutsideValley, StatusPacked, StatusHandedToCourier},
		{ChannelOutsideValley, StatusHandedToCourier, StatusInTransit},
		{ChannelOutsideValley, StatusInTransit, StatusDelivered},
		{ChannelOutsideValley, StatusDelivered, StatusReturnInitiated},
		// Store walk-in flow
		{ChannelStore, StatusIntake, StatusStoreSale},
		{ChannelStore, StatusStoreSale, StatusDelivered},
		{ChannelStore, StatusDelivered, StatusReturnInitiated},
	}

	for _, tt := range validEdges {
		ok, err := g.CanTransition(tt.channel, tt.from, tt.to)
		if err != nil {
			t.Errorf("CanTransition(%s, %s, %s) returned error: %v", tt.channel, tt.from, tt.to, err)
			continue
		}
		if !ok {
			t.Errorf("transition %s: %s -> %s should be valid", tt.channel, tt.from, tt.to)
		}
	}
}

func TestCanTransition_InvalidEdges(t *testing.T) {
	g := DefaultGraph()

	invalidEdges := []struct {
		channel FulfillmentType
		from    Status
		to      Status
	}{
		// Cannot skip the conversion step
		{ChannelInsideValley, StatusIntake, StatusPacked},
		{ChannelInsideValley, StatusIntake, StatusDelivered},
		// Cannot go backwards
		{ChannelInsideValley, StatusPacked, StatusConverted},
		{ChannelInsideValley, StatusDelivered, StatusDispatched},
		// Channels never share edges: courier statuses are not inside valley
		{ChannelInsideValley, StatusPacked, StatusHandedToCourier},
		// Store sales never pass through packing
		{ChannelStore, StatusStoreSale, StatusPacked},
		// store_sale belongs to the store channel only
		{ChannelInsideValley, StatusIntake, StatusStoreSale},
		// Self-transitions are invalid unless enumerated
		{ChannelInsideValley, StatusIntake, StatusIntake},
		{ChannelInsideValley, StatusPacked, StatusPacked},
	}

	for _, tt := range invalidEdges {
		ok, err := g.CanTransition(tt.channel, tt.from, tt.to)
		if err != nil {
			t.Errorf("CanTransition(%s, %s, %s) returned error: %v", tt.channel, tt.from, tt.to, err)
			continue
		}
		if ok {
			t.Errorf("transition %s: %s -> %s should be invalid", tt.channel, tt.from, tt.to)
		}
	}
}

func TestAllowedTargets_UnknownChannelOrStatus(t *testing.T) {
	g := DefaultGraph()

	if _, err := g.AllowedTargets("air_drop", StatusIntake); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("unknown channel should return ErrInvalidConfiguration, got %v", err)
	}

	if _, err := g.AllowedTargets(ChannelInsideValley, Status("melted")); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("unknown status should return ErrInvalidConfiguration, got %v", err)
	}

	// handed_to_courier exists in the status vocabulary but not in the
	// inside valley graph
	if _, err := g.AllowedTargets(ChannelInsideValley, StatusHandedToCourier); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("status outside the channel graph should return ErrInvalidConfiguration, got %v", err)
	}
}

func TestIsTerminal(t *testing.T) {
	g := DefaultGraph()

	terminal := []Status{StatusCancelled, StatusRejected, StatusReturned}
	for _, channel := range allChannels {
		for _, status := range terminal {
			ok, err := g.IsTerminal(channel, status)
			if err != nil {
				t.Fatalf("IsTerminal(%s, %s) returned error: %v", channel, status, err)
			}
			if !ok {
				t.Errorf("%s should be terminal on %s", status, channel)
			}
		}

		ok, err := g.IsTerminal(channel, StatusIntake)
		if err != nil {
			t.Fatalf("IsTerminal(%s, intake) returned error: %v", channel, err)
		}
		if ok {
			t.Errorf("intake should not be terminal on %s", channel)
		}
	}
}

func TestGraphValidate(t *testing.T) {
	if err := DefaultGraph().Validate(); err != nil {
		t.Fatalf("reference graph should validate: %v", err)
	}

	empty := Graph{}
	if err := empty.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("empty graph should fail validation, got %v", err)
	}

	noIntake := Graph{
		ChannelStore: {
			StatusFollowUp:  {StatusCancelled},
			StatusCancelled: nil,
		},
	}
	if err := noIntake.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("graph without intake should fail validation, got %v", err)
	}

	danglingEdge := Graph{
		ChannelStore: {
			StatusIntake: {Status("vaporized")},
		},
	}
	if err := danglingEdge.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("graph with dangling edge target should fail validation, got %v", err)
	}
}

func TestGraphClone_Independent(t *testing.T) {
	g := DefaultGraph()
	clone := g.Clone()

	clone[ChannelStore][StatusIntake] = append(clone[ChannelStore][StatusIntake], StatusPacked)

	ok, err := g.CanTransition(ChannelStore, StatusIntake, StatusPacked)
	if err != nil {
		t.Fatalf("CanTransition returned error: %v", err)
	}
	if ok {
		t.Error("mutating a clone must not affect the original graph")
	}
}

func TestRestockPolicy(t *testing.T) {
	p := DefaultRestockPolicy()

	restocking := []Status{StatusCancelled, StatusRejected, StatusReturned}
	for _, channel := range allChannels {
		for _, status := range restocking {
			if !p.Restocking(channel, status) {
				t.Errorf("%s should restock on %s", status, channel)
			}
		}
		for _, status := range []Status{StatusIntake, StatusConverted, StatusDelivered} {
			if p.Restocking(channel, status) {
				t.Errorf("%s should not restock on %s", status, channel)
			}
		}
	}
}

func TestRestockPolicy_PerChannelOverride(t *testing.T) {
	p := RestockPolicy{
		Default: []Status{StatusCancelled, StatusRejected, StatusReturned},
		PerChannel: map[FulfillmentType][]Status{
			// Store returns are reconciled manually, never auto-restocked
			ChannelStore: {StatusCancelled, StatusRejected},
		},
	}

	if p.Restocking(ChannelStore, StatusReturned) {
		t.Error("per-channel override should replace the default set")
	}
	if !p.Restocking(ChannelStore, StatusCancelled) {
		t.Error("per-channel override should keep its own statuses")
	}
	if !p.Restocking(ChannelInsideValley, StatusReturned) {
		t.Error("channels without an override should use the default set")
	}
}

// Property: every edge in the reference graph points to a status of the
// same channel's vocabulary, and terminal statuses never have outgoing
// edges.
func TestGraphProperties(t *testing.T) {
	g := DefaultGraph()

	rapid.Check(t, func(rt *rapid.T) {
		chIdx := rapid.IntRange(0, len(allChannels)-1).Draw(rt, "chIdx")
		channel := allChannels[chIdx]

		statuses, err := g.Statuses(channel)
		if err != nil {
			rt.Fatalf("Statuses(%s) returned error: %v", channel, err)
		}

		fromIdx := rapid.IntRange(0, len(statuses)-1).Draw(rt, "fromIdx")
		from := statuses[fromIdx]

		targets, err := g.AllowedTargets(channel, from)
		if err != nil {
			rt.Fatalf("AllowedTargets(%s, %s) returned error: %v", channel, from, err)
		}

		terminal, err := g.IsTerminal(channel, from)
		if err != nil {
			rt.Fatalf("IsTerminal(%s, %s) returned error: %v", channel, from, err)
		}
		if terminal && len(targets) > 0 {
			rt.Fatalf("terminal status %s on %s has outgoing edges %v", from, channel, targets)
		}

		known := make(map[Status]bool, len(statuses))
		for _, s := range statuses {
			known[s] = true
		}
		for _, target := range targets {
			if !known[target] {
				rt.Fatalf("edge %s -> %s on %s points outside the channel vocabulary", from, target, channel)
			}
		}
	})
}
