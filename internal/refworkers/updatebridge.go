// ============================================================================
// cardbus reference worker: update-callback bridge
// ============================================================================
//
// Package: internal/refworkers
// File: updatebridge.go
// Function: Not an EventWorker (§4.6) — no inbound queue, no goroutine of
// its own. The lookup layer holds a reference to Callback and invokes it
// directly whenever it writes an AccessCard or LocCards record; the bridge
// translates that into an AccessCardUpdated / LocCardUpdated event on the
// bus. Any other input is ignored.
//
// ============================================================================

package refworkers

import "github.com/chuliyu/cardbus/pkg/types"

// EventSink is the narrow interface the bridge publishes onto — satisfied
// by *loop.Loop.
type EventSink interface {
	Event(e types.Event)
}

// UpdateBridge adapts the lookup layer's write callback onto the event bus.
type UpdateBridge struct {
	sink EventSink
}

// NewUpdateBridge constructs a bridge publishing onto sink.
func NewUpdateBridge(sink EventSink) *UpdateBridge {
	return &UpdateBridge{sink: sink}
}

// Callback is the function value the lookup layer holds and invokes after
// writing a record. It is an owned callback value (§9), not a
// back-reference into the lookup layer.
func (b *UpdateBridge) Callback(v any) {
	switch val := v.(type) {
	case types.AccessCard:
		b.sink.Event(types.AccessCardUpdated{Card: val})
	case types.LocCards:
		b.sink.Event(types.LocCardUpdated{ID: val.ID, CardID: val.CardID, LocationID: val.LocationID})
	}
}
