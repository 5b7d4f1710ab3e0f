// ============================================================================
// cardbus reference worker: door-override controller
// ============================================================================
//
// Package: internal/refworkers
// File: dooroverride.go
// Function: EventWorker<DoorStateUpdate ∪ RawCommServerEvent> (§4.6).
// Tracks a commanded state and an optional deadline per (location, door);
// on every postEvent tick, expired deadlines fall back to Timezone and
// stale doors get a fresh network attempt. Echoes from the comm server
// clear the pending entry whether they confirm or preempt the commanded
// state; a location-wide echo decomposes into one synthetic per-door echo
// for every door currently pending at that location.
//
// ============================================================================

package refworkers

import (
	"sync"
	"time"

	"github.com/chuliyu/cardbus/internal/commproto"
	"github.com/chuliyu/cardbus/internal/eventworker"
	"github.com/chuliyu/cardbus/pkg/types"
)

// overrideRetryInterval bounds how often a still-pending door gets another
// network attempt (§4.6 "last-attempt >5s ago").
const overrideRetryInterval = 5 * time.Second

// messageTypeOverrideEcho is the comm server's echo frame type for a door
// override (§6 mirrors the override command's own leading field).
const messageTypeOverrideEcho = 6

// overrideStateCodeFieldIdx is the field index carrying the echoed state
// code, matching the override command's own wire layout (§6).
const overrideStateCodeFieldIdx = 5

// doorKey identifies one physical door within one controller-group
// location.
type doorKey struct {
	LocationID int
	DoorNumber int
}

// doorEntry is one door's pending-override bookkeeping.
type doorEntry struct {
	State       types.DoorState
	Deadline    time.Time // zero means no timeout
	LastAttempt time.Time
}

// DoorOverrideHandler implements eventworker.Handler for the door-override
// controller.
type DoorOverrideHandler struct {
	eventworker.NoopHooks

	comm        *commproto.Client
	workstation int

	mu      sync.Mutex
	pending map[doorKey]*doorEntry
}

// NewDoorOverrideWorker constructs the door-override controller, issuing
// commands over comm using workstation as the wire protocol's workstation
// field.
func NewDoorOverrideWorker(comm *commproto.Client, workstation int) *eventworker.Worker {
	h := &DoorOverrideHandler{
		comm:        comm,
		workstation: workstation,
		pending:     make(map[doorKey]*doorEntry),
	}
	return eventworker.New("door-override-controller", h, nil)
}

func (h *DoorOverrideHandler) ConsumedEvents() []types.EventType {
	return []types.EventType{types.EventDoorStateUpdate, types.EventRawCommServerEvent}
}

func (h *DoorOverrideHandler) HandleEvent(e types.Event) {
	switch ev := e.(type) {
	case types.DoorStateUpdate:
		h.commandDoor(ev)
	case types.RawCommServerEvent:
		h.handleEcho(ev)
	}
}

func (h *DoorOverrideHandler) commandDoor(ev types.DoorStateUpdate) {
	key := doorKey{LocationID: ev.LocationID, DoorNumber: ev.DoorNumber}
	entry := &doorEntry{State: ev.State}
	if ev.Timeout != nil {
		entry.Deadline = time.Now().Add(*ev.Timeout)
	}

	h.mu.Lock()
	h.pending[key] = entry
	h.mu.Unlock()
}

// handleEcho dispatches a comm-server response to the pending door(s) it
// confirms or preempts. DoorNumber 0 is the vendor protocol's convention
// for "all doors at this location"; the pending key set for that location
// is snapshotted before iterating so a clear triggered mid-iteration never
// mutates the set being walked (§9).
func (h *DoorOverrideHandler) handleEcho(ev types.RawCommServerEvent) {
	if ev.MessageType != messageTypeOverrideEcho {
		return
	}
	stateCode := 0
	if len(ev.Fields) > overrideStateCodeFieldIdx {
		stateCode = ev.Fields[overrideStateCodeFieldIdx]
	}
	reported := types.DoorState(stateCode)

	if ev.DoorNumber != 0 {
		h.resolveEcho(doorKey{LocationID: ev.LocationID, DoorNumber: ev.DoorNumber}, reported)
		return
	}

	h.mu.Lock()
	keys := make([]doorKey, 0, len(h.pending))
	for k := range h.pending {
		if k.LocationID == ev.LocationID {
			keys = append(keys, k)
		}
	}
	h.mu.Unlock()

	for _, k := range keys {
		h.resolveEcho(k, reported)
	}
}

// resolveEcho clears the pending entry for key regardless of whether the
// reported state matches the commanded one — a match is a success, a
// mismatch means another actor preempted the override — both end this
// door's pending lifecycle (§4.6).
func (h *DoorOverrideHandler) resolveEcho(key doorKey, reported types.DoorState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.pending[key]; !ok {
		return
	}
	delete(h.pending, key)
}

// PostEvent implements the periodic sweep: expired deadlines fall back to
// Timezone, and doors whose last network attempt is stale get another
// override command sent (§4.6).
func (h *DoorOverrideHandler) PostEvent() {
	now := time.Now()

	h.mu.Lock()
	expired := make([]doorKey, 0)
	for k, entry := range h.pending {
		if !entry.Deadline.IsZero() && !now.Before(entry.Deadline) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		h.pending[k].State = types.DoorTimezone
		h.pending[k].Deadline = time.Time{}
	}

	type attempt struct {
		key   doorKey
		state types.DoorState
	}
	due := make([]attempt, 0)
	for k, entry := range h.pending {
		if now.Sub(entry.LastAttempt) > overrideRetryInterval {
			due = append(due, attempt{key: k, state: entry.State})
			entry.LastAttempt = now
		}
	}
	h.mu.Unlock()

	for _, a := range due {
		line := commproto.FormatOverride(h.workstation, a.key.LocationID, a.key.DoorNumber, a.state)
		if err := h.comm.Send(line); err != nil {
			log.Warn("door-override controller: send override", "location", a.key.LocationID, "door", a.key.DoorNumber, "error", err)
		}
	}
}
