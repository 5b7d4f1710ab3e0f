// ============================================================================
// cardbus reference worker: hardware-reset sentinel
// ============================================================================
//
// Package: internal/refworkers
// File: hwresetsentinel.go
// Function: EventWorker<AcsDatabaseUpdated> plus a 1-minute periodic
// callback (§4.6). Tracks, per location, when its card download first
// became pending; a location stuck pending for more than 3 minutes, once
// past the single backoff deadline shared by all locations, triggers a
// comm-server restart request and a signed hardware reset, then backs off
// for another 10 minutes.
//
// ============================================================================

package refworkers

import (
	"context"
	"sync"
	"time"

	"github.com/chuliyu/cardbus/internal/eventworker"
	"github.com/chuliyu/cardbus/internal/resetclient"
	"github.com/chuliyu/cardbus/internal/store"
	"github.com/chuliyu/cardbus/pkg/types"
)

// stuckDownloadThreshold is how long a location may sit pending before it
// becomes reset-eligible (§4.6 "older than 3 minutes").
const stuckDownloadThreshold = 3 * time.Minute

// resetBackoff is the minimum spacing between two sweeps that trigger a
// reset, shared across every location (§4.6 "the global next allowed reset
// time") — a batch of locations going stuck in the same sweep can all reset
// together, but no further reset of any location is allowed until the
// backoff elapses.
const resetBackoff = 10 * time.Minute

// sentinelSweepInterval is the periodic callback period (§4.6 "1-minute
// periodic callback").
const sentinelSweepInterval = 1 * time.Minute

// HardwareResetHandler implements eventworker.Handler for the
// hardware-reset sentinel.
type HardwareResetHandler struct {
	eventworker.NoopHooks

	acsStore store.Session
	reset    *resetclient.Client
	worker   *eventworker.Worker

	mu               sync.Mutex
	downloadStart    map[int]time.Time
	nextAllowedReset time.Time // zero value: no cooldown in effect yet
}

// NewHardwareResetWorker constructs the hardware-reset sentinel.
func NewHardwareResetWorker(acsStore store.Session, reset *resetclient.Client) *eventworker.Worker {
	h := &HardwareResetHandler{
		acsStore:      acsStore,
		reset:         reset,
		downloadStart: make(map[int]time.Time),
	}
	w := eventworker.New("hardware-reset-sentinel", h, nil)
	w.AddCallback(h.sweep, sentinelSweepInterval)
	h.worker = w
	return w
}

func (h *HardwareResetHandler) ConsumedEvents() []types.EventType {
	return []types.EventType{types.EventAcsDatabaseUpdated}
}

// HandleEvent refreshes which locations currently have an undownloaded
// loc_cards row on AcsDatabaseUpdated; sweep re-runs the same refresh on its
// own 1-minute tick so a change landing between two AcsDatabaseUpdated
// events is never missed (§4.6 "refreshed on AcsDatabaseUpdated or on
// tick").
func (h *HardwareResetHandler) HandleEvent(e types.Event) {
	if _, ok := e.(types.AcsDatabaseUpdated); !ok {
		return
	}
	h.refreshPending()
}

// refreshPending re-queries the ACS store for locations with an
// undownloaded loc_cards row: a location entering that set starts its
// clock, a location leaving it (fully downloaded) clears its bookkeeping.
func (h *HardwareResetHandler) refreshPending() {
	rows, err := h.acsStore.Execute(context.Background(),
		`SELECT DISTINCT location_id FROM loc_cards WHERE downloaded = 0`)
	if err != nil {
		log.Warn("hardware-reset sentinel: query pending locations", "error", err)
		return
	}

	pending := make(map[int]struct{}, len(rows))
	for _, row := range rows {
		if v, ok := row["location_id"].(int64); ok {
			pending[int(v)] = struct{}{}
		}
	}

	now := time.Now()
	h.mu.Lock()
	for loc := range pending {
		if _, tracked := h.downloadStart[loc]; !tracked {
			h.downloadStart[loc] = now
		}
	}
	for loc := range h.downloadStart {
		if _, stillPending := pending[loc]; !stillPending {
			delete(h.downloadStart, loc)
		}
	}
	h.mu.Unlock()
}

// sweep is the 1-minute periodic callback: it first re-syncs the pending
// set from the store, then — if the single global backoff deadline has
// passed — fires a restart request and a signed reset for every location
// stuck past stuckDownloadThreshold, and arms that one shared deadline for
// resetBackoff. A location going stuck mid-cooldown must wait for the same
// global deadline as every other location, not one of its own (§4.6 "the
// global next allowed reset time").
func (h *HardwareResetHandler) sweep() {
	h.refreshPending()

	now := time.Now()

	h.mu.Lock()
	var due []int
	if !now.Before(h.nextAllowedReset) {
		for loc, start := range h.downloadStart {
			if now.Sub(start) > stuckDownloadThreshold {
				due = append(due, loc)
			}
		}
		if len(due) > 0 {
			h.nextAllowedReset = now.Add(resetBackoff)
		}
	}
	h.mu.Unlock()

	for _, loc := range due {
		h.worker.Emit(types.CommServerRestartRequested{})
		if err := h.reset.Reset(context.Background(), loc); err != nil {
			log.Error("hardware-reset sentinel: signed reset failed", "location", loc, "error", err)
		}
	}
}
