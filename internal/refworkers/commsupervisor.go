// ============================================================================
// cardbus reference worker: comm-server supervisor
// ============================================================================
//
// Package: internal/refworkers
// File: commsupervisor.go
// Function: EventWorker<CommServerRestartRequested> (§4.6). Verifies the
// vendor comm-server process is alive on entry and on a 1-minute self-poll,
// restarting it if not; on an explicit restart request, kills the process
// (if present) then starts it unconditionally.
//
// ============================================================================

package refworkers

import (
	"time"

	"github.com/chuliyu/cardbus/internal/eventworker"
	"github.com/chuliyu/cardbus/pkg/types"
)

// commSupervisorPollInterval is the self-poll period (§4.6 "1-minute
// self-poll").
const commSupervisorPollInterval = 1 * time.Minute

// CommSupervisorHandler implements eventworker.Handler for the comm-server
// supervisor.
type CommSupervisorHandler struct {
	process VendorProcess
}

// NewCommSupervisorWorker constructs the comm-server supervisor over
// process.
func NewCommSupervisorWorker(process VendorProcess) *eventworker.Worker {
	h := &CommSupervisorHandler{process: process}
	w := eventworker.New("comm-server-supervisor", h, nil)
	w.AddCallback(h.poll, commSupervisorPollInterval)
	return w
}

func (h *CommSupervisorHandler) ConsumedEvents() []types.EventType {
	return []types.EventType{types.EventCommServerRestartNeeded}
}

func (h *CommSupervisorHandler) HandleEvent(e types.Event) {
	if _, ok := e.(types.CommServerRestartRequested); !ok {
		return
	}
	if h.process.Alive() {
		if err := h.process.Stop(); err != nil {
			log.Warn("comm-server supervisor: stop before restart", "error", err)
		}
	}
	if err := h.process.Start(); err != nil {
		log.Error("comm-server supervisor: restart failed", "error", err)
	}
}

// PreRun verifies the process is alive when the worker starts, matching
// the entry check in §4.6.
func (h *CommSupervisorHandler) PreRun() {
	h.ensureAlive()
}

func (h *CommSupervisorHandler) PostRun() {}
func (h *CommSupervisorHandler) PreEvent() {}
func (h *CommSupervisorHandler) PostEvent() {}

// poll is the 1-minute self-poll: restart if the process died on its own.
func (h *CommSupervisorHandler) poll() {
	h.ensureAlive()
}

func (h *CommSupervisorHandler) ensureAlive() {
	if h.process.Alive() {
		return
	}
	if err := h.process.Start(); err != nil {
		log.Error("comm-server supervisor: start failed", "error", err)
	}
}
