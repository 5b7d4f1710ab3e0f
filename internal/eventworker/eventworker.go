// ============================================================================
// cardbus Event Worker
// ============================================================================
//
// Package: internal/eventworker
// File: eventworker.go
// Function: Specialisation of the lifecycle harness that cooperatively
// polls its inbound queue, invokes Handler.HandleEvent, the pre/post hooks,
// and timed callbacks (§4.2).
//
// ============================================================================

package eventworker

import (
	"log/slog"
	"time"

	"github.com/chuliyu/cardbus/internal/workerbase"
	"github.com/chuliyu/cardbus/pkg/types"
)

var log = slog.Default()

// Handler is implemented by the domain logic a Worker wraps. Every hook is
// optional in spirit — embed NoopHooks to get no-op defaults for the ones
// a given worker doesn't need.
type Handler interface {
	// ConsumedEvents declares the event variants this worker subscribes
	// to (§4.4). Returning the open set is only valid for the loop
	// itself.
	ConsumedEvents() []types.EventType
	HandleEvent(e types.Event)
	PreEvent()
	PostEvent()
	PreRun()
	PostRun()
}

// NoopHooks supplies empty PreEvent/PostEvent/PreRun/PostRun so concrete
// handlers only implement the hooks they actually need.
type NoopHooks struct{}

func (NoopHooks) PreEvent() {}
func (NoopHooks) PostEvent() {}
func (NoopHooks) PreRun()   {}
func (NoopHooks) PostRun()  {}

// Metrics is the narrow observability hook a Worker reports through, kept
// as a local interface so this package never imports internal/metrics
// directly.
type Metrics interface {
	RecordHandled(worker string)
	RecordHandlerPanic(worker string)
}

// Worker is the EventWorker specialisation: it owns a workerbase.Base and
// drives Handler through the cooperative loop described in §4.2.
type Worker struct {
	*workerbase.Base
	handler Handler
	metrics Metrics
}

// SetMetrics attaches an observability sink. Optional; a nil Metrics (the
// default) simply skips recording.
func (w *Worker) SetMetrics(m Metrics) { w.metrics = m }

// New constructs an EventWorker wrapping handler. cleanup is the harness's
// post-stop hook (§4.1); pass nil if the handler needs none.
func New(name string, handler Handler, cleanup func()) *Worker {
	w := &Worker{handler: handler}
	w.Base = workerbase.NewBase(name, cleanup)
	return w
}

// Start launches the cooperative run loop. Idempotent (delegated to Base).
func (w *Worker) Start() {
	w.Base.Start(w.run)
}

// Stop is the external-caller path: it never sets selfStop, so a call from
// outside this worker's own run loop always joins.
func (w *Worker) Stop(timeout time.Duration) error {
	return w.Base.Stop(timeout, false)
}

// SelfStop is used internally (e.g. by the loop's handling of
// ApplicationRestartNeeded, §4.5 step 1) when the call originates from
// inside the worker's own run loop and must not join itself.
func (w *Worker) SelfStop() {
	_ = w.Base.Stop(0, true)
}

// ConsumedEvents returns the declared event-type subscription set, used by
// the loop at registration time to build the Event Bus (§4.4).
func (w *Worker) ConsumedEvents() []types.EventType {
	return w.handler.ConsumedEvents()
}

// run is the cooperative main loop (§4.2):
//  1. non-blocking inbound check, else wait <=1s on wake then clear it
//  2. run due periodic callbacks
//  3. PreEvent
//  4. non-blocking inbound receive -> HandleEvent, a panic recovered and logged
//  5. stop && nothing-received this iteration -> break
//  6. PostEvent
func (w *Worker) run() {
	w.handler.PreRun()
	defer w.handler.PostRun()

	for {
		if len(w.Inbound()) == 0 {
			select {
			case <-w.WakeChan():
			case <-time.After(1 * time.Second):
			}
		}

		now := time.Now()
		for _, cb := range w.Callbacks() {
			if cb.Period <= 0 {
				continue
			}
			if cb.Due(now) {
				cb.Advance(now)
			}
		}

		w.handler.PreEvent()

		received := w.pollOnce()

		if w.Stopped() && !received {
			return
		}

		w.handler.PostEvent()
	}
}

// pollOnce attempts a single non-blocking inbound receive and, if an item
// was present, dispatches it to HandleEvent. A panic in HandleEvent is
// recovered and logged (§7 "Plugin exception" / "errors inside
// handleEvent"), so the loop goes on with the next event; no per-event
// completion is tracked.
func (w *Worker) pollOnce() (received bool) {
	select {
	case e, ok := <-w.Inbound():
		if !ok {
			return false
		}
		received = true
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("event handler panicked", "worker", w.Name(), "event", e.Type(), "panic", r)
					if w.metrics != nil {
						w.metrics.RecordHandlerPanic(w.Name())
					}
				}
			}()
			w.handler.HandleEvent(e)
			if w.metrics != nil {
				w.metrics.RecordHandled(w.Name())
			}
		}()
	default:
	}
	return received
}
