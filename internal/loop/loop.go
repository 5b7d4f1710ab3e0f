// ============================================================================
// cardbus Event Loop
// ============================================================================
//
// Package: internal/loop
// File: loop.go
// Function: The Event Bus (subscription table) and Event Loop dispatch
// (§4.4/§4.5). The loop is itself an EventWorker over the open type Event:
// it owns no domain logic, only routes.
//
// ============================================================================

package loop

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chuliyu/cardbus/internal/eventworker"
	"github.com/chuliyu/cardbus/pkg/types"
)

var log = slog.Default()

// monitorStopTimeout bounds how long a monitor will wait for its worker to
// quiesce during teardown (§4.5).
const monitorStopTimeout = 30 * time.Second

// Worker is the minimal surface every fleet member must expose to be added
// to the loop: start, stop, and an outbound queue a monitor can forward.
type Worker interface {
	Name() string
	Start()
	Stop(timeout time.Duration) error
	Outbound() <-chan types.Event
}

// Subscriber is additionally implemented by EventWorkers: it declares the
// event types it wants routed to it and accepts delivery via Event.
type Subscriber interface {
	Worker
	ConsumedEvents() []types.EventType
	Event(e types.Event)
}

// Metrics is the narrow observability hook the dispatcher reports routing
// decisions through.
type Metrics interface {
	RecordDispatched()
	RecordDiscarded()
}

// Loop is the event bus + dispatcher. It is itself driven by an
// eventworker.Worker wrapping dispatcher, so its own main loop, hooks, and
// stop semantics are identical to any other EventWorker (§4.5).
type Loop struct {
	ew *eventworker.Worker

	mu            sync.RWMutex
	subscriptions map[types.EventType][]Subscriber
	monitors      []*monitor
	metrics       Metrics
}

// SetMetrics attaches an observability sink for dispatch decisions.
func (l *Loop) SetMetrics(m Metrics) { l.metrics = m }

// New constructs an empty Loop. Call Add to register workers, then Start.
func New(name string) *Loop {
	l := &Loop{
		subscriptions: make(map[types.EventType][]Subscriber),
	}
	l.ew = eventworker.New(name, &dispatcher{loop: l}, l.teardownMonitors)
	return l
}

// Add registers workers with the loop (§4.4): for each Subscriber, flattens
// its declared consumed-type set and appends it to subscriptions[V] in
// registration order; wraps every worker — Subscriber or not — in a monitor
// goroutine forwarding outbound into the loop's own inbound. Add starts
// nothing: Start starts every monitor and its worker, so a worker added
// after Start is never started.
//
// Add must be called before Start; the subscription table is read-only
// once the loop is running (§5).
func (l *Loop) Add(workers ...Worker) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, w := range workers {
		if sub, ok := w.(Subscriber); ok {
			for _, et := range sub.ConsumedEvents() {
				l.subscriptions[et] = append(l.subscriptions[et], sub)
			}
		}
		m := newMonitor(w, l.ew)
		l.monitors = append(l.monitors, m)
	}
}

// Start launches the loop's own dispatch goroutine and every registered
// monitor (which in turn starts its worker).
func (l *Loop) Start() {
	l.ew.Start()
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.monitors {
		m.start()
	}
}

// Stop tears the loop down: stops the dispatcher itself, whose cleanup hook
// then concurrently stops every monitor (each of which stops its own worker
// with a 30s timeout), per §4.5's teardown choreography. Individual worker
// timeouts are logged but never abort the rest of the teardown (§7).
func (l *Loop) Stop(timeout time.Duration) error {
	return l.ew.Stop(timeout)
}

// teardownMonitors stops every registered monitor concurrently. It is the
// cleanup hook passed to the loop's own Base, so Base.runOnce runs it once,
// whether the loop stops itself (ApplicationRestartNeeded) or is stopped
// through Stop.
func (l *Loop) teardownMonitors() {
	l.mu.RLock()
	monitors := make([]*monitor, len(l.monitors))
	copy(monitors, l.monitors)
	l.mu.RUnlock()

	var wg sync.WaitGroup
	for _, m := range monitors {
		wg.Add(1)
		go func(m *monitor) {
			defer wg.Done()
			if err := m.stop(monitorStopTimeout); err != nil {
				log.Warn("worker stop timed out during teardown", "worker", m.worker.Name(), "error", err)
			}
		}(m)
	}
	wg.Wait()
}

// Event injects e directly into the loop's own inbound queue, used by
// components that don't go through a monitor (e.g. the plugin update
// bridge publishing AccessCardUpdated/LocCardUpdated straight to the bus).
func (l *Loop) Event(e types.Event) {
	l.ew.Event(e)
}

// dispatcher implements eventworker.Handler for the loop itself (§4.5).
type dispatcher struct {
	eventworker.NoopHooks
	loop *Loop
}

// ConsumedEvents returns nil: the loop is the open-set consumer, not a
// registered subscriber of itself.
func (d *dispatcher) ConsumedEvents() []types.EventType { return nil }

func (d *dispatcher) HandleEvent(e types.Event) {
	if e.Type() == types.EventApplicationRestartNeeded {
		d.loop.ew.SelfStop()
		return
	}

	d.loop.mu.RLock()
	subs := d.loop.subscriptions[e.Type()]
	d.loop.mu.RUnlock()

	if d.loop.metrics != nil {
		if len(subs) == 0 {
			d.loop.metrics.RecordDiscarded()
		} else {
			d.loop.metrics.RecordDispatched()
		}
	}

	for _, s := range subs {
		s.Event(e)
	}
}
