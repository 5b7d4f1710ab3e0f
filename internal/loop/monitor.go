package loop

import (
	"time"

	"github.com/chuliyu/cardbus/internal/eventworker"
	"github.com/chuliyu/cardbus/pkg/types"
)

// monitorPollTimeout bounds how long a monitor blocks on a worker's
// outbound queue before re-checking its own stop signal (§5 "outbound 1s
// poll (monitor)").
const monitorPollTimeout = 1 * time.Second

// monitor forwards one worker's outbound queue into the loop's own inbound
// queue (§4.4). Every worker added to the loop gets exactly one monitor,
// whether or not it is itself a Subscriber.
type monitor struct {
	worker Worker
	loop   *eventworker.Worker

	stop chan struct{}
	done chan struct{}
}

func newMonitor(w Worker, loop *eventworker.Worker) *monitor {
	return &monitor{
		worker: w,
		loop:   loop,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (m *monitor) start() {
	m.worker.Start()
	go m.run()
}

func (m *monitor) run() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case e, ok := <-m.worker.Outbound():
			if !ok {
				return
			}
			m.forward(e)
		case <-time.After(monitorPollTimeout):
		}
	}
}

// forward delivers e to the loop. A forwarded event never originates
// dispatch back into its own producer within the same call — the loop's
// dispatch (§4.5) only ever enqueues into declared subscribers, and a
// worker forwarding its own outbound is never implicitly a subscriber of
// itself unless it declared its own event type, which would be a
// configuration error, not something the monitor needs to guard against.
func (m *monitor) forward(e types.Event) {
	m.loop.Event(e)
}

// stop signals the monitor to exit and stops the underlying worker with the
// given timeout. The monitor goroutine itself is not joined here beyond its
// own stop channel close; callers that need full quiescence wait on the
// worker's Stop return, which already blocks for timeout.
func (m *monitor) stop(timeout time.Duration) error {
	close(m.stop)
	return m.worker.Stop(timeout)
}
