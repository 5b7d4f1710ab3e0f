// ============================================================================
// cardbus Worker Lifecycle Harness
// ============================================================================
//
// Package: internal/workerbase
// File: base.go
// Function: Common behaviour shared by every worker in the fleet — outbound
// queue, inbound queue, wake/stop signals, start/stop, the periodic-callback
// table, and the "wait for inbound drained" test hook.
//
// Every concrete worker (EventWorker, FileWatcher, the loop itself) embeds
// Base rather than reimplementing lifecycle bookkeeping. Base owns no
// domain logic; the run loop is the runFunc the embedder passes to Start.
//
// ============================================================================

package workerbase

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chuliyu/cardbus/pkg/types"
)

var log = slog.Default()

// ErrWorkerTimedOut is raised by Stop when the worker did not quiesce
// within the requested timeout. Cleanup has already run by the time this
// is returned.
var ErrWorkerTimedOut = errors.New("worker: stop timed out")

// state is the worker lifecycle state machine (§3): transitions are
// one-way, Unstarted->Running may be suppressed (idempotent Start/Stop).
type state int32

const (
	stateUnstarted state = iota
	stateRunning
	stateStopping
	stateStopped
)

// Callback is a periodic callback record (§3): owned by exactly one
// worker, never shared.
type Callback struct {
	Fn        func()
	Period    time.Duration
	nextDueAt time.Time
	started   bool
}

// Due reports whether this callback's nextDueAt has arrived. The first
// call always fires (nextDueAt starts unset), establishing the baseline
// the run loop then advances by Period each time (§8 "periodic callback
// due-time monotonicity").
func (c *Callback) Due(now time.Time) bool {
	if !c.started {
		return true
	}
	return !now.Before(c.nextDueAt)
}

// Advance runs the callback and sets nextDueAt = now + Period.
func (c *Callback) Advance(now time.Time) {
	c.Fn()
	c.started = true
	c.nextDueAt = now.Add(c.Period)
}

// Base is embedded by every worker kind. It is not itself an EventWorker —
// the runFunc passed to Start supplies the actual cooperative loop; Base only manages the
// shared plumbing around it.
type Base struct {
	name string

	inbound  chan types.Event
	outbound chan types.Event

	wake chan struct{}
	stop chan struct{}

	state     atomic.Int32
	runWg     sync.WaitGroup
	drainedMu sync.Mutex

	callbacks []*Callback

	cleanup func()
}

// NewBase constructs a harness whose inbound and outbound queues are
// channels buffered to 4096 events. cleanup runs once, on the first Stop
// that takes effect: after the run loop has returned, or when the timeout
// expires if it has not.
func NewBase(name string, cleanup func()) *Base {
	if cleanup == nil {
		cleanup = func() {}
	}
	return &Base{
		name:     name,
		inbound:  make(chan types.Event, 4096),
		outbound: make(chan types.Event, 4096),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		cleanup:  cleanup,
	}
}

// Name returns the worker's diagnostic name.
func (b *Base) Name() string { return b.name }

// Outbound exposes a receive-only handle to the monitor thread (§4.1).
func (b *Base) Outbound() <-chan types.Event { return b.outbound }

// Inbound is used by EventWorker's run loop; not part of the public
// lifecycle contract.
func (b *Base) Inbound() chan types.Event { return b.inbound }

// Emit enqueues an event onto this worker's outbound queue. Enqueue never
// blocks: when the 4096-event buffer is full, the event is dropped and a
// warning is logged.
func (b *Base) Emit(e types.Event) {
	select {
	case b.outbound <- e:
	default:
		// Buffer full: drop the event rather than block the producer.
		log.Warn("worker outbound buffer full, dropping event", "worker", b.name, "event", e.Type())
	}
}

// Event delivers e into this worker's inbound queue and raises wake. Used
// by the loop's dispatch path and by self-feedback (w.Event(e)). If the
// 4096-event inbound buffer is full, e is dropped and a warning is logged.
func (b *Base) Event(e types.Event) {
	select {
	case b.inbound <- e:
	default:
		log.Warn("worker inbound buffer full, dropping event", "worker", b.name, "event", e.Type())
	}
	b.raiseWake()
}

func (b *Base) raiseWake() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// AddCallback registers a periodic callback. Must be called before Start;
// the callback table is owned by this worker (only its run loop reads
// it).
func (b *Base) AddCallback(fn func(), period time.Duration) {
	b.callbacks = append(b.callbacks, &Callback{Fn: fn, Period: period})
}

// Stopped reports whether stop has been signalled (monotonic, never
// cleared).
func (b *Base) Stopped() bool {
	select {
	case <-b.stop:
		return true
	default:
		return false
	}
}

// StopChan exposes the stop signal for the run loop's select statements.
func (b *Base) StopChan() <-chan struct{} { return b.stop }

// WakeChan exposes the wake signal for the run loop.
func (b *Base) WakeChan() chan struct{} { return b.wake }

// Callbacks returns the periodic-callback table for the run loop to scan.
func (b *Base) Callbacks() []*Callback { return b.callbacks }

// Start is idempotent: if already Running, returns immediately. Otherwise
// transitions Unstarted->Running and launches runFunc in its own
// goroutine.
func (b *Base) Start(runFunc func()) {
	if !b.state.CompareAndSwap(int32(stateUnstarted), int32(stateRunning)) {
		return
	}
	b.runWg.Add(1)
	go func() {
		defer b.runWg.Done()
		runFunc()
	}()
}

// Stop takes an explicit selfStop flag rather than attempting ambient
// goroutine-identity detection (Go has no goroutine-local storage): the
// run loop itself calls Stop(timeout, true) when it decides to unwind
// (e.g. on ApplicationRestartNeeded), and external callers always pass
// false. This keeps the self-stop contract explicit (§9 "Self-stop
// legality") instead of relying on runtime introspection.
//
// Stop is idempotent: if not Running, returns immediately. Otherwise sets
// the stop signal, raises wake, and — unless selfStop is true — waits up
// to timeout for the run loop to return before running cleanup. Cleanup
// always runs, even on timeout; ErrWorkerTimedOut is returned only after
// cleanup completes.
func (b *Base) Stop(timeout time.Duration, selfStop bool) error {
	if !b.state.CompareAndSwap(int32(stateRunning), int32(stateStopping)) {
		return nil
	}
	close(b.stop)
	b.raiseWake()

	if selfStop {
		// The caller IS the run loop's own goroutine: joining here would
		// deadlock (runWg.Wait blocks until this very goroutine returns).
		// Signals are set; the run loop observes stop on its own and
		// returns, then its Start goroutine decrements runWg.
		b.state.Store(int32(stateStopped))
		go func() {
			b.runWg.Wait()
			b.runOnce(b.cleanup)
		}()
		return nil
	}

	done := make(chan struct{})
	go func() {
		b.runWg.Wait()
		close(done)
	}()

	var timedOut bool
	if timeout <= 0 {
		<-done
	} else {
		select {
		case <-done:
		case <-time.After(timeout):
			timedOut = true
		}
	}

	b.state.Store(int32(stateStopped))
	b.runOnce(b.cleanup)

	if timedOut {
		return ErrWorkerTimedOut
	}
	return nil
}

// runOnce guards cleanup against being invoked twice (e.g. a self-stop
// racing an external Stop call).
func (b *Base) runOnce(fn func()) {
	b.drainedMu.Lock()
	defer b.drainedMu.Unlock()
	if fn != nil {
		fn()
		b.cleanup = nil
	}
}

// WaitInboundDrained blocks until the inbound queue is empty or timeout
// elapses. Handles the race where the queue drains between the caller's
// decision to wait and the wait itself by checking length first. An event
// already taken off the queue and still being handled does not count.
func (b *Base) WaitInboundDrained(timeout time.Duration) bool {
	if len(b.inbound) == 0 {
		return true
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		if len(b.inbound) == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return len(b.inbound) == 0
		}
		<-ticker.C
	}
}

// IsRunning reports whether the worker is currently in the Running state.
func (b *Base) IsRunning() bool {
	return state(b.state.Load()) == stateRunning
}
