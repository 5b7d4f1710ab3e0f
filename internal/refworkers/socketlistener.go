// ============================================================================
// cardbus reference worker: comm-server socket listener
// ============================================================================
//
// Package: internal/refworkers
// File: socketlistener.go
// Function: Polls the vendor comm server's event-query command (§6) over a
// fresh connection per poll, and turns every response line into a
// RawCommServerMessage (and, where recognised, a classified
// RawCommServerEvent) on its outbound queue. Pure producer: like
// filewatcher.Worker, it implements only loop.Worker, not
// loop.Subscriber — nothing else feeds it events.
//
// ============================================================================

package refworkers

import (
	"context"
	"time"

	"github.com/chuliyu/cardbus/internal/commproto"
	"github.com/chuliyu/cardbus/internal/workerbase"
	"github.com/chuliyu/cardbus/pkg/types"
)

// socketListenerPollInterval is the steady-state delay between polls once
// the listener has caught up with any backlog (§6).
const socketListenerPollInterval = 500 * time.Millisecond

// socketListenerQueryTimeout bounds a single query round trip so a wedged
// comm server cannot stall the poll loop indefinitely.
const socketListenerQueryTimeout = 5 * time.Second

// eventIndexField is the field carrying a line's own running counter,
// immediately following its message-type tag (§6).
const eventIndexField = 1

// SocketListenerWorker is the SocketListener specialisation: it owns a
// workerbase.Base and repeatedly queries the comm server for outstanding
// event lines, advancing four independent counters the query command keys
// its backlog on.
type SocketListenerWorker struct {
	*workerbase.Base

	comm        *commproto.Client
	workstation int

	a, b, c, d int
}

// NewSocketListenerWorker constructs the socket listener, issuing event
// queries over comm tagged with workstation.
func NewSocketListenerWorker(comm *commproto.Client, workstation int) *SocketListenerWorker {
	w := &SocketListenerWorker{comm: comm, workstation: workstation}
	w.Base = workerbase.NewBase("comm-server-socket-listener", nil)
	return w
}

// Start launches the poll loop. Idempotent (delegated to Base).
func (w *SocketListenerWorker) Start() {
	w.Base.Start(w.run)
}

// Stop is the external-caller path: it never sets selfStop, so a call from
// outside this worker's own goroutine always joins and waits for the poll
// loop to quiesce.
func (w *SocketListenerWorker) Stop(timeout time.Duration) error {
	return w.Base.Stop(timeout, false)
}

// run drains any backlog on entry without enqueuing it, then settles into
// steady-state polling: every line becomes a RawCommServerMessage and, if
// classified, also a RawCommServerEvent (§6, §7 "the socket listener
// advances past it" for any line it cannot classify).
func (w *SocketListenerWorker) run() {
	caughtUp := false
	for {
		if w.Stopped() {
			return
		}

		lines, err := w.poll()
		if err != nil {
			log.Warn("socket listener: poll", "error", err)
			if w.sleep(socketListenerPollInterval) {
				return
			}
			continue
		}

		if !caughtUp {
			if len(lines) == 0 {
				caughtUp = true
			} else {
				w.advance(lines)
				continue // drain backlog with no delay until a poll comes back empty
			}
		} else {
			w.emit(lines)
		}

		if w.sleep(socketListenerPollInterval) {
			return
		}
	}
}

// poll issues one event-query round trip for the current counter values.
func (w *SocketListenerWorker) poll() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), socketListenerQueryTimeout)
	defer cancel()
	line := commproto.FormatEventQuery(w.a, w.b, w.c, w.d)
	return w.comm.Query(ctx, line)
}

// emit parses and advances every line, forwarding both the raw message and
// (when recognised) its classified event onto the outbound queue.
func (w *SocketListenerWorker) emit(lines []string) {
	for _, line := range lines {
		msg, err := commproto.ParseMessage(line)
		if err != nil {
			log.Warn("socket listener: parse", "line", line, "error", err)
			continue
		}
		w.advanceOne(msg)
		w.Emit(types.RawCommServerMessage{Fields: msg.Fields, Text: msg.Text})

		if ev, ok := commproto.ClassifyEvent(msg, time.Now); ok {
			w.Emit(ev)
		}
	}
}

// advance parses and advances every line of a backlog batch without
// emitting anything (§6 catch-up phase).
func (w *SocketListenerWorker) advance(lines []string) {
	for _, line := range lines {
		msg, err := commproto.ParseMessage(line)
		if err != nil {
			log.Warn("socket listener: parse", "line", line, "error", err)
			continue
		}
		w.advanceOne(msg)
	}
}

// advanceOne updates whichever of a/b/c/d this line's event type is keyed
// to (§6): type 1 advances a, type 2 advances b, types 3/4/5 advance c,
// type 8 advances d, type 10 is a no-op heartbeat, and any other type is
// logged and skipped rather than advancing a counter it doesn't own.
func (w *SocketListenerWorker) advanceOne(msg types.RawCommServerMessage) {
	if len(msg.Fields) <= eventIndexField {
		return
	}
	idx := msg.Fields[eventIndexField]
	switch msg.Fields[0] {
	case 1:
		w.a = idx
	case 2:
		w.b = idx
	case 3, 4, 5:
		w.c = idx
	case 8:
		w.d = idx
	case 10:
		// heartbeat line, no counter to advance
	default:
		log.Warn("socket listener: unrecognised event type, skipping", "type", msg.Fields[0])
	}
}

// sleep waits for d or the stop signal, whichever comes first, reporting
// whether the worker should return.
func (w *SocketListenerWorker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.StopChan():
		return true
	case <-timer.C:
		return false
	}
}
