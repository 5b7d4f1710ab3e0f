// ============================================================================
// cardbus File-Watcher Worker
// ============================================================================
//
// Package: internal/filewatcher
// File: filewatcher.go
// Function: Watches a fixed set of absolute file paths for modification and
// emits one caller-supplied event per watched path when it changes (§4.3).
// A path cannot be watched directly on every platform (editors/writers
// rename-swap on save), so this watches the distinct set of parent
// directories instead and filters events against the registered path set at
// dispatch time.
//
// ============================================================================

package filewatcher

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chuliyu/cardbus/internal/workerbase"
	"github.com/chuliyu/cardbus/pkg/types"
)

var log = slog.Default()

// Watched pairs an absolute file path with the event raised when that file
// is modified.
type Watched struct {
	Path  string
	Event types.Event
}

// Worker is the FileWatcher specialisation: it owns a workerbase.Base,
// watching parent directories and forwarding filtered modify events into its
// own outbound queue for a monitor to pick up (§4.3/§4.4).
type Worker struct {
	*workerbase.Base

	watcher *fsnotify.Watcher
	byPath  map[string]types.Event
}

// New constructs a FileWatcher over the given watched paths. Paths must be
// absolute; duplicate parent directories are deduplicated automatically.
func New(name string, watched []Watched) (*Worker, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	byPath := make(map[string]types.Event, len(watched))
	dirs := make(map[string]struct{})
	for _, wp := range watched {
		abs := filepath.Clean(wp.Path)
		byPath[abs] = wp.Event
		dirs[filepath.Dir(abs)] = struct{}{}
	}

	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	w := &Worker{watcher: fsw, byPath: byPath}
	w.Base = workerbase.NewBase(name, func() {
		_ = fsw.Close()
	})
	return w, nil
}

// Start launches the observer loop. Idempotent (delegated to Base).
func (w *Worker) Start() {
	w.Base.Start(w.run)
}

// Stop is the external-caller path: it never sets selfStop, so a call from
// outside this worker's own goroutine always joins and waits for the
// observer to quiesce, surfacing ErrWorkerTimedOut past timeout (§4.3).
func (w *Worker) Stop(timeout time.Duration) error {
	return w.Base.Stop(timeout, false)
}

// run selects over fsnotify's Events/Errors channels and this worker's own
// stop signal, forwarding a filtered, dispatch-ready event onto Emit for
// every registered path that gets written.
func (w *Worker) run() {
	for {
		select {
		case <-w.StopChan():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.dispatch(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("file watcher observer error", "worker", w.Name(), "error", err)
		}
	}
}

// dispatch filters a raw fsnotify event against the registered absolute
// path set and forwards only Write/Create operations on a watched path — a
// Rename's destination path arrives as a subsequent Create, so it is
// already covered without special-casing Rename itself.
func (w *Worker) dispatch(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	abs := filepath.Clean(ev.Name)
	e, ok := w.byPath[abs]
	if !ok {
		return
	}
	w.Emit(e)
}
