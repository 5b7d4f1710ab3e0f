// ============================================================================
// cardbus reference worker: DB-file watcher
// ============================================================================
//
// Package: internal/refworkers
// File: dbwatcher.go
// Function: Wraps filewatcher.Worker for the two store files named in §4.6 —
// the ACS database and the log database — emitting AcsDatabaseUpdated /
// LogDatabaseUpdated whenever the corresponding file is modified.
//
// ============================================================================

package refworkers

import (
	"github.com/chuliyu/cardbus/internal/filewatcher"
	"github.com/chuliyu/cardbus/pkg/types"
)

// NewDBWatcher constructs the DB-file watcher over the ACS and log store
// paths. It is not itself a Subscriber — the loop only wraps it in a
// monitor that forwards its outbound queue.
func NewDBWatcher(acsPath, logPath string) (*filewatcher.Worker, error) {
	return filewatcher.New("db-watcher", []filewatcher.Watched{
		{Path: acsPath, Event: types.AcsDatabaseUpdated{}},
		{Path: logPath, Event: types.LogDatabaseUpdated{}},
	})
}
