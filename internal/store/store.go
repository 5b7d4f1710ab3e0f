// ============================================================================
// cardbus ACS / log store sessions
// ============================================================================
//
// Package: internal/store
// File: store.go
// Function: The opaque session interface (§6) reference workers query
// against: Execute for statements returning rows, Scalar for single-value
// aggregates. Two concrete sessions exist — one bound to the ACS/config
// database, one bound to the event-log database — both implemented by the
// same sqlite-backed Session in sqlite.go.
//
// ============================================================================

package store

import "context"

// Row is a single result row addressed by column name, matching how every
// reference worker in §4.6 reads query results (name/card-number/timestamp
// lookups, never positional scanning).
type Row map[string]any

// Session is the opaque store contract named in §6: Execute runs a
// statement and returns its result rows, Scalar runs a statement expected to
// produce exactly one value.
type Session interface {
	Execute(ctx context.Context, stmt string, args ...any) ([]Row, error)
	Scalar(ctx context.Context, stmt string, args ...any) (any, error)
	Close() error
}
