// Package state persists the only data that survives across runs: per
// (source, dataset) watermarks. Watermarks are opaque cursors compared
// lexicographically, which orders correctly for the RFC-3339 and YYYY-MM-DD
// cursors every adapter uses.
package state

import (
	"context"
)

// Store defines watermark persistence operations.
type Store interface {
	// GetWatermark returns the stored cursor for a (source, dataset) pair.
	// The second return is false when no watermark exists yet.
	GetWatermark(ctx context.Context, source, dataset string) (string, bool, error)

	// AdvanceWatermark moves the cursor forward. Monotonic: advancing to a
	// cursor older than or equal to the stored one is a no-op, which keeps
	// out-of-order completions from rewinding progress. Callers only invoke
	// this after the corresponding batch is durably exported.
	AdvanceWatermark(ctx context.Context, source, dataset, cursor string) error

	// Flush persists any buffered state.
	Flush(ctx context.Context) error

	Close() error
}
