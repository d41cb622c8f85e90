package source

import (
	"context"

	"github.com/fxintel/collector/internal/costguard"
)

// Adapter is implemented once per external source. Adapters know how to
// enumerate candidate work and turn raw payloads into normalized batches;
// everything else (politeness, retries, budgets, dedup, watermarks, export)
// belongs to the framework. Adapters must never sleep or retry on their own,
// and Fetch must be idempotent.
type Adapter interface {
	// ID returns the stable source identifier used in file names and the
	// mandatory `source` tag on every record.
	ID() string

	// Capabilities declares incremental support and concurrency tolerance.
	Capabilities() Capabilities

	// EnumerateUnits expands the requested range into a finite unit list.
	// Incremental adapters receive the range already narrowed by the
	// orchestrator from the stored watermark.
	EnumerateUnits(ctx context.Context, r Range) ([]CollectionUnit, error)

	// Fetch performs the network call for one unit. Wrapped by the
	// resilience engine; must be side-effect-free and safe to re-invoke.
	Fetch(ctx context.Context, unit CollectionUnit) (*RawPayload, error)

	// Normalize is a pure transform from raw payload to batches. No I/O.
	// Rows failing numeric coercion are dropped with a warning, not
	// propagated as failures.
	Normalize(payload *RawPayload) ([]*Batch, error)

	// HealthCheck verifies the source is reachable before a run starts.
	HealthCheck(ctx context.Context) bool
}

// Estimator is implemented by adapters backed by metered query services.
// The orchestrator calls Estimate before Fetch and aborts the unit with
// E_COST_EXCEEDED when the estimate exceeds the configured budget.
type Estimator interface {
	Estimate(ctx context.Context, unit CollectionUnit) (costguard.Estimate, error)
}
