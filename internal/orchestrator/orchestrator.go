// Package orchestrator drives collection runs: it walks each configured
// source through its lifecycle, shields the run from individual unit
// failures, and only moves watermarks once exports are durable.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/fxintel/collector/internal/config"
	"github.com/fxintel/collector/internal/dedup"
	"github.com/fxintel/collector/internal/export"
	"github.com/fxintel/collector/internal/ratelimit"
	"github.com/fxintel/collector/internal/resilience"
	"github.com/fxintel/collector/internal/source"
	"github.com/fxintel/collector/internal/state"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Orchestrator owns the shared machinery of a run: the rate governor, the
// resilience engine, the dedup seen-set, the watermark store and the sinks.
type Orchestrator struct {
	cfg      *config.Config
	registry *source.Registry
	governor *ratelimit.Governor
	engine   *resilience.Engine
	store    state.Store
	dedup    *dedup.Deduplicator
	sinks    []export.Sink
	log      *zap.SugaredLogger
}

// Options collects the orchestrator's collaborators. Registry defaults to
// the package-level adapter registry when nil.
type Options struct {
	Cfg      *config.Config
	Registry *source.Registry
	Store    state.Store
	Sinks    []export.Sink
	Log      *zap.SugaredLogger
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Cfg == nil {
		return nil, fmt.Errorf("orchestrator: config is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("orchestrator: state store is required")
	}
	if len(opts.Sinks) == 0 {
		return nil, fmt.Errorf("orchestrator: at least one sink is required")
	}
	log := opts.Log
	if log == nil {
		log = config.NopLogger()
	}
	registry := opts.Registry
	if registry == nil {
		registry = source.DefaultRegistry()
	}

	governor := ratelimit.NewGovernor()
	for id := range opts.Cfg.Sources {
		sc := opts.Cfg.Source(id)
		governor.SetSource(id, ratelimit.SourceLimit{
			MinInterval: sc.MinDelay,
			JitterMin:   sc.JitterMin,
			JitterMax:   sc.JitterMax,
		})
	}

	d := dedup.New()
	if err := dedup.LoadFromBronze(opts.Cfg.OutputDir, d, log); err != nil {
		return nil, fmt.Errorf("orchestrator: seeding dedup state: %w", err)
	}

	return &Orchestrator{
		cfg:      opts.Cfg,
		registry: registry,
		governor: governor,
		engine:   resilience.NewEngine(governor, log),
		store:    opts.Store,
		dedup:    d,
		sinks:    opts.Sinks,
		log:      log,
	}, nil
}

// Run collects the named sources over the given range and returns the run
// manifest. Source failures are isolated: the run only errors to the caller
// when no source produced anything, and even then the manifest comes back
// alongside the error so the failure can be inspected.
func (o *Orchestrator) Run(ctx context.Context, sourceIDs []string, rng source.Range) (*Manifest, error) {
	if len(sourceIDs) == 0 {
		sourceIDs = o.registry.List()
	}
	if len(sourceIDs) == 0 {
		return nil, fmt.Errorf("orchestrator: no sources registered")
	}

	if o.cfg.RunDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunDeadline)
		defer cancel()
	}

	m := &Manifest{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	o.log.Infow("run started", "run", m.RunID, "sources", sourceIDs,
		"start", rng.Start.Format("2006-01-02"), "end", rng.End.Format("2006-01-02"))

	for _, id := range sourceIDs {
		report := o.runSource(ctx, m.RunID, id, rng)
		m.Sources = append(m.Sources, report)
		if err := ctx.Err(); err != nil {
			o.log.Warnw("run deadline reached, stopping", "run", m.RunID, "after", id)
			break
		}
	}

	if err := o.store.Flush(context.WithoutCancel(ctx)); err != nil {
		o.log.Errorw("state flush failed", "run", m.RunID, "error", err)
	}

	m.FinishedAt = time.Now().UTC()
	m.finalize()
	o.log.Infow("run finished", "run", m.RunID, "status", m.Status,
		"duration", m.FinishedAt.Sub(m.StartedAt).Round(time.Millisecond))
	if m.Status == StatusFailed {
		return m, resilience.SourceUnavailable(fmt.Errorf("run %s: no source produced data", m.RunID))
	}
	return m, nil
}

func (o *Orchestrator) runSource(ctx context.Context, runID, id string, rng source.Range) SourceReport {
	sc := o.cfg.Source(id)
	adapter, err := o.registry.Create(id, source.FactoryOpts{
		Cfg:       sc,
		Log:       o.log,
		Watermark: o.watermarkLookup(id),
	})
	if err != nil {
		return SourceReport{SourceID: id, Status: StatusSkipped, Error: err.Error()}
	}

	runner := &sourceRunner{
		adapter: adapter,
		cfg:     sc,
		engine:  o.engine,
		store:   o.store,
		dedup:   o.dedup,
		sinks:   o.sinks,
		log:     o.log,
	}
	return runner.run(ctx, runID, rng)
}

func (o *Orchestrator) watermarkLookup(sourceID string) source.WatermarkLookup {
	return func(ctx context.Context, dataset string) (string, bool) {
		wm, ok, err := o.store.GetWatermark(ctx, sourceID, dataset)
		if err != nil {
			o.log.Warnw("watermark lookup failed", "source", sourceID, "dataset", dataset, "error", err)
			return "", false
		}
		return wm, ok
	}
}

// HealthCheck probes every requested source without collecting anything.
func (o *Orchestrator) HealthCheck(ctx context.Context, sourceIDs []string) map[string]bool {
	if len(sourceIDs) == 0 {
		sourceIDs = o.registry.List()
	}
	out := make(map[string]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		adapter, err := o.registry.Create(id, source.FactoryOpts{Cfg: o.cfg.Source(id), Log: o.log})
		if err != nil {
			out[id] = false
			continue
		}
		out[id] = adapter.HealthCheck(ctx)
	}
	return out
}
