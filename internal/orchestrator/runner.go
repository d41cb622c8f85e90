package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fxintel/collector/internal/config"
	"github.com/fxintel/collector/internal/costguard"
	"github.com/fxintel/collector/internal/dedup"
	"github.com/fxintel/collector/internal/export"
	"github.com/fxintel/collector/internal/resilience"
	"github.com/fxintel/collector/internal/source"
	"github.com/fxintel/collector/internal/state"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Lifecycle states of a single source collection.
const (
	stateIdle          = "idle"
	stateEnumerating   = "enumerating"
	stateFetching      = "fetching"
	stateNormalizing   = "normalizing"
	stateDeduplicating = "deduplicating"
	stateExporting     = "exporting"
	stateFailed        = "failed"
)

func newLifecycle(log *zap.SugaredLogger, sourceID string) *fsm.FSM {
	return fsm.NewFSM(
		stateIdle,
		fsm.Events{
			{Name: "enumerate", Src: []string{stateIdle}, Dst: stateEnumerating},
			{Name: "fetch", Src: []string{stateEnumerating}, Dst: stateFetching},
			{Name: "normalize", Src: []string{stateFetching}, Dst: stateNormalizing},
			{Name: "deduplicate", Src: []string{stateNormalizing}, Dst: stateDeduplicating},
			{Name: "export", Src: []string{stateDeduplicating}, Dst: stateExporting},
			{Name: "finish", Src: []string{stateExporting, stateEnumerating}, Dst: stateIdle},
			{Name: "fail", Src: []string{stateIdle, stateEnumerating, stateFetching, stateNormalizing, stateDeduplicating, stateExporting}, Dst: stateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debugw("lifecycle transition", "source", sourceID, "from", e.Src, "to", e.Dst)
			},
		},
	)
}

// sourceRunner drives one adapter through a full collection cycle.
type sourceRunner struct {
	adapter source.Adapter
	cfg     config.SourceConfig
	engine  *resilience.Engine
	store   state.Store
	dedup   *dedup.Deduplicator
	sinks   []export.Sink
	log     *zap.SugaredLogger
}

type unitOutcome struct {
	result  UnitResult
	batches []*source.Batch
	cursor  string
}

func (r *sourceRunner) run(ctx context.Context, runID string, rng source.Range) SourceReport {
	id := r.adapter.ID()
	report := SourceReport{SourceID: id}
	lc := newLifecycle(r.log, id)

	fail := func(err error) SourceReport {
		_ = lc.Event(ctx, "fail")
		report.Status = StatusFailed
		report.Error = err.Error()
		r.log.Errorw("source collection failed", "source", id, "error", err)
		return report
	}

	if !r.adapter.HealthCheck(ctx) {
		return fail(resilience.SourceUnavailable(fmt.Errorf("%s: health check failed", id)))
	}

	if err := lc.Event(ctx, "enumerate"); err != nil {
		return fail(err)
	}
	units, err := r.enumerate(ctx, rng)
	if err != nil {
		return fail(err)
	}
	if len(units) == 0 {
		_ = lc.Event(ctx, "finish")
		report.Status = StatusSucceeded
		r.log.Infow("nothing to collect", "source", id)
		return report
	}

	if err := lc.Event(ctx, "fetch"); err != nil {
		return fail(err)
	}
	outcomes := r.collectUnits(ctx, units)
	_ = lc.Event(ctx, "normalize")
	_ = lc.Event(ctx, "deduplicate")

	merged, results := r.assemble(outcomes)
	report.Units = results
	for _, ur := range results {
		if ur.ErrorCode == "" {
			report.Succeeded++
			report.Records += ur.Records
		} else {
			report.Failed++
		}
	}

	// A run that produced nothing at all is a total source failure; partial
	// results are still worth exporting.
	if report.Succeeded == 0 {
		return fail(resilience.SourceUnavailable(fmt.Errorf("%s: all %d units failed", id, len(units))))
	}

	if err := lc.Event(ctx, "export"); err != nil {
		return fail(err)
	}
	artifacts, err := r.export(ctx, runID, merged)
	if err != nil {
		return fail(err)
	}
	report.Artifacts = artifacts

	// Watermarks move only after the batches are durable.
	r.reconcileWatermarks(ctx, outcomes)

	_ = lc.Event(ctx, "finish")
	if report.Failed > 0 {
		report.Status = StatusPartial
	} else {
		report.Status = StatusSucceeded
	}
	return report
}

// enumerate narrows the requested range using the stored watermark when the
// adapter collects incrementally. Full-snapshot adapters always get the
// caller's range untouched. Enumeration can hit the network (feed reads),
// so it runs through the same governed retry loop as fetches.
func (r *sourceRunner) enumerate(ctx context.Context, rng source.Range) ([]source.CollectionUnit, error) {
	caps := r.adapter.Capabilities()
	pol := resilience.Policy{MaxAttempts: r.cfg.MaxAttempts, BaseBackoff: r.cfg.BaseBackoff}
	units, err := resilience.Execute(ctx, r.engine, r.adapter.ID(), pol,
		func(ctx context.Context) ([]source.CollectionUnit, error) {
			return r.adapter.EnumerateUnits(ctx, rng)
		})
	if err != nil {
		return nil, err
	}
	if !caps.SupportsIncremental {
		return units, nil
	}

	filtered := units[:0]
	for _, u := range units {
		wm, ok, err := r.store.GetWatermark(ctx, u.SourceID, u.Dataset)
		if err != nil {
			return nil, err
		}
		if ok && u.Cursor != "" && u.Cursor <= wm {
			r.log.Debugw("unit below watermark, skipping", "unit", u.String(), "watermark", wm)
			continue
		}
		filtered = append(filtered, u)
	}
	return filtered, nil
}

// collectUnits fans out the per-unit pipeline with bounded concurrency. A
// unit failure is recorded, never propagated, so one bad day cannot sink the
// rest of the window.
func (r *sourceRunner) collectUnits(ctx context.Context, units []source.CollectionUnit) []unitOutcome {
	concurrency := r.cfg.Concurrency
	if caps := r.adapter.Capabilities(); caps.MaxConcurrency > 0 && (concurrency <= 0 || concurrency > caps.MaxConcurrency) {
		concurrency = caps.MaxConcurrency
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	outcomes := make([]unitOutcome, len(units))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, unit := range units {
		g.Go(func() error {
			out := r.collectOne(gctx, unit)
			mu.Lock()
			outcomes[i] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (r *sourceRunner) collectOne(ctx context.Context, unit source.CollectionUnit) unitOutcome {
	out := unitOutcome{result: UnitResult{Unit: unit}, cursor: unit.Cursor}

	recordErr := func(err error) unitOutcome {
		out.result.ErrorCode = resilience.Code(err)
		out.result.Message = err.Error()
		out.cursor = ""
		r.log.Warnw("unit failed", "unit", unit.String(), "code", out.result.ErrorCode, "error", err)
		return out
	}

	// Pre-execution cost check: estimate first, refuse before spending.
	if est, ok := r.adapter.(source.Estimator); ok {
		estimate, err := est.Estimate(ctx, unit)
		if err != nil {
			return recordErr(err)
		}
		if err := costguard.Guard(estimate, r.cfg.CostLimitBytes); err != nil {
			return recordErr(err)
		}
	}

	pol := resilience.Policy{MaxAttempts: r.cfg.MaxAttempts, BaseBackoff: r.cfg.BaseBackoff}
	payload, err := resilience.Execute(ctx, r.engine, unit.SourceID, pol,
		func(ctx context.Context) (*source.RawPayload, error) {
			return r.adapter.Fetch(ctx, unit)
		})
	if err != nil {
		return recordErr(err)
	}

	batches, err := r.adapter.Normalize(payload)
	if err != nil {
		return recordErr(err)
	}

	for _, b := range batches {
		if b.Kind == source.BatchDocument {
			b.Docs = r.dedup.FilterDocs(b.Docs)
		}
		out.result.Records += int64(b.Len())
	}
	out.batches = batches
	return out
}

// assemble merges per-unit batches into one batch per dataset so each
// dataset is exported exactly once per run.
func (r *sourceRunner) assemble(outcomes []unitOutcome) (map[string]*source.Batch, []UnitResult) {
	merged := make(map[string]*source.Batch)
	results := make([]UnitResult, 0, len(outcomes))
	for _, out := range outcomes {
		results = append(results, out.result)
		if out.result.ErrorCode != "" {
			continue
		}
		for _, b := range out.batches {
			if b.Empty() {
				continue
			}
			acc, ok := merged[b.Dataset]
			if !ok {
				cp := *b
				merged[b.Dataset] = &cp
				continue
			}
			acc.Rows = append(acc.Rows, b.Rows...)
			acc.Docs = append(acc.Docs, b.Docs...)
		}
	}
	return merged, results
}

func (r *sourceRunner) export(ctx context.Context, runID string, merged map[string]*source.Batch) ([]string, error) {
	datasets := make([]string, 0, len(merged))
	for ds := range merged {
		datasets = append(datasets, ds)
	}
	sort.Strings(datasets)

	var artifacts []string
	for _, ds := range datasets {
		for _, sink := range r.sinks {
			res, err := sink.Export(ctx, runID, merged[ds])
			if err != nil {
				return artifacts, err
			}
			artifacts = append(artifacts, res.Paths...)
		}
	}
	return artifacts, nil
}

// reconcileWatermarks advances each dataset's watermark from the successful
// units. The default is the maximum successful cursor. Sources that demand a
// strict watermark only advance through the contiguous prefix of successes,
// so a failed middle unit is retried on the next run.
func (r *sourceRunner) reconcileWatermarks(ctx context.Context, outcomes []unitOutcome) {
	strict := r.adapter.Capabilities().StrictWatermark

	type progress struct{ cursor string }
	perDataset := make(map[string]*progress)
	stopped := make(map[string]bool)

	ordered := make([]unitOutcome, len(outcomes))
	copy(ordered, outcomes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].result.Unit.Cursor < ordered[j].result.Unit.Cursor
	})

	for _, out := range ordered {
		ds := out.result.Unit.Dataset
		if out.result.ErrorCode != "" {
			stopped[ds] = true
			continue
		}
		if strict && stopped[ds] {
			continue
		}
		if out.cursor == "" {
			continue
		}
		p, ok := perDataset[ds]
		if !ok {
			perDataset[ds] = &progress{cursor: out.cursor}
			continue
		}
		if out.cursor > p.cursor {
			p.cursor = out.cursor
		}
	}

	for ds, p := range perDataset {
		if err := r.store.AdvanceWatermark(ctx, r.adapter.ID(), ds, p.cursor); err != nil {
			r.log.Errorw("watermark advance failed", "source", r.adapter.ID(), "dataset", ds, "error", err)
		}
	}
}
