package orchestrator

import (
	"time"

	"github.com/fxintel/collector/internal/source"
)

// RunStatus summarizes an outcome at source or run granularity.
type RunStatus string

const (
	StatusSucceeded RunStatus = "succeeded"
	StatusPartial   RunStatus = "partial"
	StatusFailed    RunStatus = "failed"
	StatusSkipped   RunStatus = "skipped"
)

// UnitResult records how one collection unit fared. ErrorCode is empty on
// success, otherwise it carries the structured code from the failing stage.
type UnitResult struct {
	Unit      source.CollectionUnit `json:"unit"`
	Records   int64                 `json:"records"`
	ErrorCode string                `json:"error_code,omitempty"`
	Message   string                `json:"message,omitempty"`
}

// SourceReport is the per-source section of the run manifest.
type SourceReport struct {
	SourceID  string       `json:"source_id"`
	Status    RunStatus    `json:"status"`
	Units     []UnitResult `json:"units"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Records   int64        `json:"records"`
	Artifacts []string     `json:"artifacts,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Manifest is the full record of a collection run, suitable for audit and
// for diagnosing which units to expect again next run.
type Manifest struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Status     RunStatus      `json:"status"`
	Sources    []SourceReport `json:"sources"`
}

func (m *Manifest) finalize() {
	var ok, partial, failed int
	for _, s := range m.Sources {
		switch s.Status {
		case StatusFailed:
			failed++
		case StatusPartial:
			partial++
		case StatusSkipped:
		default:
			ok++
		}
	}
	switch {
	case ok == 0 && partial == 0:
		// Nothing produced anything: every source failed or was skipped.
		// A run that exported no data must never report success.
		m.Status = StatusFailed
	case failed > 0 || partial > 0:
		m.Status = StatusPartial
	default:
		m.Status = StatusSucceeded
	}
}
