// Package source defines the contract between the collection framework and
// per-source adapters.
package source

import (
	"fmt"
	"time"
)

// Range is the requested collection window.
type Range struct {
	Start time.Time
	End   time.Time
}

// CollectionUnit is the smallest schedulable piece of fetch work: one date,
// page, feed category or series range. Units are recomputed each run from
// the requested range and current watermark, never persisted.
type CollectionUnit struct {
	// SourceID identifies the owning adapter.
	SourceID string
	// Dataset names the output dataset this unit contributes to.
	Dataset string
	// Key is an opaque, source-defined work key (a date, a series ID, a URL).
	Key string
	// Start/End bound the unit when it is date-ranged.
	Start time.Time
	End   time.Time
	// Cursor is the watermark candidate recorded if this unit exports
	// successfully. Empty for sources without incremental support.
	Cursor string
}

func (u CollectionUnit) String() string {
	return fmt.Sprintf("%s/%s/%s", u.SourceID, u.Dataset, u.Key)
}

// RawPayload is one fetched response before normalization.
type RawPayload struct {
	Unit        CollectionUnit
	ContentType string
	Body        []byte
	FetchedAt   time.Time
	// Meta carries side-channel data from fetch to normalize
	// (resolved URLs, feed IDs, fetch errors for individual items).
	Meta map[string]any
}

// Row is a single tabular output record. Bronze contract: all source fields
// preserved under snake_case names, never invented or dropped.
type Row = map[string]any

// Document is a single unstructured output record.
type Document struct {
	Source             string         `json:"source"`
	URL                string         `json:"url"`
	Title              string         `json:"title"`
	Content            string         `json:"content"`
	DocumentType       string         `json:"document_type"`
	TimestampPublished time.Time      `json:"timestamp_published,omitzero"`
	TimestampCollected time.Time      `json:"timestamp_collected"`
	Fingerprint        string         `json:"fingerprint"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// BatchKind distinguishes tabular from document output.
type BatchKind string

const (
	BatchTabular  BatchKind = "tabular"
	BatchDocument BatchKind = "document"
)

// Batch is the normalized output of one unit for one dataset.
type Batch struct {
	SourceID string
	Dataset  string
	Kind     BatchKind

	// Columns fixes the CSV column order for tabular batches.
	Columns []string
	Rows    []Row

	Docs []Document

	// Schema, when present, lets the sink emit a typed parquet artifact
	// alongside the CSV.
	Schema *Schema
}

// Empty reports whether the batch holds no records.
func (b *Batch) Empty() bool {
	return len(b.Rows) == 0 && len(b.Docs) == 0
}

// Len returns the record count.
func (b *Batch) Len() int {
	if b.Kind == BatchDocument {
		return len(b.Docs)
	}
	return len(b.Rows)
}

// Schema describes tabular batch columns for typed sinks.
type Schema struct {
	Fields []FieldDefinition
}

// FieldDefinition is one typed column.
type FieldDefinition struct {
	Name     string
	DataType string // "string", "double", "integer", "boolean"
}

// Capabilities declares what a source backend tolerates.
type Capabilities struct {
	// SupportsIncremental is true when the source can answer "what changed
	// since cursor X". Sources without it always refetch the full range.
	SupportsIncremental bool

	// StrictWatermark makes watermark advancement contiguous: it stops at
	// the first failed unit instead of jumping to the maximum exported
	// cursor. Opt-in for adapters that replay strictly by date.
	StrictWatermark bool

	// MaxConcurrency bounds parallel unit processing. Most sources keep 1;
	// higher only helps backends that tolerate parallel requests.
	MaxConcurrency int
}
