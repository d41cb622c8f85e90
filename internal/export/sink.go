// Package export writes normalized batches to the bronze store. Filesystem
// and object-store sinks share the same contract: a batch is exported fully
// or not at all, and a failed export leaves no partial artifact behind.
package export

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fxintel/collector/internal/source"
)

// Result reports what an export produced.
type Result struct {
	// Paths are filesystem paths or object URLs, one per artifact written.
	Paths   []string
	Records int64
	Bytes   int64
}

// Sink persists one batch atomically.
type Sink interface {
	Export(ctx context.Context, runID string, b *source.Batch) (*Result, error)
}

// exportName builds the canonical artifact basename for a batch:
// {source}_{dataset}_{YYYYMMDD} plus the format extension.
func exportName(b *source.Batch, day time.Time, ext string) string {
	return fmt.Sprintf("%s_%s_%s.%s", b.SourceID, b.Dataset, day.UTC().Format("20060102"), ext)
}

// formatValue renders a cell for CSV output. Floats keep their shortest
// round-trip form so 4.33 does not become 4.330000.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}
