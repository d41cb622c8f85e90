package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fxintel/collector/internal/resilience"
	"github.com/fxintel/collector/internal/source"
	"go.uber.org/zap"
)

// FileSink writes batches into a local bronze directory. Tabular batches
// become CSV, document batches become JSONL. Writes go to a temp file in the
// same directory and are renamed into place, so readers never observe a
// half-written export. A re-run on the same day appends to the existing
// artifact through the same replace-by-rename path.
type FileSink struct {
	dir string
	log *zap.SugaredLogger
	now func() time.Time
}

func NewFileSink(dir string, log *zap.SugaredLogger) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("file sink: output dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file sink: %w", err)
	}
	return &FileSink{dir: dir, log: log, now: time.Now}, nil
}

func (s *FileSink) Export(ctx context.Context, runID string, b *source.Batch) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b == nil || b.Empty() {
		return &Result{}, nil
	}

	var name string
	switch b.Kind {
	case source.BatchTabular:
		name = exportName(b, s.now(), "csv")
	case source.BatchDocument:
		name = exportName(b, s.now(), "jsonl")
	default:
		return nil, fmt.Errorf("file sink: unknown batch kind %q", b.Kind)
	}
	final := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("file sink: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	var written int64
	switch b.Kind {
	case source.BatchTabular:
		written, err = writeCSV(tmp, final, b)
	case source.BatchDocument:
		written, err = writeJSONL(tmp, final, b)
	}
	if err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("file sink: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("file sink: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return nil, fmt.Errorf("file sink: %w", err)
	}

	info, _ := os.Stat(final)
	var size int64
	if info != nil {
		size = info.Size()
	}
	s.log.Infow("exported batch",
		"run", runID, "source", b.SourceID, "dataset", b.Dataset,
		"records", written, "path", final)
	return &Result{Paths: []string{final}, Records: written, Bytes: size}, nil
}

// writeCSV writes the header and rows. When an artifact for the day already
// exists its rows are carried over first, headerless, so the day's file stays
// a single coherent CSV.
func writeCSV(tmp *os.File, existing string, b *source.Batch) (int64, error) {
	cols := b.Columns
	if len(cols) == 0 {
		return 0, resilience.Parse(fmt.Errorf("tabular batch %s/%s has no columns", b.SourceID, b.Dataset))
	}

	w := csv.NewWriter(tmp)
	if err := w.Write(cols); err != nil {
		return 0, fmt.Errorf("file sink: %w", err)
	}

	if err := copyExistingCSV(w, existing, cols); err != nil {
		return 0, err
	}

	var n int64
	record := make([]string, len(cols))
	for _, row := range b.Rows {
		for i, col := range cols {
			record[i] = formatValue(row[col])
		}
		if err := w.Write(record); err != nil {
			return 0, fmt.Errorf("file sink: %w", err)
		}
		n++
	}
	w.Flush()
	return n, w.Error()
}

// copyExistingCSV carries a same-day artifact's rows into the rewrite. The
// existing header must match the batch's columns exactly: carrying rows over
// positionally under a different header would silently misalign them.
func copyExistingCSV(w *csv.Writer, path string, cols []string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("file sink: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("file sink: existing artifact unreadable: %w", err)
		}
		if header {
			header = false
			if !slices.Equal(rec, cols) {
				return resilience.Parse(fmt.Errorf(
					"file sink: existing artifact %s has columns %v, batch has %v", path, rec, cols))
			}
			continue
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("file sink: %w", err)
		}
	}
}

func writeJSONL(tmp *os.File, existing string, b *source.Batch) (int64, error) {
	if prev, err := os.Open(existing); err == nil {
		_, copyErr := io.Copy(tmp, prev)
		prev.Close()
		if copyErr != nil {
			return 0, fmt.Errorf("file sink: %w", copyErr)
		}
	} else if !os.IsNotExist(err) {
		return 0, fmt.Errorf("file sink: %w", err)
	}

	enc := json.NewEncoder(tmp)
	var n int64
	for i := range b.Docs {
		if err := enc.Encode(&b.Docs[i]); err != nil {
			return 0, fmt.Errorf("file sink: %w", err)
		}
		n++
	}
	return n, nil
}
