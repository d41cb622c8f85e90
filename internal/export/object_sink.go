package export

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fxintel/collector/internal/source"
	"go.uber.org/zap"
)

// ObjectSink mirrors batches into an object store under date and run
// partitioned keys:
//
//	{prefix}/{source}/{dataset}/dt={YYYY-MM-DD}/run={runID}/part-NNNNNN.jsonl.gz
//
// Tabular batches carrying a schema are written as Parquet instead, with
// JSONL.GZ as the fallback when the Parquet encode fails.
type ObjectSink struct {
	store  ObjectStore
	bucket string
	prefix string
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewObjectSink(store ObjectStore, bucket, prefix string, log *zap.SugaredLogger) (*ObjectSink, error) {
	if store == nil {
		return nil, fmt.Errorf("object sink: store is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("object sink: bucket is required")
	}
	return &ObjectSink{store: store, bucket: bucket, prefix: prefix, log: log, now: time.Now}, nil
}

func (s *ObjectSink) Export(ctx context.Context, runID string, b *source.Batch) (*Result, error) {
	if b == nil || b.Empty() {
		return &Result{}, nil
	}
	if err := s.store.EnsureBucket(ctx, s.bucket); err != nil {
		return nil, err
	}

	loadDate := s.now().UTC().Format("2006-01-02")
	keyDir := joinKey(s.prefix, b.SourceID, b.Dataset,
		fmt.Sprintf("dt=%s", loadDate), fmt.Sprintf("run=%s", runID))

	if b.Kind == source.BatchTabular && b.Schema != nil && len(b.Schema.Fields) > 0 {
		if res, err := s.putParquet(ctx, keyDir, b); err == nil {
			return res, nil
		} else {
			s.log.Warnw("parquet encode failed, falling back to jsonl",
				"source", b.SourceID, "dataset", b.Dataset, "error", err)
		}
	}

	data, records, err := encodeJSONLGZ(b)
	if err != nil {
		return nil, err
	}
	key := keyDir + "/part-000000.jsonl.gz"
	if err := s.store.PutObject(ctx, s.bucket, key, data); err != nil {
		return nil, err
	}
	s.log.Infow("exported batch to object store",
		"run", runID, "source", b.SourceID, "dataset", b.Dataset,
		"records", records, "key", key)
	return &Result{
		Paths:   []string{fmt.Sprintf("s3://%s/%s", s.bucket, key)},
		Records: records,
		Bytes:   int64(len(data)),
	}, nil
}

func (s *ObjectSink) putParquet(ctx context.Context, keyDir string, b *source.Batch) (*Result, error) {
	data, records, err := encodeParquet(b)
	if err != nil {
		return nil, err
	}
	key := keyDir + "/part-000000.parquet"
	if err := s.store.PutObject(ctx, s.bucket, key, data); err != nil {
		return nil, err
	}
	return &Result{
		Paths:   []string{fmt.Sprintf("s3://%s/%s", s.bucket, key)},
		Records: records,
		Bytes:   int64(len(data)),
	}, nil
}

func encodeJSONLGZ(b *source.Batch) ([]byte, int64, error) {
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	enc := json.NewEncoder(gz)

	var records int64
	switch b.Kind {
	case source.BatchDocument:
		for i := range b.Docs {
			if err := enc.Encode(&b.Docs[i]); err != nil {
				return nil, 0, fmt.Errorf("object sink: %w", err)
			}
			records++
		}
	case source.BatchTabular:
		for _, row := range b.Rows {
			if err := enc.Encode(row); err != nil {
				return nil, 0, fmt.Errorf("object sink: %w", err)
			}
			records++
		}
	default:
		return nil, 0, fmt.Errorf("object sink: unknown batch kind %q", b.Kind)
	}
	if err := gz.Close(); err != nil {
		return nil, 0, fmt.Errorf("object sink: %w", err)
	}
	return buf.Bytes(), records, nil
}

func joinKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, "/")
}
