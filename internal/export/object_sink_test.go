package export

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxintel/collector/internal/source"
	"go.uber.org/zap"
)

func newTestObjectSink(t *testing.T) (*ObjectSink, string) {
	t.Helper()
	root := t.TempDir()
	sink, err := NewObjectSink(NewLocalObjectStore(root), "bronze", "fx", zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewObjectSink failed: %v", err)
	}
	sink.now = testDay
	return sink, root
}

func TestObjectSink_KeyLayoutAndGzipContent(t *testing.T) {
	sink, root := newTestObjectSink(t)
	res, err := sink.Export(context.Background(), "run-7", docBatch())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	wantKey := "fx/ecb_news/press_release/dt=2026-08-20/run=run-7/part-000000.jsonl.gz"
	if len(res.Paths) != 1 || res.Paths[0] != "s3://bronze/"+wantKey {
		t.Fatalf("paths = %v", res.Paths)
	}

	raw, err := os.ReadFile(filepath.Join(root, "bronze", filepath.FromSlash(wantKey)))
	if err != nil {
		t.Fatalf("object missing: %v", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("object is not gzip: %v", err)
	}
	scanner := bufio.NewScanner(gz)
	if !scanner.Scan() {
		t.Fatal("expected one line")
	}
	var doc source.Document
	if err := json.Unmarshal(scanner.Bytes(), &doc); err != nil {
		t.Fatalf("line is not valid json: %v", err)
	}
	if doc.URL != "https://www.ecb.europa.eu/a" {
		t.Errorf("doc url = %s", doc.URL)
	}
}

func TestObjectSink_TabularWithSchemaWritesParquet(t *testing.T) {
	sink, root := newTestObjectSink(t)
	b := tabularBatch()
	b.Schema = &source.Schema{Fields: []source.FieldDefinition{
		{Name: "date", DataType: "STRING"},
		{Name: "currency", DataType: "STRING"},
		{Name: "rate", DataType: "DOUBLE"},
	}}
	res, err := sink.Export(context.Background(), "run-7", b)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(res.Paths) != 1 || !strings.HasSuffix(res.Paths[0], ".parquet") {
		t.Fatalf("paths = %v, want a parquet artifact", res.Paths)
	}
	if res.Records != 2 {
		t.Errorf("records = %d, want 2", res.Records)
	}

	key := strings.TrimPrefix(res.Paths[0], "s3://bronze/")
	data, err := os.ReadFile(filepath.Join(root, "bronze", filepath.FromSlash(key)))
	if err != nil {
		t.Fatalf("object missing: %v", err)
	}
	// Parquet magic bytes bracket the file.
	if !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
		t.Error("artifact is not a parquet file")
	}
}

func TestObjectSink_TabularWithoutSchemaFallsBackToJSONL(t *testing.T) {
	sink, _ := newTestObjectSink(t)
	res, err := sink.Export(context.Background(), "run-7", tabularBatch())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(res.Paths) != 1 || !strings.HasSuffix(res.Paths[0], ".jsonl.gz") {
		t.Fatalf("paths = %v, want a jsonl.gz artifact", res.Paths)
	}
}

func TestLocalObjectStore_ListPrefix(t *testing.T) {
	store := NewLocalObjectStore(t.TempDir())
	ctx := context.Background()
	if err := store.EnsureBucket(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"fx/a/1", "fx/a/2", "other/x"} {
		if err := store.PutObject(ctx, "b", key, []byte("data")); err != nil {
			t.Fatal(err)
		}
	}
	keys, err := store.ListPrefix(ctx, "b", "fx/a/")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("keys = %v, want 2 under fx/a/", keys)
	}
}
