package ecb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fxintel/collector/internal/config"
	"github.com/fxintel/collector/internal/source"
	"go.uber.org/zap"
)

const exrCSV = `KEY,FREQ,CURRENCY,CURRENCY_DENOM,TIME_PERIOD,OBS_VALUE
EXR.D.USD.EUR.SP00.A,D,USD,EUR,2026-08-19,1.0834
EXR.D.JPY.EUR.SP00.A,D,JPY,EUR,2026-08-19,161.25
`

func newTestAdapter(t *testing.T, handler http.HandlerFunc, wm source.WatermarkLookup) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := New(source.FactoryOpts{
		Cfg:       config.SourceConfig{BaseURL: srv.URL},
		Log:       zap.NewNop().Sugar(),
		Watermark: wm,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a.(*Adapter)
}

func testRange() source.Range {
	return source.Range{
		Start: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
	}
}

func TestEnumerateUnits_OnePerDataset(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {}, nil)
	units, err := a.EnumerateUnits(context.Background(), testRange())
	if err != nil {
		t.Fatalf("EnumerateUnits failed: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	byDataset := map[string]source.CollectionUnit{}
	for _, u := range units {
		byDataset[u.Dataset] = u
	}
	if byDataset["policy_rates"].Cursor != "" {
		t.Error("policy_rates must not carry a cursor, FM has no revision support")
	}
	if byDataset["exchange_rates"].Cursor != "2026-08-20T00:00:00Z" {
		t.Errorf("exchange_rates cursor = %q", byDataset["exchange_rates"].Cursor)
	}
}

func TestFetch_ExchangeRatesURL(t *testing.T) {
	var gotPath, gotQuery string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(exrCSV))
	}, nil)

	units, _ := a.EnumerateUnits(context.Background(), testRange())
	var exr source.CollectionUnit
	for _, u := range units {
		if u.Dataset == "exchange_rates" {
			exr = u
		}
	}
	payload, err := a.Fetch(context.Background(), exr)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !strings.Contains(gotPath, "/data/EXR/D.USD+GBP+JPY+CHF.EUR.SP00.A") {
		t.Errorf("path = %s", gotPath)
	}
	for _, want := range []string{"format=csvdata", "startPeriod=2026-08-01", "endPeriod=2026-08-20"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
	if strings.Contains(gotQuery, "updatedAfter") {
		t.Error("no watermark configured, updatedAfter must be absent")
	}
	if payload.ContentType != "text/csv" {
		t.Errorf("content type = %s", payload.ContentType)
	}
}

func TestFetch_IncrementalSetsUpdatedAfter(t *testing.T) {
	var gotQuery string
	wm := func(ctx context.Context, dataset string) (string, bool) {
		if dataset == "exchange_rates" {
			return "2026-08-10T00:00:00Z", true
		}
		return "", false
	}
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(exrCSV))
	}, wm)

	units, _ := a.EnumerateUnits(context.Background(), testRange())
	for _, u := range units {
		if _, err := a.Fetch(context.Background(), u); err != nil {
			t.Fatalf("Fetch %s failed: %v", u.Dataset, err)
		}
		switch u.Dataset {
		case "exchange_rates":
			if !strings.Contains(gotQuery, "updatedAfter=") {
				t.Errorf("exchange_rates query missing updatedAfter: %s", gotQuery)
			}
		case "policy_rates":
			if strings.Contains(gotQuery, "updatedAfter") {
				t.Error("policy_rates must never send updatedAfter")
			}
		}
	}
}

func TestNormalize_AddsSourceColumn(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {}, nil)
	payload := &source.RawPayload{
		Unit: source.CollectionUnit{SourceID: SourceID, Dataset: "exchange_rates"},
		Body: []byte(exrCSV),
	}
	batches, err := a.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	b := batches[0]
	if len(b.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(b.Rows))
	}
	if b.Columns[len(b.Columns)-1] != "source" {
		t.Errorf("columns = %v, want trailing source column", b.Columns)
	}
	if b.Rows[0]["source"] != SourceID {
		t.Errorf("source tag = %v", b.Rows[0]["source"])
	}
	if b.Rows[0]["OBS_VALUE"] != "1.0834" {
		t.Errorf("values must stay raw strings, got %v", b.Rows[0]["OBS_VALUE"])
	}
}

func TestNormalize_EmptyBodyIsEmptyBatch(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {}, nil)
	batches, err := a.Normalize(&source.RawPayload{
		Unit: source.CollectionUnit{SourceID: SourceID, Dataset: "policy_rates"},
		Body: []byte("  \n"),
	})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if !batches[0].Empty() {
		t.Error("expected empty batch")
	}
}

func TestHealthCheck(t *testing.T) {
	ok := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(exrCSV))
	}, nil)
	if !ok.HealthCheck(context.Background()) {
		t.Error("healthy endpoint reported unhealthy")
	}

	down := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}, nil)
	if down.HealthCheck(context.Background()) {
		t.Error("unhealthy endpoint reported healthy")
	}
}
