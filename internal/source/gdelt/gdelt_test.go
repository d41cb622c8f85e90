package gdelt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fxintel/collector/internal/config"
	"github.com/fxintel/collector/internal/source"
	"go.uber.org/zap"
)

const queryResult = `{
  "jobComplete": true,
  "totalBytesProcessed": "2147483648",
  "schema": {"fields": [
    {"name": "DATE"},
    {"name": "SourceCommonName"},
    {"name": "DocumentIdentifier"},
    {"name": "V2Tone"},
    {"name": "Themes"},
    {"name": "Locations"},
    {"name": "Organizations"}
  ]},
  "rows": [
    {"f": [
      {"v": "20260820134500"},
      {"v": "reuters.com"},
      {"v": "https://www.reuters.com/markets/ecb-rates"},
      {"v": "-2.1,3.0,5.1"},
      {"v": "ECON_CENTRAL_BANK;ECON_CURRENCY_EUR;"},
      {"v": "1#Germany#GM;"},
      {"v": "european central bank;"}
    ]},
    {"f": [
      {"v": "20260820140000"},
      {"v": "cnbc.com"},
      {"v": "https://www.cnbc.com/fed-watch"},
      {"v": "0.5,1.0,0.5"},
      {"v": "ECON_CENTRAL_BANK;"},
      {"v": null},
      {"v": "federal reserve;"}
    ]},
    {"f": [
      {"v": "20260820150000"},
      {"v": "reuters.com"},
      {"v": "https://www.reuters.com/markets/ecb-rates"},
      {"v": "-2.1,3.0,5.1"},
      {"v": "ECON_CENTRAL_BANK;"},
      {"v": null},
      {"v": null}
    ]},
    {"f": [
      {"v": "20260820160000"},
      {"v": "someblog.example"},
      {"v": ""},
      {"v": "0,0,0"},
      {"v": null},
      {"v": null},
      {"v": null}
    ]}
  ]
}`

func newTestAdapter(t *testing.T) (*Adapter, *[]queryRequest) {
	t.Helper()
	t.Setenv("BIGQUERY_ACCESS_TOKEN", "test-token")
	t.Setenv("BIGQUERY_PROJECT_ID", "test-project")

	var requests []queryRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/projects/test-project/queries", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		requests = append(requests, req)
		if req.DryRun {
			fmt.Fprint(w, `{"jobComplete": true, "totalBytesProcessed": "2147483648"}`)
			return
		}
		fmt.Fprint(w, queryResult)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a, err := New(source.FactoryOpts{
		Cfg: config.SourceConfig{BaseURL: srv.URL},
		Log: zap.NewNop().Sugar(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a.(*Adapter), &requests
}

func dayUnit() source.CollectionUnit {
	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	return source.CollectionUnit{
		SourceID: SourceID,
		Dataset:  datasetName,
		Key:      "2026-08-20",
		Start:    day,
		End:      day.AddDate(0, 0, 1),
		Cursor:   "2026-08-20",
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	t.Setenv("BIGQUERY_ACCESS_TOKEN", "")
	t.Setenv("BIGQUERY_PROJECT_ID", "p")
	if _, err := New(source.FactoryOpts{Log: zap.NewNop().Sugar()}); err == nil {
		t.Error("expected error without access token")
	}
	t.Setenv("BIGQUERY_ACCESS_TOKEN", "tok")
	t.Setenv("BIGQUERY_PROJECT_ID", "")
	if _, err := New(source.FactoryOpts{Log: zap.NewNop().Sugar()}); err == nil {
		t.Error("expected error without project id")
	}
}

func TestEnumerateUnits_OnePerDay(t *testing.T) {
	a, _ := newTestAdapter(t)
	units, err := a.EnumerateUnits(context.Background(), source.Range{
		Start: time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("EnumerateUnits failed: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("got %d units, want 3", len(units))
	}
	if units[0].Cursor != "2026-08-18" || units[2].Cursor != "2026-08-20" {
		t.Errorf("cursors = %s .. %s", units[0].Cursor, units[2].Cursor)
	}
}

func TestEstimate_DryRunBytes(t *testing.T) {
	a, requests := newTestAdapter(t)
	est, err := a.Estimate(context.Background(), dayUnit())
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if est.Bytes != 2147483648 {
		t.Errorf("bytes = %d, want 2 GiB", est.Bytes)
	}
	if len(*requests) != 1 || !(*requests)[0].DryRun {
		t.Fatalf("expected one dry-run request, got %+v", *requests)
	}
	if q := (*requests)[0].Query; q == "" || q == "SELECT 1" {
		t.Errorf("dry run must carry the day query, got %q", q)
	}
}

func TestFetchNormalize_DocumentsAndTiers(t *testing.T) {
	a, requests := newTestAdapter(t)
	payload, err := a.Fetch(context.Background(), dayUnit())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(*requests) != 1 || (*requests)[0].DryRun {
		t.Fatalf("fetch must issue a real query, got %+v", *requests)
	}

	batches, err := a.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	docs := batches[0].Docs
	if len(docs) != 2 {
		t.Fatalf("got %d docs, want 2 (duplicate url and blank url dropped)", len(docs))
	}

	reuters := docs[0]
	if reuters.URL != "https://www.reuters.com/markets/ecb-rates" {
		t.Errorf("url = %s", reuters.URL)
	}
	if tier := reuters.Metadata["credibility_tier"]; tier != 1 {
		t.Errorf("reuters tier = %v, want 1", tier)
	}
	if tier := docs[1].Metadata["credibility_tier"]; tier != 2 {
		t.Errorf("cnbc tier = %v, want 2", tier)
	}
	themes, _ := reuters.Metadata["themes"].([]string)
	if len(themes) != 2 || themes[0] != "ECON_CENTRAL_BANK" {
		t.Errorf("themes = %v", themes)
	}
	if reuters.TimestampPublished.IsZero() {
		t.Error("published timestamp not parsed")
	}
	hash, _ := reuters.Metadata["url_hash"].(string)
	if len(hash) != 64 {
		t.Errorf("url_hash = %q, want sha-256 hex", hash)
	}
}

func TestCredibilityTier_DefaultIsThree(t *testing.T) {
	cases := map[string]int{
		"reuters.com":       1,
		"www.bloomberg.com": 1,
		"ft.com":            1,
		"wsj.com":           2,
		"cnbc.com":          2,
		"someblog.example":  3,
		"":                  3,
	}
	for domain, want := range cases {
		if got := credibilityTier(domain); got != want {
			t.Errorf("credibilityTier(%q) = %d, want %d", domain, got, want)
		}
	}
}

func TestEstimate_UnparseableBytesIsParseError(t *testing.T) {
	t.Setenv("BIGQUERY_ACCESS_TOKEN", "test-token")
	t.Setenv("BIGQUERY_PROJECT_ID", "test-project")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jobComplete": true, "totalBytesProcessed": "not-a-number"}`)
	}))
	t.Cleanup(srv.Close)

	a, err := New(source.FactoryOpts{
		Cfg: config.SourceConfig{BaseURL: srv.URL},
		Log: zap.NewNop().Sugar(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := a.(*Adapter).Estimate(context.Background(), dayUnit()); err == nil {
		t.Error("expected estimate parse error")
	}
}

func TestHealthCheck(t *testing.T) {
	a, _ := newTestAdapter(t)
	if !a.HealthCheck(context.Background()) {
		t.Error("healthy backend reported unhealthy")
	}
}
