package ecbnews

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fxintel/collector/internal/config"
	"github.com/fxintel/collector/internal/source"
	"go.uber.org/zap"
)

func feedXML(baseURL string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>ECB Press</title>
    <item>
      <title>Monetary policy decisions</title>
      <link>%s/press/pr/date/2026/html/decisions.en.html</link>
      <description>The Governing Council decided today</description>
      <pubDate>Tue, 18 Aug 2026 13:45:00 +0200</pubDate>
    </item>
    <item>
      <title>Speech by Christine Lagarde at the banking congress</title>
      <link>%s/press/key/date/2026/html/speech.en.html</link>
      <description>Keynote address</description>
      <pubDate>Mon, 17 Aug 2026 09:00:00 +0200</pubDate>
    </item>
    <item>
      <title>Old press release outside the window</title>
      <link>%s/press/pr/old.en.html</link>
      <description>stale</description>
      <pubDate>Mon, 05 Jan 2026 09:00:00 +0100</pubDate>
    </item>
  </channel>
</rss>`, baseURL, baseURL, baseURL)
}

const articleHTML = `<!DOCTYPE html>
<html><head><title>Monetary policy decisions</title></head>
<body>
<main>
<h1>Monetary policy decisions</h1>
<p>The Governing Council today decided to keep the three key ECB interest
rates unchanged. The deposit facility rate remains at 2.00 percent, and
incoming data confirm the inflation outlook is broadly unchanged since the
last meeting of the council in July.</p>
<p>The Governing Council will continue to follow a data-dependent and
meeting-by-meeting approach to determining the appropriate stance.</p>
</main>
</body></html>`

func newTestAdapter(t *testing.T) (*Adapter, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/rss/press.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedXML(srv.URL)))
	})
	mux.HandleFunc("/press/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articleHTML))
	})

	a, err := New(source.FactoryOpts{
		Cfg: config.SourceConfig{BaseURL: srv.URL},
		Log: zap.NewNop().Sugar(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a.(*Adapter), srv
}

func augustRange() source.Range {
	return source.Range{
		Start: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
	}
}

func TestEnumerateUnits_FiltersAndClassifies(t *testing.T) {
	a, _ := newTestAdapter(t)
	units, err := a.EnumerateUnits(context.Background(), augustRange())
	if err != nil {
		t.Fatalf("EnumerateUnits failed: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2 (january item filtered)", len(units))
	}
	datasets := map[string]string{}
	for _, u := range units {
		datasets[u.Dataset] = u.Key
	}
	if _, ok := datasets[BucketPolicy]; !ok {
		t.Errorf("policy decision not classified: %v", datasets)
	}
	if _, ok := datasets[BucketSpeech]; !ok {
		t.Errorf("speech not classified: %v", datasets)
	}
}

func TestFetchNormalize_BuildsDocument(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()
	units, err := a.EnumerateUnits(ctx, augustRange())
	if err != nil {
		t.Fatalf("EnumerateUnits failed: %v", err)
	}

	var policyUnit source.CollectionUnit
	for _, u := range units {
		if u.Dataset == BucketPolicy {
			policyUnit = u
		}
	}
	payload, err := a.Fetch(ctx, policyUnit)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	batches, err := a.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(batches) != 1 || len(batches[0].Docs) != 1 {
		t.Fatalf("got %d batches", len(batches))
	}
	doc := batches[0].Docs[0]
	if doc.Source != SourceID || doc.DocumentType != BucketPolicy {
		t.Errorf("doc = %+v", doc)
	}
	if doc.Title != "Monetary policy decisions" {
		t.Errorf("title = %q", doc.Title)
	}
	if !strings.Contains(doc.Content, "deposit facility rate") {
		t.Errorf("content extraction failed: %q", doc.Content)
	}
	if doc.TimestampPublished.IsZero() || doc.TimestampCollected.IsZero() {
		t.Error("timestamps missing")
	}
}

func TestNormalize_SpeakerMetadataForSpeeches(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()
	units, _ := a.EnumerateUnits(ctx, augustRange())

	for _, u := range units {
		if u.Dataset != BucketSpeech {
			continue
		}
		payload, err := a.Fetch(ctx, u)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		batches, err := a.Normalize(payload)
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		speaker, _ := batches[0].Docs[0].Metadata["speaker"].(string)
		if speaker != "Christine Lagarde" {
			t.Errorf("speaker = %q", speaker)
		}
	}
}

func TestNormalize_UnknownUnitIsParseError(t *testing.T) {
	a, _ := newTestAdapter(t)
	_, err := a.Normalize(&source.RawPayload{
		Unit: source.CollectionUnit{SourceID: SourceID, Key: "https://nowhere.example/x"},
	})
	if err == nil {
		t.Fatal("expected error for article that was never enumerated")
	}
}

func TestHealthCheck(t *testing.T) {
	a, _ := newTestAdapter(t)
	if !a.HealthCheck(context.Background()) {
		t.Error("healthy feed reported unhealthy")
	}
}
