package dedup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fxintel/collector/internal/source"
	"go.uber.org/zap"
)

func TestFingerprint_DeterministicAndNamespaced(t *testing.T) {
	a := Fingerprint("ecb_news", "https://example.org/x")
	b := Fingerprint("ecb_news", "https://example.org/x")
	c := Fingerprint("fed_news", "https://example.org/x")
	if a != b {
		t.Error("same inputs must produce the same fingerprint")
	}
	if a == c {
		t.Error("different sources must not collide on the same URL")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestMarkSeenIsNew(t *testing.T) {
	d := New()
	fp := Fingerprint("s", "u")
	if !d.IsNew(fp) {
		t.Error("fresh fingerprint should be new")
	}
	d.MarkSeen(fp)
	if d.IsNew(fp) {
		t.Error("marked fingerprint should not be new")
	}
}

func TestFilterDocs_FirstDiscoveredWins(t *testing.T) {
	d := New()
	docs := []source.Document{
		{Source: "ecb_news", URL: "https://a", Title: "first"},
		{Source: "ecb_news", URL: "https://b", Title: "other"},
		{Source: "ecb_news", URL: "https://a", Title: "duplicate with different metadata"},
	}
	out := d.FilterDocs(docs)
	if len(out) != 2 {
		t.Fatalf("got %d docs, want 2", len(out))
	}
	if out[0].Title != "first" {
		t.Errorf("first-discovered should win, got %q", out[0].Title)
	}
}

func TestFilterDocs_AcrossBatches(t *testing.T) {
	d := New()
	first := d.FilterDocs([]source.Document{{Source: "s", URL: "https://a"}})
	second := d.FilterDocs([]source.Document{{Source: "s", URL: "https://a"}})
	if len(first) != 1 || len(second) != 0 {
		t.Errorf("got %d then %d, want 1 then 0", len(first), len(second))
	}
}

func TestLoadFromBronze_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	lines := `{"source":"ecb_news","url":"https://a","fingerprint":"` + Fingerprint("ecb_news", "https://a") + `"}
{"source":"ecb_news","url":"https://b"}
not json at all
{"source":"ecb_news","url":"https://c","fingerprint":"` + Fingerprint("ecb_news", "https://c") + `"}
`
	path := filepath.Join(dir, "ecb_news_press_release_20260820.jsonl")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}

	d := New()
	if err := LoadFromBronze(dir, d, zap.NewNop().Sugar()); err != nil {
		t.Fatalf("LoadFromBronze failed: %v", err)
	}
	if d.Len() != 3 {
		t.Errorf("seen set size = %d, want 3", d.Len())
	}
	// The line without a stored fingerprint is recomputed from source+url.
	if d.IsNew(Fingerprint("ecb_news", "https://b")) {
		t.Error("fingerprint fallback from url should be seen")
	}
}

func TestLoadFromBronze_MissingDirIsFine(t *testing.T) {
	d := New()
	if err := LoadFromBronze(filepath.Join(t.TempDir(), "nope"), d, zap.NewNop().Sugar()); err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if d.Len() != 0 {
		t.Errorf("seen set size = %d, want 0", d.Len())
	}
}
