// Package dedup filters document records by stable content fingerprint,
// both across runs (against the bronze store's history) and within a run
// (the same document discovered via two feed categories).
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/fxintel/collector/internal/source"
)

// Fingerprint computes the stable content fingerprint for a record:
// SHA-256 over the source tag plus the canonical identity string (document
// URL as standard). The source tag namespaces identities so two sources can
// never collide.
func Fingerprint(sourceID, identity string) string {
	h := sha256.Sum256([]byte(sourceID + "\n" + identity))
	return hex.EncodeToString(h[:])
}

// Deduplicator tracks seen fingerprints. The set grows monotonically and is
// shared across concurrent units of the same run, so all access is under a
// mutex.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates an empty deduplicator. Use Loader to seed it from the bronze
// store's existing exports.
func New() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// IsNew reports whether the fingerprint has not been seen.
func (d *Deduplicator) IsNew(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[fingerprint]
	return !ok
}

// MarkSeen records a fingerprint.
func (d *Deduplicator) MarkSeen(fingerprint string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[fingerprint] = struct{}{}
}

// Len returns the seen-set size.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// FilterDocs returns the documents whose fingerprints are new, marking the
// survivors seen in one atomic pass. When several documents in the batch
// share a fingerprint the first-discovered one wins; later discoveries are
// dropped even if their metadata differs.
func (d *Deduplicator) FilterDocs(docs []source.Document) []source.Document {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]source.Document, 0, len(docs))
	for _, doc := range docs {
		fp := doc.Fingerprint
		if fp == "" {
			fp = Fingerprint(doc.Source, doc.URL)
			doc.Fingerprint = fp
		}
		if _, ok := d.seen[fp]; ok {
			continue
		}
		d.seen[fp] = struct{}{}
		out = append(out, doc)
	}
	return out
}
