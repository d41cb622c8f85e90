package dedup

import (
	"bufio"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// seenRecord is the minimal projection of an exported document line.
type seenRecord struct {
	Source      string `json:"source"`
	URL         string `json:"url"`
	Fingerprint string `json:"fingerprint"`
}

// LoadFromBronze walks the bronze directory and seeds the deduplicator from
// every JSONL export found. Lines without a stored fingerprint fall back to
// recomputing it from source and URL, so exports written before fingerprints
// were recorded still count as seen.
func LoadFromBronze(dir string, d *Deduplicator, log *zap.SugaredLogger) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			return nil
		}
		n, err := loadFile(path, d)
		if err != nil {
			log.Warnw("skipping unreadable bronze file", "path", path, "error", err)
			return nil
		}
		log.Debugw("loaded seen fingerprints", "path", path, "count", n)
		return nil
	})
}

func loadFile(path string, d *Deduplicator) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec seenRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		fp := rec.Fingerprint
		if fp == "" && rec.URL != "" {
			fp = Fingerprint(rec.Source, rec.URL)
		}
		if fp == "" {
			continue
		}
		d.MarkSeen(fp)
		count++
	}
	return count, scanner.Err()
}
