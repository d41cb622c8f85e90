package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore keeps watermarks in a single JSON file, loaded at construction
// and flushed under a mutex with a write-temp-then-rename to survive crashes
// mid-write.
type FileStore struct {
	path string

	mu         sync.Mutex
	watermarks map[string]string
	dirty      bool
}

type fileState struct {
	Watermarks map[string]string `json:"watermarks"`
	UpdatedAt  string            `json:"updated_at"`
}

// NewFileStore opens (or initializes) the state file at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:       path,
		watermarks: make(map[string]string),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var fs fileState
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if fs.Watermarks != nil {
		s.watermarks = fs.Watermarks
	}
	return s, nil
}

func watermarkKey(source, dataset string) string {
	return source + "/" + dataset
}

func (s *FileStore) GetWatermark(ctx context.Context, source, dataset string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor, ok := s.watermarks[watermarkKey(source, dataset)]
	return cursor, ok, nil
}

func (s *FileStore) AdvanceWatermark(ctx context.Context, source, dataset, cursor string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cursor == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := watermarkKey(source, dataset)
	if existing, ok := s.watermarks[key]; ok && cursor <= existing {
		return nil
	}
	s.watermarks[key] = cursor
	s.dirty = true
	return nil
}

func (s *FileStore) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	data, err := json.MarshalIndent(fileState{
		Watermarks: s.watermarks,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	s.dirty = false
	return nil
}

func (s *FileStore) Close() error {
	return s.Flush(context.Background())
}
