package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FSStore persists results as one JSON file per item under a directory.
// Crash at any point loses at most the in-flight item: files are written
// to a temp name and renamed into place.
type FSStore struct {
	dir string
}

// NewFSStore creates the output directory if needed and returns the store.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, "results"), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

// WriteItemResult persists the result atomically under results/<key>.json.
func (s *FSStore) WriteItemResult(_ context.Context, id ItemIdentity, res *ItemResult) error {
	if res == nil {
		return fmt.Errorf("item result cannot be nil")
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal item result: %w", err)
	}
	return s.writeAtomic(s.itemPath(id), data)
}

// ReadItemResult loads the persisted result, or ErrNotFound.
func (s *FSStore) ReadItemResult(_ context.Context, id ItemIdentity) (*ItemResult, error) {
	data, err := os.ReadFile(s.itemPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read item result: %w", err)
	}
	var res ItemResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode item result: %w", err)
	}
	return &res, nil
}

// WriteSummary persists the run summary as summary_<runID>.json.
func (s *FSStore) WriteSummary(_ context.Context, runID string, summary any) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	return s.writeAtomic(filepath.Join(s.dir, "summary_"+runID+".json"), data)
}

func (s *FSStore) itemPath(id ItemIdentity) string {
	return filepath.Join(s.dir, "results", id.Key()+".json")
}

func (s *FSStore) writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
