package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FileStore keeps one JSON file per snapshot, named by its creation time in
// nanoseconds so lexical order is chronological.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("handoff: create dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Save(_ context.Context, snap Snapshot) error {
	return s.write(fmt.Sprintf("%020d.json", snap.CreatedAt.UnixNano()), snap)
}

// MarkConsumed rewrites the snapshot file with ConsumedAt set. Snapshots are
// searched newest first, so the common case reads one file.
func (s *FileStore) MarkConsumed(_ context.Context, id string, at time.Time) error {
	names, err := s.names()
	if err != nil {
		return err
	}
	for _, name := range names {
		snap, err := s.read(name)
		if err != nil {
			return err
		}
		if snap.ID != id {
			continue
		}
		at = at.UTC()
		snap.ConsumedAt = &at
		return s.write(name, snap)
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *FileStore) write(name string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("handoff: marshal snapshot: %w", err)
	}
	tmp := filepath.Join(s.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("handoff: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("handoff: rename snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) read(name string) (Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return Snapshot{}, fmt.Errorf("handoff: read %s: %w", name, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("handoff: decode %s: %w", name, err)
	}
	return snap, nil
}

func (s *FileStore) Latest(ctx context.Context) (Snapshot, bool, error) {
	list, err := s.List(ctx, 1)
	if err != nil || len(list) == 0 {
		return Snapshot{}, false, err
	}
	return list[0], true, nil
}

// List returns up to limit snapshots, newest first. A non-positive limit
// returns all of them.
func (s *FileStore) List(_ context.Context, limit int) ([]Snapshot, error) {
	names, err := s.names()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		snap, err := s.read(name)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) names() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("handoff: list dir: %w", err)
	}
	var names []string
	for _, e := range dirEntries {
		stem, ok := strings.CutSuffix(e.Name(), ".json")
		if !ok || e.IsDir() {
			continue
		}
		if _, err := strconv.ParseInt(stem, 10, 64); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}
