package vectorindex

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/athrael-soju/snappy/model"
)

// snapshotState is the serialized form of a Memory index.
type snapshotState struct {
	Exists bool
	Schema Schema
	Points []model.Point
}

// SaveSnapshot persists the index to path as an lz4-compressed gob stream.
// The write is atomic: data goes to a temp file first and is renamed over
// the target.
func (m *Memory) SaveSnapshot(path string) error {
	m.mu.RLock()
	state := snapshotState{
		Exists: m.exists,
		Schema: m.schema.Clone(),
		Points: make([]model.Point, 0, len(m.points)),
	}
	// Preserve insertion order so snapshots are stable.
	for _, id := range m.rows {
		if id == "" {
			continue
		}
		state.Points = append(state.Points, m.points[id].point)
	}
	m.mu.RUnlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := lz4.NewWriter(tmp)
	if err := gob.NewEncoder(zw).Encode(state); err != nil {
		tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadSnapshot restores an index previously written by SaveSnapshot.
func LoadSnapshot(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	var state snapshotState
	if err := gob.NewDecoder(lz4.NewReader(f)).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	m := NewMemory()
	if !state.Exists {
		return m, nil
	}
	ctx := context.Background()
	if err := m.Ensure(ctx, state.Schema); err != nil {
		return nil, err
	}
	if err := m.Upsert(ctx, state.Points); err != nil {
		return nil, err
	}
	return m, nil
}
