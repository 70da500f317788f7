// Package schema manages the vector index collection layout: named vector
// spaces, optional quantization and dimension discovery.
package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/athrael-soju/snappy/embedder"
	"github.com/athrael-soju/snappy/model"
	"github.com/athrael-soju/snappy/vectorindex"
)

// Error indicates a fatal schema problem: the embedding dimension could not
// be discovered, or the live collection disagrees with the expected layout.
// It is fatal at ingestion and search start.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type Error struct {
	Reason string
	cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("index schema error: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

// Config selects the collection layout.
type Config struct {
	// Quantized attaches binary quantization to the multi-vector spaces.
	Quantized bool
	// AlwaysRAM pins quantized codes in memory.
	AlwaysRAM bool
	// OnDiskVectors places original vectors on disk.
	OnDiskVectors bool
	// OnDiskPayload places payloads on disk.
	OnDiskPayload bool
	// Compressed enables the single-vector compressed space.
	Compressed bool
	// CompressedDim is the fixed dimension of the compressed space.
	CompressedDim int
}

// Manager creates and validates the collection schema.
type Manager struct {
	index vectorindex.Index
	emb   embedder.Client
	cfg   Config
}

// NewManager creates a Manager.
func NewManager(index vectorindex.Index, emb embedder.Client, cfg Config) *Manager {
	return &Manager{index: index, emb: emb, cfg: cfg}
}

// Build returns the desired schema for the given embedding dimension.
func (m *Manager) Build(dim int) vectorindex.Schema {
	s := vectorindex.Schema{
		Dim: dim,
		Multi: map[string]vectorindex.MultiSpace{
			model.SpaceOriginal: {
				Quantized: m.cfg.Quantized,
				AlwaysRAM: m.cfg.AlwaysRAM,
				OnDisk:    m.cfg.OnDiskVectors,
			},
			model.SpaceRow: {
				Quantized: m.cfg.Quantized,
				AlwaysRAM: m.cfg.AlwaysRAM,
				OnDisk:    m.cfg.OnDiskVectors,
			},
			model.SpaceColumn: {
				Quantized: m.cfg.Quantized,
				AlwaysRAM: m.cfg.AlwaysRAM,
				OnDisk:    m.cfg.OnDiskVectors,
			},
		},
		OnDiskPayload: m.cfg.OnDiskPayload,
	}
	if m.cfg.Compressed {
		s.Single = map[string]vectorindex.SingleSpace{
			model.SpaceCompressed: {
				Dim:       m.cfg.CompressedDim,
				Quantized: m.cfg.Quantized,
				AlwaysRAM: m.cfg.AlwaysRAM,
				OnDisk:    m.cfg.OnDiskVectors,
			},
		}
	}
	return s
}

// Ensure verifies the collection or creates it.
//
// When the collection exists its dimension is checked against the live
// backend; enabling the compressed space after the fact extends the
// collection in place rather than requiring a rebuild. When the collection
// is absent, the dimension is discovered from the backend's metadata
// endpoint and the collection is created; discovery failure is fatal.
func (m *Manager) Ensure(ctx context.Context) error {
	dim, err := m.discoverDim(ctx)
	if err != nil {
		return err
	}

	info, err := m.index.Info(ctx)
	switch {
	case errors.Is(err, vectorindex.ErrNotFound):
		if err := m.index.Ensure(ctx, m.Build(dim)); err != nil {
			return &Error{Reason: "create collection", cause: err}
		}
		return nil
	case err != nil:
		return err
	}

	if info.Dim != dim {
		return &Error{
			Reason: fmt.Sprintf("collection dimension %d does not match backend dimension %d", info.Dim, dim),
		}
	}
	for _, name := range []string{model.SpaceOriginal, model.SpaceRow, model.SpaceColumn} {
		if _, ok := info.Multi[name]; !ok {
			return &Error{Reason: fmt.Sprintf("collection is missing vector space %q", name)}
		}
	}

	// Extends with the compressed space when newly enabled; otherwise a
	// no-op revalidation.
	if err := m.index.Ensure(ctx, m.Build(dim)); err != nil {
		return &Error{Reason: "validate collection", cause: err}
	}
	return nil
}

// Clear deletes and recreates the collection with an identical schema.
// The dimension is re-derived from the backend, so Clear works against a
// restarted embedding backend.
func (m *Manager) Clear(ctx context.Context) error {
	dim, err := m.discoverDim(ctx)
	if err != nil {
		return err
	}
	if err := m.index.Drop(ctx); err != nil {
		return err
	}
	if err := m.index.Ensure(ctx, m.Build(dim)); err != nil {
		return &Error{Reason: "recreate collection", cause: err}
	}
	return nil
}

func (m *Manager) discoverDim(ctx context.Context) (int, error) {
	info, err := m.emb.Info(ctx)
	if err != nil {
		return 0, &Error{Reason: "embedding backend metadata unavailable", cause: err}
	}
	if info.Dim <= 0 {
		return 0, &Error{Reason: fmt.Sprintf("embedding backend reported dimension %d", info.Dim)}
	}
	return info.Dim, nil
}
