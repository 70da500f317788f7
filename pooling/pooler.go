// Package pooling reshapes multi-vector embeddings into row/column pooled
// projections used for first-stage retrieval.
package pooling

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/athrael-soju/snappy/model"
)

const (
	// DefaultInlineThreshold is the batch size at or below which pooling runs
	// inline. Worker fan-out overhead dominates on tiny batches.
	DefaultInlineThreshold = 2

	// DefaultMaxWorkers caps the pooling worker fan-out regardless of core count.
	DefaultMaxWorkers = 8
)

// ShapeMismatchError indicates that the token-boundary metadata of an
// embedding result does not describe a valid patch grid.
//
// It is fatal for the batch containing the affected image and is never retried.
type ShapeMismatchError struct {
	Start       int
	Len         int
	X           int
	Y           int
	TotalTokens int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: start=%d len=%d grid=%dx%d tokens=%d",
		e.Start, e.Len, e.X, e.Y, e.TotalTokens)
}

// Pooler computes pooled projections of multi-vector embeddings.
//
// Pooler is stateless and safe for concurrent use.
type Pooler struct {
	inlineThreshold int
	maxWorkers      int
}

// Option configures a Pooler.
type Option func(*Pooler)

// WithInlineThreshold overrides the batch size below which pooling runs inline.
func WithInlineThreshold(n int) Option {
	return func(p *Pooler) {
		if n > 0 {
			p.inlineThreshold = n
		}
	}
}

// WithMaxWorkers overrides the worker fan-out cap.
func WithMaxWorkers(n int) Option {
	return func(p *Pooler) {
		if n > 0 {
			p.maxWorkers = n
		}
	}
}

// New creates a Pooler with sane defaults: inline threshold 2, worker
// fan-out min(GOMAXPROCS, 8).
func New(optFns ...Option) *Pooler {
	p := &Pooler{
		inlineThreshold: DefaultInlineThreshold,
		maxWorkers:      min(runtime.GOMAXPROCS(0), DefaultMaxWorkers),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(p)
		}
	}
	return p
}

// Pool splits the token sequence of res into prefix, patch and postfix,
// reshapes the patch block to its (x, y) grid, and mean-reduces it along
// each axis.
//
// The row projection has one vector per grid row (y), the column projection
// one per grid column (x); prefix and postfix tokens are reinserted unchanged
// around both.
func (p *Pooler) Pool(res model.EmbeddingResult) (model.PooledVectors, error) {
	total := len(res.Vectors)
	if res.PatchStart < 0 || res.PatchLen <= 0 ||
		res.PatchStart+res.PatchLen > total ||
		res.PatchLen != res.NPatchesX*res.NPatchesY {
		return model.PooledVectors{}, &ShapeMismatchError{
			Start:       res.PatchStart,
			Len:         res.PatchLen,
			X:           res.NPatchesX,
			Y:           res.NPatchesY,
			TotalTokens: total,
		}
	}

	prefix := res.Vectors[:res.PatchStart]
	patch := res.Vectors[res.PatchStart : res.PatchStart+res.PatchLen]
	postfix := res.Vectors[res.PatchStart+res.PatchLen:]

	x, y := res.NPatchesX, res.NPatchesY
	dim := len(patch[0])

	// Patch index (ix, iy) maps to ix*y + iy in the flat token sequence.
	rowPooled := make([][]float32, y)
	for iy := 0; iy < y; iy++ {
		acc := make([]float32, dim)
		for ix := 0; ix < x; ix++ {
			v := patch[ix*y+iy]
			for d := 0; d < dim; d++ {
				acc[d] += v[d]
			}
		}
		for d := 0; d < dim; d++ {
			acc[d] /= float32(x)
		}
		rowPooled[iy] = acc
	}

	colPooled := make([][]float32, x)
	for ix := 0; ix < x; ix++ {
		acc := make([]float32, dim)
		for iy := 0; iy < y; iy++ {
			v := patch[ix*y+iy]
			for d := 0; d < dim; d++ {
				acc[d] += v[d]
			}
		}
		for d := 0; d < dim; d++ {
			acc[d] /= float32(y)
		}
		colPooled[ix] = acc
	}

	return model.PooledVectors{
		Row:    surround(prefix, rowPooled, postfix),
		Column: surround(prefix, colPooled, postfix),
	}, nil
}

// PoolBatch pools every result of a batch.
//
// Batches larger than the inline threshold are pooled across a bounded worker
// fan-out; smaller batches are pooled inline. A shape mismatch on any image
// rejects the batch as a unit.
func (p *Pooler) PoolBatch(ctx context.Context, results []model.EmbeddingResult) ([]model.PooledVectors, error) {
	out := make([]model.PooledVectors, len(results))

	if len(results) <= p.inlineThreshold {
		for i, res := range results {
			pooled, err := p.Pool(res)
			if err != nil {
				return nil, err
			}
			out[i] = pooled
		}
		return out, nil
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)
	for i, res := range results {
		g.Go(func() error {
			pooled, err := p.Pool(res)
			if err != nil {
				return err
			}
			out[i] = pooled
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func surround(prefix, pooled, postfix [][]float32) [][]float32 {
	out := make([][]float32, 0, len(prefix)+len(pooled)+len(postfix))
	out = append(out, prefix...)
	out = append(out, pooled...)
	out = append(out, postfix...)
	return out
}
