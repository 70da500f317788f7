// Package retrieval implements two-stage search over the vector index:
// pooled-space prefetch feeding a MaxSim rerank on the original vectors.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/athrael-soju/snappy/embedder"
	"github.com/athrael-soju/snappy/fde"
	"github.com/athrael-soju/snappy/model"
	"github.com/athrael-soju/snappy/vectorindex"
)

const (
	// DefaultPrefetchLimit is the candidate pool per pooled space.
	DefaultPrefetchLimit = 200
	// DefaultCompressedLimit is the candidate pool from the compressed
	// single-vector stage. It is wider than the pooled limits because
	// the compressed transform is the coarsest.
	DefaultCompressedLimit = 500
)

// Config tunes an Engine.
type Config struct {
	// PrefetchLimit is the candidate pool per pooled space.
	PrefetchLimit int
	// Compressed enables the compressed-space first stage.
	Compressed bool
	// CompressedLimit is the candidate pool of the compressed stage.
	CompressedLimit int
	// Params are passed through to the index for quantized search.
	Params vectorindex.SearchParams
}

func (c Config) withDefaults() Config {
	if c.PrefetchLimit <= 0 {
		c.PrefetchLimit = DefaultPrefetchLimit
	}
	if c.CompressedLimit <= 0 {
		c.CompressedLimit = DefaultCompressedLimit
	}
	return c
}

// Engine answers text queries against the index.
type Engine struct {
	emb     embedder.Client
	index   vectorindex.Index
	encoder *fde.Encoder // nil disables the compressed stage
	cache   QueryCache   // nil disables caching
	logger  *slog.Logger
	cfg     Config
}

// New creates an Engine. encoder may be nil when the compressed space is
// disabled; cache may be nil to embed every query.
func New(emb embedder.Client, index vectorindex.Index, encoder *fde.Encoder, cache QueryCache, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		emb:     emb,
		index:   index,
		encoder: encoder,
		cache:   cache,
		logger:  logger,
		cfg:     cfg.withDefaults(),
	}
}

// Search embeds the query text and runs the two-stage query: prefetch on
// the row and column pooled spaces (plus the compressed space when
// enabled), rerank on the original multi-vectors with MaxSim, truncated to
// k descending.
//
// An unreachable embedding backend or index fails the search outright; no
// partial results.
func (e *Engine) Search(ctx context.Context, text string, k int, filter vectorindex.Filter) ([]model.SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("result limit must be positive, got %d", k)
	}

	vectors, err := e.embedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	q := vectorindex.Query{
		Prefetch: []vectorindex.Prefetch{
			{Space: model.SpaceRow, Multi: vectors, Limit: e.cfg.PrefetchLimit},
			{Space: model.SpaceColumn, Multi: vectors, Limit: e.cfg.PrefetchLimit},
		},
		RerankSpace: model.SpaceOriginal,
		RerankMulti: vectors,
		Limit:       k,
		Filter:      filter,
		Params:      e.cfg.Params,
	}
	if e.cfg.Compressed && e.encoder != nil {
		q.Prefetch = append(q.Prefetch, vectorindex.Prefetch{
			Space:  model.SpaceCompressed,
			Single: e.encoder.Encode(vectors),
			Limit:  e.cfg.CompressedLimit,
		})
	}

	scored, err := e.index.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", vectorindex.ErrUnavailable, err)
	}

	results := make([]model.SearchResult, len(scored))
	for i, s := range scored {
		results[i] = model.SearchResult{
			Payload: s.Payload,
			Label:   s.Payload.Label(),
			Score:   s.Score,
		}
	}
	e.logger.Debug("search", "k", k, "query_tokens", len(vectors), "results", len(results))
	return results, nil
}

// embedQuery returns the query's multi-vector, from cache when possible.
func (e *Engine) embedQuery(ctx context.Context, text string) ([][]float32, error) {
	if e.cache != nil {
		if vectors, ok := e.cache.Get(text); ok {
			return vectors, nil
		}
	}

	batches, err := e.emb.EmbedQueries(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", embedder.ErrUnavailable, err)
	}
	if len(batches) != 1 || len(batches[0]) == 0 {
		return nil, fmt.Errorf("%w: backend returned %d embeddings for one query", embedder.ErrUnavailable, len(batches))
	}

	if e.cache != nil {
		e.cache.Put(text, batches[0])
	}
	return batches[0], nil
}
