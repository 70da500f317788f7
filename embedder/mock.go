package embedder

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// Mock is an in-memory Client for tests and local development.
//
// Embeddings are deterministic functions of the input bytes, so the same
// page always embeds to the same multi-vector.
type Mock struct {
	// Dim is the token vector dimension.
	Dim int
	// Prefix and Postfix are the non-patch token counts around the grid.
	Prefix  int
	Postfix int
	// GridX and GridY are the patch grid reported for every image.
	GridX int
	GridY int

	// EmbedDelay is slept inside embedding calls, to widen race windows in
	// concurrency tests.
	EmbedDelay time.Duration

	// FailEmbed, when set, is returned by EmbedImages and EmbedQueries.
	FailEmbed error
	// FailInfo, when set, is returned by Info and Health.
	FailInfo error

	// EmbedImagesFunc and EmbedQueriesFunc override the deterministic
	// defaults when non-nil.
	EmbedImagesFunc  func(ctx context.Context, images [][]byte) ([]ImageEmbedding, error)
	EmbedQueriesFunc func(ctx context.Context, texts []string) ([][][]float32, error)

	restartCalls atomic.Int64
	imageCalls   atomic.Int64
	queryCalls   atomic.Int64

	mu sync.Mutex
}

// NewMock creates a mock with a small default shape: dim 16, 1 prefix and
// 1 postfix token, 2x3 patch grid.
func NewMock() *Mock {
	return &Mock{
		Dim:     16,
		Prefix:  1,
		Postfix: 1,
		GridX:   2,
		GridY:   3,
	}
}

// Health implements Client.
func (m *Mock) Health(ctx context.Context) error {
	return m.FailInfo
}

// Info implements Client.
func (m *Mock) Info(ctx context.Context) (Info, error) {
	if m.FailInfo != nil {
		return Info{}, m.FailInfo
	}
	return Info{Dim: m.Dim}, nil
}

// Patches implements Client.
func (m *Mock) Patches(ctx context.Context, dims []Dimensions) ([]PatchGrid, error) {
	out := make([]PatchGrid, len(dims))
	for i := range dims {
		out[i] = PatchGrid{NPatchesX: m.GridX, NPatchesY: m.GridY}
	}
	return out, nil
}

// EmbedQueries implements Client.
func (m *Mock) EmbedQueries(ctx context.Context, texts []string) ([][][]float32, error) {
	m.queryCalls.Add(1)
	if m.FailEmbed != nil {
		return nil, m.FailEmbed
	}
	if m.EmbedQueriesFunc != nil {
		return m.EmbedQueriesFunc(ctx, texts)
	}
	out := make([][][]float32, len(texts))
	for i, text := range texts {
		// Queries embed to a short token sequence with no patch structure.
		out[i] = m.tokens([]byte(text), 4)
	}
	return out, nil
}

// EmbedImages implements Client.
func (m *Mock) EmbedImages(ctx context.Context, images [][]byte) ([]ImageEmbedding, error) {
	m.imageCalls.Add(1)
	if m.EmbedDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.EmbedDelay):
		}
	}
	if m.FailEmbed != nil {
		return nil, m.FailEmbed
	}
	if m.EmbedImagesFunc != nil {
		return m.EmbedImagesFunc(ctx, images)
	}
	out := make([]ImageEmbedding, len(images))
	patchLen := m.GridX * m.GridY
	for i, img := range images {
		out[i] = ImageEmbedding{
			Embedding:       m.tokens(img, m.Prefix+patchLen+m.Postfix),
			ImagePatchStart: m.Prefix,
			ImagePatchLen:   patchLen,
		}
	}
	return out, nil
}

// Restart implements Client.
func (m *Mock) Restart(ctx context.Context) error {
	m.restartCalls.Add(1)
	return nil
}

// RestartCalls reports how often Restart was invoked.
func (m *Mock) RestartCalls() int { return int(m.restartCalls.Load()) }

// ImageCalls reports how often EmbedImages was invoked.
func (m *Mock) ImageCalls() int { return int(m.imageCalls.Load()) }

// QueryCalls reports how often EmbedQueries was invoked.
func (m *Mock) QueryCalls() int { return int(m.queryCalls.Load()) }

// tokens derives count deterministic token vectors from the input bytes.
func (m *Mock) tokens(input []byte, count int) [][]float32 {
	h := fnv.New64a()
	_, _ = h.Write(input)
	seed := h.Sum64()

	out := make([][]float32, count)
	for t := 0; t < count; t++ {
		vec := make([]float32, m.Dim)
		state := seed ^ uint64(t)*0x9e3779b97f4a7c15
		for d := range vec {
			// xorshift64
			state ^= state << 13
			state ^= state >> 7
			state ^= state << 17
			vec[d] = float32(int64(state%2001)-1000) / 1000.0
		}
		out[t] = vec
	}
	return out
}
