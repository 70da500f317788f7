package fde

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomMulti(rng *rand.Rand, tokens, dim int) [][]float32 {
	out := make([][]float32, tokens)
	for i := range out {
		v := make([]float32, dim)
		for d := range v {
			v[d] = float32(rng.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func TestEncodeIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	multi := randomMulti(rng, 20, 16)

	a := New(16, WithOutputDim(64)).Encode(multi)
	b := New(16, WithOutputDim(64)).Encode(multi)
	assert.Equal(t, a, b, "independently constructed encoders must agree")
}

func TestEncodeFixedLength(t *testing.T) {
	enc := New(16, WithOutputDim(64))
	rng := rand.New(rand.NewSource(2))

	for _, tokens := range []int{0, 1, 7, 100} {
		out := enc.Encode(randomMulti(rng, tokens, 16))
		assert.Len(t, out, 64)
	}
}

func TestEncodeSeedChangesTransform(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	multi := randomMulti(rng, 10, 16)

	a := New(16, WithOutputDim(64), WithSeed(1)).Encode(multi)
	b := New(16, WithOutputDim(64), WithSeed(2)).Encode(multi)
	assert.NotEqual(t, a, b)
}

func TestEncodePreservesSimilarityOrdering(t *testing.T) {
	enc := New(16, WithOutputDim(128))
	rng := rand.New(rand.NewSource(4))

	doc := randomMulti(rng, 12, 16)
	// A near-duplicate of doc and an unrelated multi-vector.
	near := make([][]float32, len(doc))
	for i, v := range doc {
		nv := make([]float32, len(v))
		copy(nv, v)
		nv[0] += 0.01
		near[i] = nv
	}
	far := randomMulti(rng, 12, 16)

	q := enc.Encode(doc)
	simNear := dot(q, enc.Encode(near))
	simFar := dot(q, enc.Encode(far))
	assert.Greater(t, simNear, simFar)
}

func TestEncodeOutputIsNormalized(t *testing.T) {
	enc := New(16, WithOutputDim(64))
	rng := rand.New(rand.NewSource(5))
	out := enc.Encode(randomMulti(rng, 9, 16))

	var norm float64
	for _, x := range out {
		norm += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
