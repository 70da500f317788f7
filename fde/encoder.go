// Package fde derives fixed-dimensional encodings from multi-vector
// embeddings, enabling a cheap single-vector first retrieval stage before
// MaxSim reranking.
//
// The transform is a seeded SimHash bucketing: each token vector is assigned
// to one of 2^k buckets by the signs of its projections onto k random
// hyperplanes, the tokens of each bucket are mean-pooled, and the
// concatenated bucket means are folded into the output dimension. Given the
// same parameters and seed, the transform is a pure function of its input,
// so documents and queries are always encoded identically.
package fde

import (
	"math"
	"math/rand"
)

const (
	// DefaultNumHyperplanes yields 2^4 = 16 buckets.
	DefaultNumHyperplanes = 4

	// DefaultOutputDim is the fixed length of the encoded vector.
	DefaultOutputDim = 1024

	// DefaultSeed makes independently constructed encoders compatible.
	DefaultSeed = 42
)

// Encoder computes fixed-dimensional encodings. It is immutable after
// construction and safe for concurrent use.
type Encoder struct {
	inputDim    int
	outputDim   int
	hyperplanes [][]float32 // k x inputDim
	seed        int64
}

// Option configures an Encoder.
type Option func(*settings)

type settings struct {
	numHyperplanes int
	outputDim      int
	seed           int64
}

// WithHyperplanes sets the number of bucketing hyperplanes (buckets = 2^k).
func WithHyperplanes(k int) Option {
	return func(s *settings) {
		if k > 0 {
			s.numHyperplanes = k
		}
	}
}

// WithOutputDim sets the fixed output dimension.
func WithOutputDim(dim int) Option {
	return func(s *settings) {
		if dim > 0 {
			s.outputDim = dim
		}
	}
}

// WithSeed sets the transform seed. Encoders with different seeds produce
// incompatible encodings.
func WithSeed(seed int64) Option {
	return func(s *settings) {
		s.seed = seed
	}
}

// New creates an Encoder for token vectors of the given input dimension.
func New(inputDim int, optFns ...Option) *Encoder {
	s := settings{
		numHyperplanes: DefaultNumHyperplanes,
		outputDim:      DefaultOutputDim,
		seed:           DefaultSeed,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&s)
		}
	}

	// The hyperplanes are drawn from a seeded source, so every encoder
	// with the same (inputDim, k, seed) is identical.
	rng := rand.New(rand.NewSource(s.seed)) // nolint gosec
	planes := make([][]float32, s.numHyperplanes)
	for i := range planes {
		p := make([]float32, inputDim)
		for d := range p {
			p[d] = float32(rng.NormFloat64())
		}
		planes[i] = p
	}

	return &Encoder{
		inputDim:    inputDim,
		outputDim:   s.outputDim,
		hyperplanes: planes,
		seed:        s.seed,
	}
}

// OutputDim returns the fixed length of encoded vectors.
func (e *Encoder) OutputDim() int { return e.outputDim }

// Encode computes the fixed-dimensional encoding of a multi-vector.
// The result always has length OutputDim; an empty input encodes to zeros.
func (e *Encoder) Encode(multi [][]float32) []float32 {
	numBuckets := 1 << len(e.hyperplanes)
	sums := make([][]float32, numBuckets)
	counts := make([]int, numBuckets)

	for _, token := range multi {
		b := e.bucket(token)
		if sums[b] == nil {
			sums[b] = make([]float32, e.inputDim)
		}
		for d := 0; d < e.inputDim && d < len(token); d++ {
			sums[b][d] += token[d]
		}
		counts[b]++
	}

	// Concatenate bucket means, folding into the output dimension so the
	// result length is independent of bucket count and input dimension.
	out := make([]float32, e.outputDim)
	pos := 0
	for b := 0; b < numBuckets; b++ {
		if counts[b] == 0 {
			pos += e.inputDim
			continue
		}
		inv := 1 / float32(counts[b])
		for d := 0; d < e.inputDim; d++ {
			out[(pos+d)%e.outputDim] += sums[b][d] * inv
		}
		pos += e.inputDim
	}

	normalize(out)
	return out
}

// bucket assigns a token to a SimHash bucket by hyperplane sign bits.
func (e *Encoder) bucket(token []float32) int {
	b := 0
	for i, plane := range e.hyperplanes {
		var dot float32
		n := e.inputDim
		if len(token) < n {
			n = len(token)
		}
		for d := 0; d < n; d++ {
			dot += plane[d] * token[d]
		}
		if dot > 0 {
			b |= 1 << i
		}
	}
	return b
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
