package vectorindex

import "math/bits"

// maxSim is the multi-vector comparator: for each query token, take the
// maximum dot product across all document tokens, then sum.
func maxSim(query, doc [][]float32) float32 {
	var total float32
	for _, q := range query {
		best := float32(0)
		first := true
		for _, d := range doc {
			s := dot(q, d)
			if first || s > best {
				best = s
				first = false
			}
		}
		if !first {
			total += best
		}
	}
	return total
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// signBits packs the sign bit of each dimension into uint64 words.
func signBits(v []float32) []uint64 {
	words := make([]uint64, (len(v)+63)/64)
	for i, x := range v {
		if x > 0 {
			words[i/64] |= 1 << (uint(i) % 64)
		}
	}
	return words
}

// hammingSim scores two sign-bit codes as the number of agreeing bits,
// so higher is more similar.
func hammingSim(a, b []uint64, dim int) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var diff int
	for i := 0; i < n; i++ {
		diff += bits.OnesCount64(a[i] ^ b[i])
	}
	return float32(dim - diff)
}

// maxSimCodes is maxSim over sign-bit codes using hamming agreement as the
// token similarity.
func maxSimCodes(query, doc [][]uint64, dim int) float32 {
	var total float32
	for _, q := range query {
		best := float32(0)
		first := true
		for _, d := range doc {
			s := hammingSim(q, d, dim)
			if first || s > best {
				best = s
				first = false
			}
		}
		if !first {
			total += best
		}
	}
	return total
}
