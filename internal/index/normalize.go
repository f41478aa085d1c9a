package index

import "math"

const normEpsilon = 1e-8

// Normalize returns v scaled to unit L2 norm. Vectors with norm below 1e-8
// are divided by the epsilon instead, so zero stays zero.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm < normEpsilon {
		norm = normEpsilon
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
