// Package math provides the float32 vector routines used for semantic
// matching.
package math

import (
	"math"

	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

// CosineSimilarity computes cosine similarity between two float32 vectors.
// Returns a value in [-1, 1] where 1 = identical, -1 = opposite.
// Empty input, different lengths and zero-norm vectors all yield 0, which
// callers must read as "no match".
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	// Compute dot product and magnitudes in a single pass
	var dot, magA, magB float64
	n := len(a)

	// Process 4 elements at a time for better CPU pipelining
	i := 0
	for ; i <= n-4; i += 4 {
		dot += float64(a[i])*float64(b[i]) +
			float64(a[i+1])*float64(b[i+1]) +
			float64(a[i+2])*float64(b[i+2]) +
			float64(a[i+3])*float64(b[i+3])

		magA += float64(a[i])*float64(a[i]) +
			float64(a[i+1])*float64(a[i+1]) +
			float64(a[i+2])*float64(a[i+2]) +
			float64(a[i+3])*float64(a[i+3])

		magB += float64(b[i])*float64(b[i]) +
			float64(b[i+1])*float64(b[i+1]) +
			float64(b[i+2])*float64(b[i+2]) +
			float64(b[i+3])*float64(b[i+3])
	}

	// Handle remaining elements
	for ; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(magA) * math.Sqrt(magB)
	if denom == 0 || math.IsNaN(denom) || math.IsInf(denom, 0) {
		return 0
	}

	similarity := dot / denom
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1.0 {
		similarity = 1.0
	} else if similarity < -1.0 {
		similarity = -1.0
	}
	return similarity
}

// Similarity is CosineSimilarity for stored-versus-query comparisons.
// Vectors of different lengths are a configuration fault and return a
// *types.DimensionMismatchError instead of 0.
func Similarity(query, stored []float32) (float64, error) {
	if len(query) != len(stored) {
		return 0, &types.DimensionMismatchError{Want: len(query), Got: len(stored)}
	}
	return CosineSimilarity(query, stored), nil
}

// DotProduct computes inner product between two float32 vectors.
func DotProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var sum float64
	n := len(a)

	// Process 4 elements at a time
	i := 0
	for ; i <= n-4; i += 4 {
		sum += float64(a[i])*float64(b[i]) +
			float64(a[i+1])*float64(b[i+1]) +
			float64(a[i+2])*float64(b[i+2]) +
			float64(a[i+3])*float64(b[i+3])
	}

	for ; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}

	return sum
}

// Norm returns the L2 magnitude of v.
func Norm(v []float32) float64 {
	return math.Sqrt(DotProduct(v, v))
}

// NormalizeInPlace normalizes a vector to unit length in-place.
// Zero vectors are left untouched.
func NormalizeInPlace(v []float32) {
	if len(v) == 0 {
		return
	}

	mag := Norm(v)
	if mag == 0 {
		return
	}

	invMag := float32(1.0 / mag)
	for i := range v {
		v[i] *= invMag
	}
}

// Negate returns a new vector pointing the opposite way.
func Negate(v []float32) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = -x
	}
	return out
}
