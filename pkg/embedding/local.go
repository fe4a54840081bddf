package embedding

import (
	"hash/fnv"
	"strings"

	vmath "github.com/Fender1992/cachegpt-sub001/pkg/math"
)

// LocalEncoder is the offline fallback encoder. It is deterministic and
// needs no network, at the cost of only lexical similarity: texts sharing
// words and characters land close together.
type LocalEncoder struct {
	dimension int
}

// NewLocalEncoder creates an encoder producing vectors of the given size.
func NewLocalEncoder(dimension int) *LocalEncoder {
	if dimension <= 0 {
		dimension = 1536
	}
	return &LocalEncoder{dimension: dimension}
}

// Encode returns a unit vector for text.
func (e *LocalEncoder) Encode(text string) []float32 {
	v := make([]float32, e.dimension)
	words := strings.Fields(strings.ToLower(text))

	for wi, word := range words {
		// Whole-word bucket carries most of the weight.
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		v[int(h.Sum32()%uint32(e.dimension))] += 1.0

		for ci, r := range word {
			idx := (int(r)*(ci+1) + wi) % e.dimension
			v[idx] += float32(r%97) / 97.0 * 0.1
		}
	}

	if vmath.Norm(v) == 0 {
		v[0] = 1
		return v
	}
	vmath.NormalizeInPlace(v)
	return v
}

// Dimension returns the output vector size.
func (e *LocalEncoder) Dimension() int {
	return e.dimension
}
