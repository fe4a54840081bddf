package math

import (
	"errors"
	"math"
	"testing"

	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

const tolerance = 1e-6

func TestCosineSimilarity_Identity(t *testing.T) {
	vectors := [][]float32{
		{1},
		{1, 2, 3},
		{0.5, -0.25, 3, 7, 1e-3},
		{-4, 4, -4, 4, -4, 4, -4, 4, 9},
	}

	for _, v := range vectors {
		if got := CosineSimilarity(v, v); math.Abs(got-1) > tolerance {
			t.Errorf("CosineSimilarity(v, v) = %f, want 1 (len %d)", got, len(v))
		}
		if got := CosineSimilarity(v, Negate(v)); math.Abs(got+1) > tolerance {
			t.Errorf("CosineSimilarity(v, -v) = %f, want -1 (len %d)", got, len(v))
		}
	}
}

func TestCosineSimilarity_Orthogonal(t *testing.T) {
	a := []float32{1, 0, 0, 0}
	b := []float32{0, 1, 0, 0}
	if got := CosineSimilarity(a, b); math.Abs(got) > tolerance {
		t.Errorf("expected 0 for orthogonal vectors, got %f", got)
	}
}

func TestCosineSimilarity_Degenerate(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
	}{
		{"both empty", nil, nil},
		{"one empty", []float32{1, 2}, nil},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 2, 3}},
		{"both zero", []float32{0, 0, 0, 0, 0}, []float32{0, 0, 0, 0, 0}},
		{"length mismatch", []float32{1, 2, 3}, []float32{1, 2}},
	}

	for _, tt := range tests {
		got := CosineSimilarity(tt.a, tt.b)
		if got != 0 || math.IsNaN(got) {
			t.Errorf("%s: expected 0, got %f", tt.name, got)
		}
	}
}

func TestSimilarity_DimensionMismatch(t *testing.T) {
	_, err := Similarity([]float32{1, 2, 3}, []float32{1, 2})
	if !errors.Is(err, types.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}

	var dm *types.DimensionMismatchError
	if !errors.As(err, &dm) || dm.Want != 3 || dm.Got != 2 {
		t.Errorf("unexpected error detail: %v", err)
	}

	sim, err := Similarity([]float32{1, 0}, []float32{1, 0})
	if err != nil || math.Abs(sim-1) > tolerance {
		t.Errorf("expected 1, nil; got %f, %v", sim, err)
	}
}

func TestNormalizeInPlace(t *testing.T) {
	v := []float32{3, 4}
	NormalizeInPlace(v)
	if math.Abs(Norm(v)-1) > tolerance {
		t.Errorf("expected unit norm, got %f", Norm(v))
	}

	zero := []float32{0, 0}
	NormalizeInPlace(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Error("zero vector should be left untouched")
	}
}

func TestDotProduct(t *testing.T) {
	a := []float32{1, 2, 3, 4, 5}
	b := []float32{5, 4, 3, 2, 1}
	if got := DotProduct(a, b); got != 35 {
		t.Errorf("expected 35, got %f", got)
	}
	if got := DotProduct(a, b[:4]); got != 0 {
		t.Errorf("expected 0 for mismatched lengths, got %f", got)
	}
}
