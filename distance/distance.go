// Package distance provides the vector and fingerprint comparisons used by
// the matching core: inner product over L2-normalized embeddings (cosine
// similarity) and Hamming distance over 64-bit perceptual hashes.
package distance

import (
	"math/bits"
	"slices"

	"github.com/cardexio/cardex/internal/math32"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
// On L2-normalized inputs this equals the cosine similarity.
func Dot(a, b []float32) float32 {
	return math32.Dot(a, b)
}

// Hamming returns the number of differing bits between two 64-bit
// fingerprints.
func Hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := math32.Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / math32.Sqrt(norm2)
	math32.ScaleInPlace(v, inv)
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}
