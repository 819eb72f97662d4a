// Package testutil provides deterministic random data generators for tests.
//
// Card embeddings are L2-normalized in production, so the generators here
// produce unit vectors by default:
//
//	rng := testutil.NewRNG(42)
//	vectors := rng.UnitVectors(100, 2048)
package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/cardexio/cardex/internal/math32"
)

// RNG is a seeded random generator for test data. It is safe for
// concurrent use.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniform fills dst with random values in range [0, 1).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// Hash returns a random 64-bit perceptual hash in its stored hex form.
func (r *RNG) Hash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("%016x", r.rand.Uint64())
}

// UnitVectors generates L2-normalized random vectors. Gaussian components
// give a uniform distribution on the hypersphere, matching the shape of
// normalized image embeddings.
func (r *RNG) UnitVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions]
		r.fillUnitLocked(vec)
		vectors[i] = vec
	}

	return vectors
}

// UnitVector generates a single L2-normalized random vector.
func (r *RNG) UnitVector(dimensions int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vec := make([]float32, dimensions)
	r.fillUnitLocked(vec)
	return vec
}

// fillUnitLocked fills vec with a random unit vector. Caller holds the lock.
func (r *RNG) fillUnitLocked(vec []float32) {
	var norm float64
	for j := range vec {
		v := r.rand.NormFloat64()
		vec[j] = float32(v)
		norm += v * v
	}

	if norm == 0 {
		norm = 1
	}
	math32.ScaleInPlace(vec, float32(1.0/math.Sqrt(norm)))
}

// PerturbedVector returns a unit vector close to base: base plus Gaussian
// noise, re-normalized. Smaller noise means higher similarity to base.
func (r *RNG) PerturbedVector(base []float32, noise float32) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vec := make([]float32, len(base))
	var norm float64
	for j := range base {
		v := float64(base[j]) + r.rand.NormFloat64()*float64(noise)
		vec[j] = float32(v)
		norm += v * v
	}

	if norm == 0 {
		norm = 1
	}
	math32.ScaleInPlace(vec, float32(1.0/math.Sqrt(norm)))
	return vec
}
