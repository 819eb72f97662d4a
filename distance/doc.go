// Package distance provides the similarity primitives for card matching.
//
// Embeddings are compared by inner product over L2-normalized vectors, which
// equals cosine similarity in [-1, 1]. Perceptual hashes are compared by
// Hamming distance, the count of differing bits between two 64-bit
// fingerprints.
//
// # Usage
//
//	q, ok := distance.NormalizeL2Copy(raw)
//	sim := distance.Dot(q, stored)
//	bits := distance.Hamming(hashA, hashB)
package distance
