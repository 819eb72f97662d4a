// Package phash computes 64-bit average perceptual hashes of card images.
// Two scans of the same physical card produce hashes within a small
// Hamming distance of each other even under lighting and angle changes.
package phash

import (
	"bytes"
	"fmt"
	"image"

	// Register the decoders for the formats card scans arrive in.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/corona10/goimagehash"
)

// FromImage computes the 64-bit average hash of a decoded image.
func FromImage(img image.Image) (uint64, error) {
	h, err := goimagehash.AverageHash(img)
	if err != nil {
		return 0, fmt.Errorf("phash: failed to hash image: %w", err)
	}
	return h.GetHash(), nil
}

// FromBytes decodes an encoded image (JPEG, PNG or GIF) and computes its
// 64-bit average hash.
func FromBytes(data []byte) (uint64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("phash: failed to decode image: %w", err)
	}
	return FromImage(img)
}
