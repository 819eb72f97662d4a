package phash

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gradient draws a horizontal gradient with a dark band, enough structure
// for a stable average hash.
func gradient(w, h int, bandAt int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / w)
			if y > bandAt && y < bandAt+h/8 {
				v /= 4
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFromBytesDeterministic(t *testing.T) {
	data := encodePNG(t, gradient(64, 64, 16))

	a, err := FromBytes(data)
	require.NoError(t, err)
	b, err := FromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSimilarImagesAreClose(t *testing.T) {
	base, err := FromBytes(encodePNG(t, gradient(64, 64, 16)))
	require.NoError(t, err)

	// Nudge the band by one row: a near-duplicate scan.
	near, err := FromBytes(encodePNG(t, gradient(64, 64, 17)))
	require.NoError(t, err)

	// Invert the gradient: a different card.
	farImg := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			farImg.SetGray(x, y, color.Gray{Y: uint8(255 - x*255/64)})
		}
	}
	far, err := FromBytes(encodePNG(t, farImg))
	require.NoError(t, err)

	nearDist := bits.OnesCount64(base ^ near)
	farDist := bits.OnesCount64(base ^ far)
	assert.LessOrEqual(t, nearDist, 5)
	assert.Greater(t, farDist, nearDist)
}

func TestFromBytesRejectsGarbage(t *testing.T) {
	_, err := FromBytes([]byte("not an image"))
	assert.Error(t, err)
}
