package classify

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
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

func TestFingerprintDeterministic(t *testing.T) {
	img := testImage(8, 8, color.RGBA{R: 200, G: 10, B: 10, A: 255})

	first := Fingerprint(img)
	second := Fingerprint(img)

	assert.Equal(t, first, second)
	assert.Len(t, first, 32)
}

func TestFingerprintDiffersByContent(t *testing.T) {
	red := testImage(8, 8, color.RGBA{R: 255, A: 255})
	blue := testImage(8, 8, color.RGBA{B: 255, A: 255})

	assert.NotEqual(t, Fingerprint(red), Fingerprint(blue))
}

func TestFingerprintDiffersByShape(t *testing.T) {
	wide := testImage(16, 4, color.RGBA{R: 9, G: 9, B: 9, A: 255})
	tall := testImage(4, 16, color.RGBA{R: 9, G: 9, B: 9, A: 255})

	assert.NotEqual(t, Fingerprint(wide), Fingerprint(tall))
}

func TestFingerprintStableAcrossEncodings(t *testing.T) {
	// A decode/re-encode round trip of the same pixels must hash the same.
	img := testImage(6, 6, color.RGBA{R: 40, G: 80, B: 120, A: 255})
	data := encodePNG(t, img)

	decoded, format, err := DecodeImage(data)
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	assert.Equal(t, Fingerprint(img), Fingerprint(decoded))
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	_, _, err := DecodeImage([]byte("definitely not an image"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedImage)
}
