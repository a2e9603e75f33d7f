package upload

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionclass/backend/internal/classify"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestValidateAcceptsPNG(t *testing.T) {
	v := NewValidator(1 << 20)

	up, err := v.Validate("photo.png", pngBytes(t))
	require.NoError(t, err)

	assert.Equal(t, "photo.png", up.Filename)
	assert.Equal(t, "image/png", up.ContentType)
	assert.Equal(t, "png", up.Format)
	assert.NotNil(t, up.Image)
	assert.True(t, strings.HasSuffix(up.SafeName, ".png"))
	assert.NotEqual(t, "photo.png", up.SafeName, "storage name must not reuse the client name")
}

func TestValidateAcceptsJPEG(t *testing.T) {
	v := NewValidator(1 << 20)

	up, err := v.Validate("shot.jpeg", jpegBytes(t))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", up.ContentType)
	assert.Equal(t, "jpeg", up.Format)
}

func TestValidateMissingFilename(t *testing.T) {
	v := NewValidator(1 << 20)

	up, err := v.Validate("", pngBytes(t))
	require.NoError(t, err, "uploads without a filename are still valid")
	assert.True(t, strings.HasSuffix(up.SafeName, ".png"))
}

func TestValidateEmpty(t *testing.T) {
	v := NewValidator(1 << 20)

	_, err := v.Validate("photo.png", nil)
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestValidateTooLarge(t *testing.T) {
	data := pngBytes(t)
	v := NewValidator(int64(len(data)) - 1)

	_, err := v.Validate("photo.png", data)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestValidateExtensionMismatch(t *testing.T) {
	v := NewValidator(1 << 20)

	// PNG bytes claiming to be a JPEG.
	_, err := v.Validate("photo.jpg", pngBytes(t))
	assert.ErrorIs(t, err, ErrExtensionMismatch)
}

func TestValidateUnsupportedType(t *testing.T) {
	v := NewValidator(1 << 20)

	_, err := v.Validate("doc.pdf", []byte("%PDF-1.4 not an image"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestValidateGarbageWithImageMagic(t *testing.T) {
	v := NewValidator(1 << 20)

	// A valid PNG signature followed by junk passes type sniffing but must
	// fail the decode step.
	data := append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, []byte("garbage")...)
	_, err := v.Validate("photo.png", data)
	assert.ErrorIs(t, err, classify.ErrMalformedImage)
}

func TestValidateUnsafeFilenames(t *testing.T) {
	v := NewValidator(1 << 20)
	data := pngBytes(t)

	for _, name := range []string{
		"../../etc/passwd.png",
		"dir/photo.png",
		"dir\\photo.png",
		"photo\x00.png",
		"photo\n.png",
	} {
		_, err := v.Validate(name, data)
		assert.ErrorIs(t, err, ErrUnsafeFilename, "filename %q", name)
	}
}
