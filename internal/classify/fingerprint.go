package classify

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"image"

	// Registered decoders for the upload formats the service accepts.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// fingerprintHexLen truncates the SHA-256 digest to 128 bits of hex, which is
// plenty for collision resistance while keeping cache keys short.
const fingerprintHexLen = 32

// ErrMalformedImage is returned when bytes cannot be decoded as an image.
var ErrMalformedImage = errors.New("malformed image data")

// DecodeImage decodes raw upload bytes into an image. The format is detected
// from the content, never from the filename.
func DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}
	return img, format, nil
}

// Fingerprint derives a stable content hash from decoded pixel data. Hashing
// decoded pixels (not the original file bytes) means re-encodings of the same
// image share a cache entry. The bounds are mixed in so that identical pixel
// streams of different shapes do not collide.
func Fingerprint(img image.Image) string {
	h := sha256.New()

	bounds := img.Bounds()
	var dims [16]byte
	binary.BigEndian.PutUint32(dims[0:], uint32(bounds.Min.X))
	binary.BigEndian.PutUint32(dims[4:], uint32(bounds.Min.Y))
	binary.BigEndian.PutUint32(dims[8:], uint32(bounds.Dx()))
	binary.BigEndian.PutUint32(dims[12:], uint32(bounds.Dy()))
	h.Write(dims[:])

	// RGBA() normalizes every underlying pixel format to 16-bit channels, so
	// the digest does not depend on the decoder's internal representation.
	var px [8]byte
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			binary.BigEndian.PutUint16(px[0:], uint16(r))
			binary.BigEndian.PutUint16(px[2:], uint16(g))
			binary.BigEndian.PutUint16(px[4:], uint16(b))
			binary.BigEndian.PutUint16(px[6:], uint16(a))
			h.Write(px[:])
		}
	}

	return hex.EncodeToString(h.Sum(nil))[:fingerprintHexLen]
}
