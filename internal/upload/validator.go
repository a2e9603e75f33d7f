// Package upload validates user-submitted image files before they reach the
// classification pipeline.
package upload

import (
	"errors"
	"fmt"
	"image"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/visionclass/backend/internal/classify"
)

var (
	ErrTooLarge          = errors.New("upload exceeds the maximum allowed size")
	ErrEmptyFile         = errors.New("upload is empty")
	ErrUnsupportedType   = errors.New("unsupported image type")
	ErrExtensionMismatch = errors.New("file extension does not match content")
	ErrUnsafeFilename    = errors.New("filename contains unsafe characters")
)

// allowedTypes maps detected MIME types to their acceptable extensions.
var allowedTypes = map[string][]string{
	"image/jpeg": {".jpg", ".jpeg"},
	"image/png":  {".png"},
	"image/gif":  {".gif"},
}

// Validator checks uploads against a byte cap and image-format rules.
type Validator struct {
	maxBytes int64
}

func NewValidator(maxBytes int64) *Validator {
	return &Validator{maxBytes: maxBytes}
}

// MaxBytes returns the configured size cap.
func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// Upload is a validated file ready for classification.
type Upload struct {
	Filename    string
	SafeName    string
	ContentType string
	Size        int64
	Image       image.Image
	Format      string
}

// Validate checks size, filename safety, magic-byte content type, extension
// agreement, and that the bytes decode as a real image. The content type is
// always taken from the bytes, never from the client-supplied header.
func (v *Validator) Validate(filename string, data []byte) (*Upload, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > v.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(data), v.maxBytes)
	}
	if err := checkFilename(filename); err != nil {
		return nil, err
	}

	contentType := http.DetectContentType(data)
	exts, ok := allowedTypes[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext != "" && !contains(exts, ext) {
		return nil, fmt.Errorf("%w: %s claims %s but content is %s", ErrExtensionMismatch, filename, ext, contentType)
	}

	img, format, err := classify.DecodeImage(data)
	if err != nil {
		return nil, err
	}

	return &Upload{
		Filename:    filename,
		SafeName:    safeName(ext, exts),
		ContentType: contentType,
		Size:        int64(len(data)),
		Image:       img,
		Format:      format,
	}, nil
}

// checkFilename rejects path traversal and control characters. The name is
// only ever used for display and extension checks, but a hostile name should
// still never be accepted.
func checkFilename(name string) error {
	if name == "" {
		return nil
	}
	if strings.ContainsAny(name, "/\\\x00") || strings.Contains(name, "..") {
		return ErrUnsafeFilename
	}
	for _, r := range name {
		if r < 0x20 {
			return ErrUnsafeFilename
		}
	}
	return nil
}

// safeName generates a collision-free storage name, preserving a valid
// extension or falling back to the canonical one for the detected type.
func safeName(ext string, validExts []string) string {
	if ext == "" || !contains(validExts, ext) {
		ext = validExts[0]
	}
	return uuid.New().String() + ext
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
