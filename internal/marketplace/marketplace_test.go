package marketplace

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoragePathResolvedUnderConfiguredDir(t *testing.T) {
	r := NewRegistry(nil, "/var/lib/visionclass/models")
	assert.Equal(t,
		filepath.Join("/var/lib/visionclass/models", "abc.model"),
		r.storagePathFor("abc"))

	// An empty dir falls back to the default rather than the filesystem root.
	r = NewRegistry(nil, "")
	assert.Equal(t, filepath.Join("./models", "abc.model"), r.storagePathFor("abc"))
}

func TestValidateModel(t *testing.T) {
	valid := func() *CustomModel {
		return &CustomModel{Name: "flowers", Version: "1.0", Framework: "pytorch", Accuracy: 0.9}
	}

	assert.NoError(t, validateModel(valid()))

	m := valid()
	m.Name = ""
	assert.ErrorIs(t, validateModel(m), ErrInvalidModel)

	m = valid()
	m.Version = ""
	assert.ErrorIs(t, validateModel(m), ErrInvalidModel)

	m = valid()
	m.Framework = "caffe"
	assert.ErrorIs(t, validateModel(m), ErrInvalidModel)

	m = valid()
	m.Accuracy = 1.5
	assert.ErrorIs(t, validateModel(m), ErrInvalidModel)
}
