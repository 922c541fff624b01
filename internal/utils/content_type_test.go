package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"photo.png", "image/png"},
		{"photo.jpg", "image/jpeg"},
		{"photo.webp", "image/webp"},
		{"archive.unknownext", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectContentType(tt.path))
		})
	}
}

func TestIsImagePath(t *testing.T) {
	assert.True(t, IsImagePath("/tmp/shot.PNG"))
	assert.True(t, IsImagePath("pic.jpeg"))
	assert.False(t, IsImagePath("notes.txt"))
	assert.False(t, IsImagePath("noext"))
}

func TestFileExt(t *testing.T) {
	assert.Equal(t, "png", FileExt("/a/b/shot.PNG"))
	assert.Equal(t, "jpg", FileExt("x.jpg"))
	assert.Equal(t, "", FileExt("noext"))
}
