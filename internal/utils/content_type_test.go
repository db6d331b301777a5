package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectContentType(t *testing.T) {
	tests := map[string]string{
		"Artist/Album/01.mp3":  "audio/mpeg",
		"Artist/Album/01.FLAC": "audio/flac",
		"a.ogg":                "audio/ogg",
		"cover.png":            "image/png",
		"no-extension":         "application/octet-stream",
		"blob.unknownext":      "application/octet-stream",
	}
	for key, want := range tests {
		assert.Equal(t, want, DetectContentType(key), key)
	}
}
