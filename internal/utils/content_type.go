package utils

import (
	"mime"
	"path"
	"strings"
)

// audio types that minimal systems often lack in their mime tables
var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".wma":  "audio/x-ms-wma",
}

func DetectContentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if t, ok := audioTypes[ext]; ok {
		return t
	} else if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}
