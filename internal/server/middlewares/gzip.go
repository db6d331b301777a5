package middlewares

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

var (
	// archives and audio are already compressed
	excludedPaths = []string{
		"/healthz",
		"/sync/download-diff",
		"/sync/file/",
		"/auth/totp/qr",
	}
	excludedExtensions = []string{
		".png", ".jpeg", ".jpg", ".webp",
		".zip", ".gz",
		".mp3", ".flac", ".ogg", ".opus", ".m4a",
	}
)

func GZIP() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.BestSpeed,
		gzip.WithExcludedPaths(excludedPaths),
		gzip.WithExcludedExtensions(excludedExtensions),
	)
}
