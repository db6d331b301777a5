package accesslog

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const headerBundleFiles = "X-Bundle-Files"

// Middleware records every request that passed authentication.
// A nil logger disables it.
func Middleware(al *AccessLogger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if al == nil {
			ctx.Next()
			return
		}

		start := al.clock.Now()
		ctx.Next()

		device := ctx.GetString("user")
		if device == "" {
			return
		}

		entry := &Entry{
			Timestamp: start.UTC(),
			Route:     ctx.FullPath(),
			Method:    ctx.Request.Method,
			Path:      ctx.Param("path"),
			Device:    device,
			Session:   ctx.GetString("session"),
			IP:        ctx.ClientIP(),
			UserAgent: ctx.Request.UserAgent(),
			Status:    ctx.Writer.Status(),
			Bytes:     int64(max(ctx.Writer.Size(), 0)),
			Took:      al.clock.Since(start).Milliseconds(),
		}
		if files, err := strconv.Atoi(ctx.Writer.Header().Get(headerBundleFiles)); err == nil {
			entry.Files = files
		}
		if err := ctx.Errors.Last(); err != nil {
			entry.Error = err.Error()
		}

		al.Log(entry)
	}
}
