package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mdbmanager/mdbsync/internal/server/accesslog"
	"github.com/mdbmanager/mdbsync/internal/server/handlers/api"
	"github.com/mdbmanager/mdbsync/internal/server/handlers/auth"
	"github.com/mdbmanager/mdbsync/internal/server/handlers/sync"
	"github.com/mdbmanager/mdbsync/internal/server/middlewares"
	"github.com/mdbmanager/mdbsync/internal/version"
)

func SetupRoutes(config *Config, svc *Services) (http.Handler, error) {
	r := gin.New()

	authH := auth.New(svc.Auth)
	syncH := sync.New(svc.Sync, svc.Catalog, svc.Resolver)
	historyH := sync.NewHistoryHandler(svc.AccessLog)

	otpLimiter, err := middlewares.RateLimiter(svc.Auth.Config().OTPRateLimit)
	if err != nil {
		return nil, err
	}

	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())
	r.Use(middlewares.GZIP())
	r.Use(middlewares.CORS())
	if config.HTTP.TLSEnabled() {
		r.Use(middlewares.HSTS())
	}

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	authG := r.Group("/auth")
	{
		authG.POST("/otp/verify", otpLimiter, authH.OTPVerify)
		authG.POST("/refresh", authH.Refresh)
		authG.GET("/totp/uri", authH.ProvisioningURI)
		authG.GET("/totp/qr", authH.ProvisioningQR)
	}

	jwt := middlewares.JWTAuth(svc.Auth)
	accessLog := accesslog.Middleware(svc.AccessLog)

	syncG := r.Group("/sync", jwt, accessLog)
	{
		syncG.POST("/upload-metadata", syncH.UploadMetadata)
		syncG.GET("/download-diff", syncH.DownloadDiff)
		syncG.GET("/metadata", syncH.Metadata)
		syncG.GET("/status", syncH.Status)
		syncG.GET("/file/*path", syncH.File)
		syncG.GET("/history", historyH.History)
	}

	catalogG := r.Group("/catalog", jwt, accessLog)
	{
		catalogG.POST("/refresh", syncH.RefreshCatalog)
	}

	r.NoRoute(func(c *gin.Context) {
		api.AbortWithError(c, http.StatusNotFound, api.CodeNotFound, errors.New("not found"))
	})

	r.NoMethod(func(c *gin.Context) {
		api.AbortWithError(c, http.StatusMethodNotAllowed, api.CodeInvalidRequest, errors.New("method not allowed"))
	})

	return r.Handler(), nil
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
