package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mdbmanager/mdbsync/internal/server/auth"
	"github.com/mdbmanager/mdbsync/internal/server/handlers/api"
)

const (
	bearerPrefix      = "Bearer "
	authHeader        = "Authorization"
	userContextKey    = "user"
	sessionContextKey = "session"
)

// AccessTokenValidator checks bearer tokens
type AccessTokenValidator interface {
	ValidateAccessToken(ctx context.Context, accessToken string) (*auth.Claims, error)
}

// JWTAuth rejects requests without a valid access token. On success the
// device name is stored under "user" and the sync session key under "session".
func JWTAuth(validator AccessTokenValidator) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeaderValue := ctx.GetHeader(authHeader)
		if authHeaderValue == "" {
			unauthorized(ctx, errors.New("authorization header is missing"))
			return
		}

		if !strings.HasPrefix(authHeaderValue, bearerPrefix) {
			unauthorized(ctx, errors.New("authorization header format must be Bearer {token}"))
			return
		}

		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeaderValue, bearerPrefix))
		if tokenString == "" {
			unauthorized(ctx, errors.New("token is missing"))
			return
		}

		claims, err := validator.ValidateAccessToken(ctx.Request.Context(), tokenString)
		if err != nil {
			unauthorized(ctx, err)
			return
		}

		ctx.Set(userContextKey, claims.Subject)
		ctx.Set(sessionContextKey, claims.SessionKey())
		ctx.Next()
	}
}

func unauthorized(ctx *gin.Context, err error) {
	api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials, err)
}

// GetUser returns the device name set by JWTAuth
func GetUser(ctx *gin.Context) string {
	return ctx.GetString(userContextKey)
}

// GetSessionKey returns the sync session key set by JWTAuth
func GetSessionKey(ctx *gin.Context) string {
	return ctx.GetString(sessionContextKey)
}
