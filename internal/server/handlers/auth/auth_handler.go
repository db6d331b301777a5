package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mdbmanager/mdbsync/internal/server/auth"
	"github.com/mdbmanager/mdbsync/internal/server/handlers/api"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

type AuthHandler struct {
	auth *auth.AuthService
}

func New(auth *auth.AuthService) *AuthHandler {
	return &AuthHandler{
		auth: auth,
	}
}

func (h *AuthHandler) OTPVerify(ctx *gin.Context) {
	var req OTPVerifyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	accessToken, refreshToken, err := h.auth.GenerateTokens(ctx.Request.Context(), req.Code, req.Device)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidDevice):
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		case errors.Is(err, auth.ErrInvalidOTP), errors.Is(err, auth.ErrOTPReplayed):
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthOTPVerificationFailed, err)
		default:
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeAuthTokenGenerationFailed, err)
		}
		return
	}

	ctx.JSON(http.StatusOK, &OTPVerifyResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(h.auth.Config().AccessTokenExpiry.Seconds()),
	})
}

func (h *AuthHandler) Refresh(ctx *gin.Context) {
	var req RefreshRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	accessToken, refreshToken, err := h.auth.RefreshToken(ctx.Request.Context(), req.OldRefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrInvalidRequestToken) {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthTokenRefreshFailed, err)
		} else {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeAuthTokenRefreshFailed, err)
		}
		return
	}

	ctx.JSON(http.StatusOK, &RefreshResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(h.auth.Config().AccessTokenExpiry.Seconds()),
	})
}

// ProvisioningURI returns the otpauth URI, or 404 when provisioning is off
func (h *AuthHandler) ProvisioningURI(ctx *gin.Context) {
	uri, err := h.auth.ProvisioningURI(ctx.Request.Context())
	if err != nil {
		h.provisioningError(ctx, err)
		return
	}

	ctx.Header("Cache-Control", "no-store")
	ctx.JSON(http.StatusOK, &ProvisioningURIResponse{URI: uri})
}

// ProvisioningQR returns the otpauth URI as a PNG QR code.
// The optional size query sets the image edge in pixels.
func (h *AuthHandler) ProvisioningQR(ctx *gin.Context) {
	size := defaultQRSize
	if raw := ctx.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxQRSize {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid size %q", raw))
			return
		}
		size = n
	}

	img, err := h.auth.ProvisioningQR(ctx.Request.Context(), size)
	if err != nil {
		h.provisioningError(ctx, err)
		return
	}

	ctx.Header("Cache-Control", "no-store")
	ctx.Data(http.StatusOK, "image/png", img)
}

func (h *AuthHandler) provisioningError(ctx *gin.Context, err error) {
	if errors.Is(err, auth.ErrProvisioningOff) {
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeNotFound, err)
		return
	}
	api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
}
