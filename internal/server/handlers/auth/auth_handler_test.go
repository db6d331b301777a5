package auth

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/mdbmanager/mdbsync/internal/server/auth"
	"github.com/mdbmanager/mdbsync/internal/server/handlers/api"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "JBSWY3DPEHPK3PXP"

func setupRouter(t *testing.T, provisioning bool) (*gin.Engine, *auth.AuthService, clockwork.Clock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := clockwork.NewFakeClockAt(time.Now())
	svc := auth.NewAuthService(&auth.Config{
		AccessTokenSecret:   "access-secret-0123456789",
		AccessTokenExpiry:   time.Hour,
		RefreshTokenSecret:  "refresh-secret-0123456789",
		ProvisioningEnabled: provisioning,
	}, auth.StaticSecret(testSecret), auth.WithClock(clock))

	h := New(svc)
	r := gin.New()
	r.POST("/auth/otp/verify", h.OTPVerify)
	r.POST("/auth/refresh", h.Refresh)
	r.GET("/auth/totp/uri", h.ProvisioningURI)
	r.GET("/auth/totp/qr", h.ProvisioningQR)
	return r, svc, clock
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) api.APIError {
	t.Helper()
	var e api.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestOTPVerify(t *testing.T) {
	r, svc, clock := setupRouter(t, false)

	code, err := totp.GenerateCode(testSecret, clock.Now())
	require.NoError(t, err)

	w := doJSON(r, http.MethodPost, "/auth/otp/verify", `{"code":"`+code+`","device":"laptop"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp OTPVerifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	claims, err := svc.ValidateAccessToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "laptop", claims.Subject)

	// same code again is a replay
	w = doJSON(r, http.MethodPost, "/auth/otp/verify", `{"code":"`+code+`"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, api.CodeAuthOTPVerificationFailed, decodeError(t, w).Code)
}

func TestOTPVerifyErrors(t *testing.T) {
	r, _, clock := setupRouter(t, false)

	code, err := totp.GenerateCode(testSecret, clock.Now())
	require.NoError(t, err)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"code":`, http.StatusBadRequest, api.CodeInvalidRequest},
		{"missing code", `{"device":"x"}`, http.StatusBadRequest, api.CodeInvalidRequest},
		{"wrong code", `{"code":"000000"}`, http.StatusUnauthorized, api.CodeAuthOTPVerificationFailed},
		{"bad device", `{"code":"` + code + `","device":"../etc"}`, http.StatusBadRequest, api.CodeInvalidRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/auth/otp/verify", tc.body)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, decodeError(t, w).Code)
		})
	}
}

func TestRefresh(t *testing.T) {
	r, svc, clock := setupRouter(t, false)

	code, err := totp.GenerateCode(testSecret, clock.Now())
	require.NoError(t, err)
	access, refresh, err := svc.GenerateTokens(context.Background(), code, "phone")
	require.NoError(t, err)

	w := doJSON(r, http.MethodPost, "/auth/refresh", `{"refreshToken":"`+refresh+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp RefreshResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	before, err := svc.ValidateAccessToken(context.Background(), access)
	require.NoError(t, err)
	after, err := svc.ValidateAccessToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, before.SessionKey(), after.SessionKey())

	// an access token is not a refresh token
	w = doJSON(r, http.MethodPost, "/auth/refresh", `{"refreshToken":"`+access+`"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, api.CodeAuthTokenRefreshFailed, decodeError(t, w).Code)

	w = doJSON(r, http.MethodPost, "/auth/refresh", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProvisioningDisabled(t *testing.T) {
	r, _, _ := setupRouter(t, false)

	for _, path := range []string{"/auth/totp/uri", "/auth/totp/qr"} {
		w := doJSON(r, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, api.CodeNotFound, decodeError(t, w).Code)
	}
}

func TestProvisioningEnabled(t *testing.T) {
	r, _, _ := setupRouter(t, true)

	w := doJSON(r, http.MethodGet, "/auth/totp/uri", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp ProvisioningURIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.URI, "otpauth://totp/"))
	assert.Contains(t, resp.URI, "secret="+testSecret)

	w = doJSON(r, http.MethodGet, "/auth/totp/qr?size=128", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	w = doJSON(r, http.MethodGet, "/auth/totp/qr?size=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
