package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zip"
	"github.com/mdbmanager/mdbsync/internal/db"
	"github.com/mdbmanager/mdbsync/internal/server/auth"
	"github.com/mdbmanager/mdbsync/internal/server/catalog"
	"github.com/mdbmanager/mdbsync/internal/server/handlers/api"
	"github.com/pquerna/otp/totp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXP"

func testConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{Addr: DefaultAddr},
		Auth: auth.Config{
			AccessTokenSecret:  "access-secret-0123456789",
			RefreshTokenSecret: "refresh-secret-0123456789",
			TOTPSecret:         testTOTPSecret,
			OTPRateLimit:       "100-M",
		},
		Catalog: catalog.Config{
			ContentRoot: "/music",
			HashWorkers: 2,
		},
		DataDir: "/data",
	}
}

func setupTestServer(t *testing.T, files map[string]string) (http.Handler, *Services) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fsys := afero.NewMemMapFs()
	for p, content := range files {
		require.NoError(t, afero.WriteFile(fsys, "/music/"+p, []byte(content), 0o644))
	}

	sqlDB, err := db.NewSqliteDB(db.WithPath(db.MemoryPath))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	cfg := testConfig()
	svc, err := newServices(cfg, sqlDB, fsys)
	require.NoError(t, err)

	_, err = svc.Catalog.Refresh(context.Background())
	require.NoError(t, err)

	handler, err := SetupRoutes(cfg, svc)
	require.NoError(t, err)
	return handler, svc
}

func request(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, h http.Handler, device string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCode(testTOTPSecret, at)
	require.NoError(t, err)

	w := request(t, h, http.MethodPost, "/auth/otp/verify", "", map[string]string{"code": code, "device": device})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken
}

func TestPublicRoutes(t *testing.T) {
	h, _ := setupTestServer(t, nil)

	w := request(t, h, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "mdbsync "))

	w = request(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = request(t, h, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// provisioning is off by default
	w = request(t, h, http.MethodGet, "/auth/totp/uri", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSyncRoutesRequireAuth(t *testing.T) {
	h, _ := setupTestServer(t, nil)

	for _, path := range []string{"/sync/metadata", "/sync/status", "/sync/download-diff"} {
		w := request(t, h, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
	w := request(t, h, http.MethodPost, "/catalog/refresh", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFullSync(t *testing.T) {
	h, _ := setupTestServer(t, map[string]string{
		"rock/a.mp3":      "aaa",
		"jazz/b.flac":     "bbb",
		"notes.txt":       "not music",
		"jazz/c.ogg":      "ccc",
		".DS_Store":       "junk",
		"rock/d.mp3.part": "partial",
	})

	token := login(t, h, "laptop", time.Now())

	w := request(t, h, http.MethodGet, "/sync/metadata", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var meta map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meta))
	assert.Len(t, meta, 3)
	assert.Contains(t, meta, "jazz/b.flac")

	w = request(t, h, http.MethodPost, "/sync/upload-metadata", token, map[string]string{})
	require.Equal(t, http.StatusOK, w.Code)

	w = request(t, h, http.MethodGet, "/sync/download-diff", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := w.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"jazz/b.flac", "jazz/c.ogg", "rock/a.mp3"}, names)

	w = request(t, h, http.MethodGet, "/sync/download-diff", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = request(t, h, http.MethodGet, "/sync/history?limit=2", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Entries []struct {
			Route  string `json:"route"`
			Device string `json:"device"`
			Status int    `json:"status"`
			Files  int    `json:"files"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Entries, 2)
	assert.Equal(t, "/sync/download-diff", history.Entries[0].Route)
	assert.Equal(t, "laptop", history.Entries[0].Device)
	assert.Equal(t, 3, history.Entries[0].Files)
	assert.Equal(t, http.StatusNoContent, history.Entries[1].Status)
}

func TestOTPVerifyRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)

	sqlDB, err := db.NewSqliteDB(db.WithPath(db.MemoryPath))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	cfg := testConfig()
	cfg.Auth.OTPRateLimit = "2-M"
	svc, err := newServices(cfg, sqlDB, afero.NewMemMapFs())
	require.NoError(t, err)
	h, err := SetupRoutes(cfg, svc)
	require.NoError(t, err)

	for range 2 {
		w := request(t, h, http.MethodPost, "/auth/otp/verify", "", map[string]string{"code": "000000"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := request(t, h, http.MethodPost, "/auth/otp/verify", "", map[string]string{"code": "000000"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var e api.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.Equal(t, api.CodeRateLimited, e.Code)
}
