package syncsdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/mdbmanager/mdbsync/internal/server/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	*httptest.Server
	refreshes  atomic.Int32
	validToken atomic.Value
	pending    atomic.Bool
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.validToken.Store("")

	authorized := func(w http.ResponseWriter, r *http.Request) bool {
		want := fs.validToken.Load().(string)
		if want == "" || r.Header.Get("Authorization") != "Bearer "+want {
			writeJSON(w, http.StatusUnauthorized, APIError{Code: CodeAuthInvalidCredentials, Message: "invalid token"})
			return false
		}
		return true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body RefreshTokenRequest
		json.NewDecoder(r.Body).Decode(&body)
		if body.RefreshToken != "refresh-1" && body.RefreshToken != "refresh-2" {
			writeJSON(w, http.StatusUnauthorized, APIError{Code: CodeAuthTokenRefreshFailed, Message: "bad refresh token"})
			return
		}
		n := fs.refreshes.Add(1)
		access := "access-" + string(rune('0'+n))
		fs.validToken.Store(access)
		writeJSON(w, http.StatusOK, AuthTokenResponse{AccessToken: access, RefreshToken: "refresh-2", ExpiresIn: 3600})
	})
	mux.HandleFunc("POST /auth/otp/verify", func(w http.ResponseWriter, r *http.Request) {
		var body VerifyOTPRequest
		json.NewDecoder(r.Body).Decode(&body)
		if body.Code != "123456" {
			writeJSON(w, http.StatusUnauthorized, APIError{Code: CodeAuthOTPVerificationFailed, Message: "invalid otp"})
			return
		}
		writeJSON(w, http.StatusOK, AuthTokenResponse{AccessToken: "a", RefreshToken: "refresh-1", ExpiresIn: 60})
	})
	mux.HandleFunc("POST /sync/upload-metadata", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		var local catalog.Digests
		json.NewDecoder(r.Body).Decode(&local)
		diff := map[string]string{}
		if _, ok := local["a.mp3"]; !ok {
			diff["a.mp3"] = "aa"
		}
		fs.pending.Store(len(diff) > 0)
		writeJSON(w, http.StatusOK, diff)
	})
	mux.HandleFunc("GET /sync/download-diff", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		if !fs.pending.Swap(false) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set(HeaderBundleFiles, "1")
		w.Header().Set(HeaderBundleSkipped, "0")
		w.Write([]byte("PK-not-really"))
	})
	mux.HandleFunc("GET /sync/file/", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		if r.URL.Path != "/sync/file/My Album/01 #1.mp3" {
			writeJSON(w, http.StatusNotFound, APIError{Code: CodeCatalogFileNotFound, Message: "missing"})
			return
		}
		w.Write([]byte("song"))
	})

	mux.HandleFunc("GET /sync/metadata", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"a.mp3":"aa","b/c.flac":"bb"}`))
	})

	mux.HandleFunc("GET /sync/history", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		if r.URL.Query().Get("limit") != "2" {
			writeJSON(w, http.StatusBadRequest, APIError{Code: "E_INVALID_REQUEST", Message: "bad limit"})
			return
		}
		writeJSON(w, http.StatusOK, HistoryResponse{Entries: []HistoryEntry{
			{Route: "/sync/upload-metadata", Status: 200},
			{Route: "/sync/download-diff", Status: 200, Files: 3},
		}})
	})

	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func TestVerifyOTP(t *testing.T) {
	srv := newFakeServer(t)

	resp, err := VerifyOTP(context.Background(), srv.URL, &VerifyOTPRequest{Code: "123456"})
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", resp.RefreshToken)

	_, err = VerifyOTP(context.Background(), srv.URL, &VerifyOTPRequest{Code: "000000"})
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, CodeAuthOTPVerificationFailed, apiErr.Code)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestConfigValidate(t *testing.T) {
	_, err := New(&Config{RefreshToken: "x"})
	assert.ErrorIs(t, err, ErrNoServerURL)

	_, err = New(&Config{BaseURL: "http://localhost"})
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestAuthenticatesAndRotates(t *testing.T) {
	srv := newFakeServer(t)

	sdk, err := New(&Config{BaseURL: srv.URL, RefreshToken: "refresh-1"})
	require.NoError(t, err)

	var saved string
	sdk.OnTokenUpdate(func(access, refresh string) {
		saved = refresh
	})

	resp, err := sdk.Sync.UploadMetadata(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Files)
	assert.Equal(t, "refresh-2", saved)
	assert.Equal(t, int32(1), srv.refreshes.Load())

	// server forgets the token, the sdk refreshes once and retries
	srv.validToken.Store("access-other")
	resp, err = sdk.Sync.UploadMetadata(context.Background(), catalog.Digests{"a.mp3": "aa"})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Files)
	assert.Equal(t, int32(2), srv.refreshes.Load())
}

func TestAuthenticateRejected(t *testing.T) {
	srv := newFakeServer(t)

	sdk, err := New(&Config{BaseURL: srv.URL, RefreshToken: "stolen"})
	require.NoError(t, err)

	_, err = sdk.Sync.Status(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(0), srv.refreshes.Load())
}

func TestDownloadDiff(t *testing.T) {
	srv := newFakeServer(t)
	sdk, err := New(&Config{BaseURL: srv.URL, RefreshToken: "refresh-1"})
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "tmp", "diff.zip")

	_, err = sdk.Sync.DownloadDiff(context.Background(), dest)
	assert.ErrorIs(t, err, ErrNothingPending)
	assert.NoFileExists(t, dest)

	_, err = sdk.Sync.UploadMetadata(context.Background(), catalog.Digests{})
	require.NoError(t, err)

	dl, err := sdk.Sync.DownloadDiff(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, 1, dl.Files)
	assert.Equal(t, 0, dl.Skipped)
	assert.Equal(t, int64(len("PK-not-really")), dl.Size)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "PK-not-really", string(data))
}

func TestFile(t *testing.T) {
	srv := newFakeServer(t)
	sdk, err := New(&Config{BaseURL: srv.URL, RefreshToken: "refresh-1"})
	require.NoError(t, err)

	dir := t.TempDir()
	dest := filepath.Join(dir, "song.mp3")
	require.NoError(t, sdk.Sync.File(context.Background(), "My Album/01 #1.mp3", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "song", string(data))

	missing := filepath.Join(dir, "missing.mp3")
	err = sdk.Sync.File(context.Background(), "nope.mp3", missing)
	assert.ErrorIs(t, err, ErrFileNotFound)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, CodeCatalogFileNotFound, apiErr.Code)
	assert.NoFileExists(t, missing)
}

func TestHistory(t *testing.T) {
	srv := newFakeServer(t)
	sdk, err := New(&Config{BaseURL: srv.URL, RefreshToken: "refresh-1"})
	require.NoError(t, err)

	resp, err := sdk.Sync.History(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "/sync/download-diff", resp.Entries[1].Route)
	assert.Equal(t, 3, resp.Entries[1].Files)

	_, err = sdk.Sync.History(context.Background(), 5)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestMetadata(t *testing.T) {
	srv := newFakeServer(t)
	sdk, err := New(&Config{BaseURL: srv.URL, RefreshToken: "refresh-1"})
	require.NoError(t, err)

	resp, err := sdk.Sync.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, catalog.Digests{"a.mp3": "aa", "b/c.flac": "bb"}, resp.Catalog)
	assert.Equal(t, 2, resp.Files)
}

func TestEscapePath(t *testing.T) {
	assert.Equal(t, "a/b%20c/d%23e.mp3", escapePath("a/b c/d#e.mp3"))
}

func TestDefaultDeviceName(t *testing.T) {
	name := DefaultDeviceName()
	assert.Regexp(t, `^device-[A-Za-z0-9]+$`, name)
	assert.LessOrEqual(t, len(name), 64)
}
