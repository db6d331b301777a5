package sync

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/mdbmanager/mdbsync/internal/server/accesslog"
	"github.com/mdbmanager/mdbsync/internal/server/handlers/api"
	"github.com/mdbmanager/mdbsync/internal/server/middlewares"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	device string
	limit  int
	err    error
}

func (f *fakeHistory) DeviceLogs(device string, limit int) ([]*accesslog.Entry, error) {
	f.device, f.limit = device, limit
	if f.err != nil {
		return nil, f.err
	}
	return []*accesslog.Entry{{Device: device, Route: "/sync/status", Status: http.StatusOK}}, nil
}

func historyRouter(h HistoryReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/sync/history", middlewares.JWTAuth(tokenValidator{}), NewHistoryHandler(h).History)
	return r
}

func getHistory(r *gin.Engine, query string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/sync/history"+query, nil)
	req.Header.Set("Authorization", "Bearer laptop/s1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHistory(t *testing.T) {
	fake := &fakeHistory{}
	r := historyRouter(fake)

	w := getHistory(r, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "laptop", fake.device)
	assert.Equal(t, defaultHistoryLimit, fake.limit)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "/sync/status", resp.Entries[0].Route)

	getHistory(r, "?limit=100000")
	assert.Equal(t, maxHistoryLimit, fake.limit)

	for _, q := range []string{"?limit=0", "?limit=-1", "?limit=abc"} {
		w := getHistory(r, q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.Equal(t, api.CodeInvalidRequest, errorCode(t, w))
	}
}

func TestHistoryReadError(t *testing.T) {
	r := historyRouter(&fakeHistory{err: errors.New("disk on fire")})

	w := getHistory(r, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk on fire")
}
