package sync

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mdbmanager/mdbsync/internal/server/accesslog"
	"github.com/mdbmanager/mdbsync/internal/server/handlers/api"
	"github.com/mdbmanager/mdbsync/internal/server/middlewares"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

type HistoryReader interface {
	DeviceLogs(device string, limit int) ([]*accesslog.Entry, error)
}

type HistoryHandler struct {
	history HistoryReader
}

func NewHistoryHandler(history HistoryReader) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// History returns the calling device's most recent sync requests
func (h *HistoryHandler) History(ctx *gin.Context) {
	limit := defaultHistoryLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, errInvalidLimit)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := h.history.DeviceLogs(middlewares.GetUser(ctx), limit)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	ctx.JSON(http.StatusOK, &HistoryResponse{Entries: entries})
}
