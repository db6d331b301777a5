package sync

import (
	"errors"

	"github.com/mdbmanager/mdbsync/internal/server/accesslog"
)

var errInvalidLimit = errors.New("limit must be a positive integer")

type HistoryResponse struct {
	Entries []*accesslog.Entry `json:"entries"`
}
