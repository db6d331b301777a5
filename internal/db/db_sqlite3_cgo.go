//go:build cgo && sqlite3_cgo

package db

import (
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	driverID   = "mattn/go-sqlite3"
	driverName = "sqlite3"
)

func fileDSN(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("file:%s?mode=rwc&_txlock=immediate&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		path, busyTimeout.Milliseconds())
}
