//go:build !(cgo && sqlite3_cgo)

package db

import (
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)

func fileDSN(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("file:%s?mode=rwc&_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)&_pragma=synchronous(normal)",
		path, busyTimeout.Milliseconds())
}
