package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mdbmanager/mdbsync/internal/utils"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

const (
	defaultBusyTimeout = 5 * time.Second

	// catalog writes are serialized by the catalog service, the second
	// connection serves settings lookups and offline CLI reads
	fileMaxOpenConns = 2
)

type options struct {
	path        string
	busyTimeout time.Duration
}

type Option func(*options)

func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithBusyTimeout sets how long a connection waits on a locked database
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.busyTimeout = d
	}
}

// NewSqliteDB opens the catalog and settings database. File databases run in
// WAL mode with the pragmas applied to every pooled connection.
func NewSqliteDB(opts ...Option) (*sqlx.DB, error) {
	o := &options{
		path:        MemoryPath,
		busyTimeout: defaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.path == MemoryPath {
		db, err := sqlx.Connect(driverName, MemoryPath)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
		return db, nil
	}

	if err := utils.EnsureParent(o.path); err != nil {
		return nil, fmt.Errorf("ensure parent directory: %w", err)
	}

	db, err := sqlx.Connect(driverName, fileDSN(o.path, o.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", o.path, err)
	}
	db.SetMaxOpenConns(fileMaxOpenConns)

	slog.Debug("db open", "driver", driverID, "path", o.path)
	return db, nil
}
