package catalog

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jmoiron/sqlx"
)

const (
	BackendSqlite = "sqlite"
	BackendBadger = "badger"
)

// Store is the durable home of the catalog records.
type Store interface {
	// Load returns all records from one consistent read
	Load(ctx context.Context) ([]*Record, error)

	// Get returns the record for path or ErrNotFound
	Get(ctx context.Context, path string) (*Record, error)

	// Save adds or updates a single record
	Save(ctx context.Context, record *Record) error

	// Delete removes the record for path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error

	// Replace makes the store hold exactly the given records
	Replace(ctx context.Context, records []*Record) (*ReplaceResult, error)

	// Count returns the number of records
	Count(ctx context.Context) (int, error)

	// Clear removes every record
	Clear(ctx context.Context) error

	Close() error
}

// ReplaceResult summarises a Replace call
type ReplaceResult struct {
	Added   int `db:"added"`
	Updated int `db:"updated"`
	Deleted int `db:"deleted"`
}

func (r *ReplaceResult) Changed() bool {
	return r.Added+r.Updated+r.Deleted > 0
}

// OpenStore opens the store selected by cfg.Backend.
// The sqlite backend shares db with the rest of the server state.
func OpenStore(cfg *Config, db *sqlx.DB, dataDir string) (Store, error) {
	switch cfg.Backend {
	case "", BackendSqlite:
		return NewSqliteStore(db)
	case BackendBadger:
		dir := cfg.BadgerDir
		if dir == "" {
			dir = filepath.Join(dataDir, "catalog")
		}
		return NewBadgerStore(dir)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidBackend, cfg.Backend)
	}
}
