package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS catalog (
	path TEXT PRIMARY KEY,
	digest TEXT NOT NULL,
	size INTEGER NOT NULL,
	modified_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_catalog_digest ON catalog(digest);
`

// recordRow is the sqlite form of a Record. Timestamps are stored as RFC3339 text.
type recordRow struct {
	Path       string `db:"path"`
	Digest     string `db:"digest"`
	Size       int64  `db:"size"`
	ModifiedAt string `db:"modified_at"`
}

func toRow(r *Record) *recordRow {
	return &recordRow{
		Path:       r.Path,
		Digest:     r.Digest,
		Size:       r.Size,
		ModifiedAt: r.ModifiedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (row *recordRow) record() *Record {
	modifiedAt, _ := time.Parse(time.RFC3339Nano, row.ModifiedAt)
	return &Record{
		Path:       row.Path,
		Digest:     row.Digest,
		Size:       row.Size,
		ModifiedAt: modifiedAt,
	}
}

// SqliteStore keeps the catalog in a sqlite table
type SqliteStore struct {
	db *sqlx.DB
}

func NewSqliteStore(db *sqlx.DB) (*SqliteStore, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize catalog table: %w", err)
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Load(ctx context.Context) ([]*Record, error) {
	var rows []*recordRow
	err := s.db.SelectContext(ctx, &rows, "SELECT path, digest, size, modified_at FROM catalog ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	records := make([]*Record, len(rows))
	for i, row := range rows {
		records[i] = row.record()
	}
	return records, nil
}

func (s *SqliteStore) Get(ctx context.Context, path string) (*Record, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row, "SELECT path, digest, size, modified_at FROM catalog WHERE path = ?", path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", path, err)
	}
	return row.record(), nil
}

func (s *SqliteStore) Save(ctx context.Context, record *Record) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT OR REPLACE INTO catalog (path, digest, size, modified_at) VALUES (:path, :digest, :size, :modified_at)`,
		toRow(record),
	)
	if err != nil {
		return fmt.Errorf("failed to save %q: %w", record.Path, err)
	}
	return nil
}

func (s *SqliteStore) Delete(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM catalog WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to delete %q: %w", path, err)
	}
	return nil
}

func (s *SqliteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM catalog"); err != nil {
		return 0, fmt.Errorf("failed to count catalog: %w", err)
	}
	return count, nil
}

func (s *SqliteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM catalog"); err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}
	return nil
}

// Close is a no-op. The connection is owned by whoever opened it.
func (s *SqliteStore) Close() error {
	return nil
}

// Replace loads the records into a temp table and reconciles the catalog
// against it inside one transaction: rows missing from records are deleted,
// new rows are inserted and changed rows are rewritten.
func (s *SqliteStore) Replace(ctx context.Context, records []*Record) (res *ReplaceResult, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		CREATE TEMPORARY TABLE IF NOT EXISTS temp_catalog (
			path TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			size INTEGER NOT NULL,
			modified_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary table: %w", err)
	}

	// a previous failed run on this connection may have left rows behind
	if _, err = tx.ExecContext(ctx, `DELETE FROM temp_catalog`); err != nil {
		return nil, fmt.Errorf("failed to reset temporary table: %w", err)
	}

	insertStmt, err := tx.PreparexContext(ctx,
		`INSERT OR REPLACE INTO temp_catalog (path, digest, size, modified_at) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer insertStmt.Close()

	for _, r := range records {
		row := toRow(r)
		if _, err = insertStmt.ExecContext(ctx, row.Path, row.Digest, row.Size, row.ModifiedAt); err != nil {
			return nil, fmt.Errorf("failed to stage %q: %w", r.Path, err)
		}
	}

	res = &ReplaceResult{}

	err = tx.GetContext(ctx, &res.Deleted, `
		SELECT COUNT(*) FROM catalog c
		LEFT JOIN temp_catalog t ON c.path = t.path
		WHERE t.path IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count deleted records: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM catalog
		WHERE path NOT IN (SELECT path FROM temp_catalog)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to remove deleted records: %w", err)
	}

	err = tx.GetContext(ctx, &res.Added, `
		SELECT COUNT(*) FROM temp_catalog t
		LEFT JOIN catalog c ON t.path = c.path
		WHERE c.path IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count new records: %w", err)
	}

	err = tx.GetContext(ctx, &res.Updated, `
		SELECT COUNT(*) FROM temp_catalog t
		JOIN catalog c ON t.path = c.path
		WHERE t.digest != c.digest OR t.size != c.size OR t.modified_at != c.modified_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count updated records: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO catalog (path, digest, size, modified_at)
		SELECT t.path, t.digest, t.size, t.modified_at
		FROM temp_catalog t
		LEFT JOIN catalog c ON t.path = c.path
		WHERE c.path IS NULL OR t.digest != c.digest OR t.size != c.size OR t.modified_at != c.modified_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert records: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DROP TABLE temp_catalog`); err != nil {
		return nil, fmt.Errorf("failed to drop temporary table: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return res, nil
}

var _ Store = (*SqliteStore)(nil)
