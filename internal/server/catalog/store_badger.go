package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const badgerPrefix = "catalog:"

// BadgerStore keeps the catalog in an embedded badger database.
// Each record is stored as JSON under "catalog:<path>".
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens or creates a badger database in dir.
// An empty dir opens an in-memory database.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(badgerLogger{}).WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", dir, err)
	}

	slog.Info("catalog store", "backend", BackendBadger, "dir", dir)
	return &BadgerStore{db: db}, nil
}

func makeKey(path string) []byte {
	return []byte(badgerPrefix + path)
}

func stripPrefix(key []byte) string {
	return strings.TrimPrefix(string(key), badgerPrefix)
}

func (s *BadgerStore) Load(ctx context.Context) ([]*Record, error) {
	var records []*Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("decode %q: %w", stripPrefix(it.Item().Key()), err)
			}
			records = append(records, &r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return records, nil
}

func (s *BadgerStore) Get(ctx context.Context, path string) (*Record, error) {
	var r Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeKey(path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", path, err)
	}
	return &r, nil
}

func (s *BadgerStore) Save(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", record.Path, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(record.Path), data)
	})
}

func (s *BadgerStore) Delete(ctx context.Context, path string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(makeKey(path))
	})
}

func (s *BadgerStore) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(badgerPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (s *BadgerStore) Clear(ctx context.Context) error {
	return s.db.DropPrefix([]byte(badgerPrefix))
}

// Replace diffs records against the stored catalog and writes only the
// changes through a write batch. Large catalogs would overflow a single
// badger transaction.
func (s *BadgerStore) Replace(ctx context.Context, records []*Record) (*ReplaceResult, error) {
	existing, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}

	current := make(map[string]*Record, len(existing))
	for _, r := range existing {
		current[r.Path] = r
	}

	res := &ReplaceResult{}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		seen[r.Path] = struct{}{}

		old, ok := current[r.Path]
		switch {
		case !ok:
			res.Added++
		case !old.Equal(r):
			res.Updated++
		default:
			continue
		}

		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal %q: %w", r.Path, err)
		}
		if err := wb.Set(makeKey(r.Path), data); err != nil {
			return nil, fmt.Errorf("stage %q: %w", r.Path, err)
		}
	}

	for path := range current {
		if _, ok := seen[path]; ok {
			continue
		}
		res.Deleted++
		if err := wb.Delete(makeKey(path)); err != nil {
			return nil, fmt.Errorf("stage delete %q: %w", path, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := wb.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush catalog batch: %w", err)
	}

	return res, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's logs through slog
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	slog.Error("badger", "msg", strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Warningf(format string, args ...any) {
	slog.Warn("badger", "msg", strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(format string, args ...any) {
	slog.Debug("badger", "msg", strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Debugf(format string, args ...any) {
	slog.Debug("badger", "msg", strings.TrimSpace(fmt.Sprintf(format, args...)))
}

var _ Store = (*BadgerStore)(nil)
