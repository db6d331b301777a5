package catalog

import (
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/mdbmanager/mdbsync/internal/server/diff"
)

var (
	ErrNotFound       = errors.New("catalog: record not found")
	ErrStoreNotEmpty  = errors.New("catalog: store is not empty")
	ErrInvalidBackend = errors.New("catalog: invalid backend")
)

// Record is the fingerprint of one file in the content library.
// Path is relative to the content root and always uses forward slashes.
type Record struct {
	Path       string    `json:"path"`
	Digest     string    `json:"digest"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

func (r *Record) Equal(o *Record) bool {
	return r.Path == o.Path && r.Digest == o.Digest && r.Size == o.Size && r.ModifiedAt.Equal(o.ModifiedAt)
}

// Digests is the wire form of a catalog: relative path -> digest
type Digests map[string]string

// Snapshot is an immutable view of the catalog at one point in time.
// It is safe to share between goroutines.
type Snapshot struct {
	TakenAt time.Time

	records map[string]Record
	digests map[string]string
}

// NewSnapshot builds a snapshot from a list of records. Later duplicates win.
func NewSnapshot(records []*Record, takenAt time.Time) *Snapshot {
	s := &Snapshot{
		TakenAt: takenAt,
		records: make(map[string]Record, len(records)),
		digests: make(map[string]string, len(records)),
	}
	for _, r := range records {
		if r == nil {
			continue
		}
		s.records[r.Path] = *r
		s.digests[r.Path] = r.Digest
	}
	return s
}

// EmptySnapshot returns a snapshot with no records
func EmptySnapshot() *Snapshot {
	return NewSnapshot(nil, time.Now())
}

func (s *Snapshot) Len() int {
	return len(s.records)
}

// Get returns a copy of the record stored for path
func (s *Snapshot) Get(path string) (*Record, bool) {
	r, ok := s.records[path]
	if !ok {
		return nil, false
	}
	return &r, true
}

// Digests returns a fresh path -> digest map owned by the caller
func (s *Snapshot) Digests() Digests {
	return maps.Clone(s.digests)
}

// Records returns copies of all records ordered by path
func (s *Snapshot) Records() []*Record {
	out := make([]*Record, 0, len(s.records))
	for _, path := range slices.Sorted(maps.Keys(s.records)) {
		r := s.records[path]
		out = append(out, &r)
	}
	return out
}

// Diff computes what client is missing relative to this snapshot
func (s *Snapshot) Diff(client Digests) diff.Result {
	return diff.Compute(s.digests, client)
}

// with returns a new snapshot with r added or replaced
func (s *Snapshot) with(r *Record, takenAt time.Time) *Snapshot {
	records := s.Records()
	records = append(records, r)
	return NewSnapshot(records, takenAt)
}

// without returns a new snapshot with path removed
func (s *Snapshot) without(path string, takenAt time.Time) *Snapshot {
	records := s.Records()
	records = slices.DeleteFunc(records, func(r *Record) bool {
		return r.Path == path
	})
	return NewSnapshot(records, takenAt)
}

// RecordsFromDigests turns a legacy path -> digest mapping into records
func RecordsFromDigests(digests Digests, modifiedAt time.Time) []*Record {
	records := make([]*Record, 0, len(digests))
	for _, path := range slices.Sorted(maps.Keys(digests)) {
		records = append(records, &Record{
			Path:       path,
			Digest:     digests[path],
			ModifiedAt: modifiedAt,
		})
	}
	return records
}
