package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mdbmanager/mdbsync/internal/server/bundle"
	"github.com/mdbmanager/mdbsync/internal/server/catalog"
	"github.com/mdbmanager/mdbsync/internal/server/diff"
	"github.com/mdbmanager/mdbsync/internal/server/ticket"
)

// ErrNothingPending means the session has no diff waiting to be downloaded
var ErrNothingPending = errors.New("sync: nothing pending")

// Catalog is the read side of the catalog used by the sync protocol
type Catalog interface {
	Snapshot() *catalog.Snapshot
}

// Status reports where a session is in the upload/download cycle
type Status struct {
	Pending        bool       `json:"pending"`
	Files          int        `json:"files"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	CatalogFiles   int        `json:"catalogFiles"`
	CatalogTakenAt time.Time  `json:"catalogTakenAt"`
}

// Service runs the two phase sync protocol. Uploading a client catalog
// leaves a diff ticket for the session; the next download consumes it.
type Service struct {
	catalog Catalog
	tickets *ticket.Cache
	builder *bundle.Builder
}

func NewService(cat Catalog, tickets *ticket.Cache, builder *bundle.Builder) *Service {
	return &Service{
		catalog: cat,
		tickets: tickets,
		builder: builder,
	}
}

// UploadMetadata diffs the client catalog against the server catalog and
// stores the result for the session's next download.
func (s *Service) UploadMetadata(ctx context.Context, sessionKey string, client catalog.Digests) (diff.Result, error) {
	if sessionKey == "" {
		return nil, fmt.Errorf("sync: empty session key")
	}

	snap := s.catalog.Snapshot()
	result := snap.Diff(client)
	s.tickets.Put(sessionKey, result)

	slog.Info("sync upload",
		"session", sessionKey,
		"client", len(client),
		"server", snap.Len(),
		"diff", result.Len(),
	)

	return result, nil
}

// DownloadDiff consumes the session's pending diff and bundles its files.
// Once taken the diff is gone, even if building the bundle fails.
func (s *Service) DownloadDiff(ctx context.Context, sessionKey string) (*bundle.Bundle, error) {
	result, err := s.tickets.Take(sessionKey)
	if errors.Is(err, ticket.ErrNotFound) {
		return nil, ErrNothingPending
	} else if err != nil {
		return nil, err
	}

	b, err := s.builder.Build(ctx, result)
	if err != nil {
		return nil, fmt.Errorf("build bundle: %w", err)
	}

	slog.Info("sync download",
		"session", sessionKey,
		"files", len(b.Manifest.Entries),
		"skipped", len(b.Manifest.Skipped),
		"size", humanize.Bytes(uint64(len(b.Data))),
	)

	return b, nil
}

// Metadata returns the full server catalog
func (s *Service) Metadata(ctx context.Context) (catalog.Digests, error) {
	return s.catalog.Snapshot().Digests(), nil
}

// Status reports the session's pending diff, if any
func (s *Service) Status(sessionKey string) *Status {
	snap := s.catalog.Snapshot()
	st := &Status{
		CatalogFiles:   snap.Len(),
		CatalogTakenAt: snap.TakenAt,
	}

	if info, ok := s.tickets.Peek(sessionKey); ok {
		st.Pending = true
		st.Files = info.Files
		st.ExpiresAt = &info.ExpiresAt
	}

	return st
}
