package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mdbmanager/mdbsync/internal/server/diff"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

// RefreshResult summarises one catalog refresh
type RefreshResult struct {
	Files   int           `json:"files"`
	Added   int           `json:"added"`
	Updated int           `json:"updated"`
	Deleted int           `json:"deleted"`
	Took    time.Duration `json:"took"`
}

// Service owns the catalog. Readers get the latest published Snapshot
// without locking. Writers persist to the Store first and then publish.
type Service struct {
	cfg     *Config
	store   Store
	scanner *Scanner
	clock   clockwork.Clock

	snapshot     atomic.Pointer[Snapshot]
	writeMu      sync.Mutex
	refreshGroup singleflight.Group
	lastRefresh  atomic.Pointer[RefreshResult]

	// lifetime bounds refresh jobs, which outlive the request that started them
	lifetime context.Context

	watcher *Watcher
	wg      sync.WaitGroup
}

type ServiceOption func(*Service)

func WithServiceClock(clock clockwork.Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService builds a catalog service that scans cfg.ContentRoot on fsys
func NewService(cfg *Config, store Store, fsys afero.Fs, opts ...ServiceOption) (*Service, error) {
	scanner, err := NewScanner(fsys, cfg.ContentRoot, cfg)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		store:   store,
		scanner: scanner,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snapshot.Store(NewSnapshot(nil, s.clock.Now()))

	return s, nil
}

// Start publishes the persisted catalog and starts the background refresh
// loop and the optional file watcher.
func (s *Service) Start(ctx context.Context) error {
	s.lifetime = ctx
	if err := s.Load(ctx); err != nil {
		return err
	}

	if s.cfg.RefreshOnStart {
		if _, err := s.Refresh(ctx); err != nil {
			return fmt.Errorf("initial catalog refresh: %w", err)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.refreshLoop(ctx)
	}()

	if s.cfg.Watch {
		s.watcher = NewWatcher(s.cfg.ContentRoot, s.handleChange, s.clock)
		if err := s.watcher.Start(ctx); err != nil {
			// polling still keeps the catalog fresh
			slog.Warn("catalog watcher disabled", "error", err)
			s.watcher = nil
		}
	}

	return nil
}

// Load publishes the persisted catalog without starting background work
func (s *Service) Load(ctx context.Context) error {
	records, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	s.publish(NewSnapshot(records, s.clock.Now()))
	slog.Info("catalog loaded", "files", len(records), "root", s.cfg.ContentRoot)
	return nil
}

// Shutdown waits for background work to stop. ctx passed to Start must be done.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// a detached refresh persists under writeMu and checks its context first
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.store.Close()
}

// Snapshot returns the latest published catalog
func (s *Service) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Diff compares a client catalog with the latest published snapshot
func (s *Service) Diff(client Digests) diff.Result {
	return s.Snapshot().Diff(client)
}

// Export returns the published catalog in wire form
func (s *Service) Export() Digests {
	return s.Snapshot().Digests()
}

func (s *Service) Store() Store {
	return s.store
}

// ContentRoot returns the directory the catalog describes
func (s *Service) ContentRoot() string {
	return s.cfg.ContentRoot
}

// LastRefresh returns the result of the most recent successful refresh
func (s *Service) LastRefresh() (*RefreshResult, bool) {
	r := s.lastRefresh.Load()
	return r, r != nil
}

func (s *Service) publish(snap *Snapshot) {
	s.snapshot.Store(snap)
}

// Refresh rescans the content root, persists the result and publishes it.
// Concurrent callers share a single scan.
// The scan runs detached from ctx, so a caller that gives up does not cancel
// it for the others sharing it; it stops only when the service stops.
func (s *Service) Refresh(ctx context.Context) (*RefreshResult, error) {
	ch := s.refreshGroup.DoChan("refresh", func() (any, error) {
		jobCtx, cancel := s.detach(ctx)
		defer cancel()
		return s.refresh(jobCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			slog.Debug("catalog refresh shared")
		}
		return res.Val.(*RefreshResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// detach keeps ctx values but takes cancellation from the service lifetime
func (s *Service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if s.lifetime == nil {
		return jobCtx, cancel
	}
	if s.lifetime.Err() != nil {
		cancel()
		return jobCtx, cancel
	}
	stop := context.AfterFunc(s.lifetime, cancel)
	return jobCtx, func() {
		stop()
		cancel()
	}
}

func (s *Service) refresh(ctx context.Context) (*RefreshResult, error) {
	start := s.clock.Now()

	records, err := s.scanner.Scan(ctx, s.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := s.store.Replace(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}
	s.publish(NewSnapshot(records, s.clock.Now()))

	result := &RefreshResult{
		Files:   len(records),
		Added:   res.Added,
		Updated: res.Updated,
		Deleted: res.Deleted,
		Took:    s.clock.Since(start),
	}
	s.lastRefresh.Store(result)

	slog.Info("catalog refresh",
		"files", result.Files,
		"added", result.Added,
		"updated", result.Updated,
		"deleted", result.Deleted,
		"took", result.Took,
	)

	return result, nil
}

// Import replaces the catalog with a legacy path -> digest mapping.
// Without force it refuses to overwrite a non-empty catalog.
func (s *Service) Import(ctx context.Context, digests Digests, force bool) (*ReplaceResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	count, err := s.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count > 0 && !force {
		return nil, fmt.Errorf("%w: %d records", ErrStoreNotEmpty, count)
	}

	records := RecordsFromDigests(digests, s.clock.Now().UTC())
	res, err := s.store.Replace(ctx, records)
	if err != nil {
		return nil, err
	}
	s.publish(NewSnapshot(records, s.clock.Now()))

	slog.Info("catalog import", "files", len(records), "added", res.Added, "updated", res.Updated, "deleted", res.Deleted)
	return res, nil
}

// ApplyChange re-fingerprints a single path and updates the catalog in place.
// A path that no longer exists is removed.
func (s *Service) ApplyChange(ctx context.Context, relPath string) error {
	if !s.scanner.Matches(relPath) {
		return nil
	}

	rec, statErr := s.scanner.Fingerprint(ctx, relPath)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.Snapshot()

	if errors.Is(statErr, fs.ErrNotExist) {
		if _, ok := snap.Get(relPath); !ok {
			return nil
		}
		if err := s.store.Delete(ctx, relPath); err != nil {
			return err
		}
		s.publish(snap.without(relPath, s.clock.Now()))
		slog.Debug("catalog remove", "path", relPath)
		return nil
	} else if statErr != nil {
		return statErr
	}

	if old, ok := snap.Get(relPath); ok && old.Equal(rec) {
		return nil
	}

	if err := s.store.Save(ctx, rec); err != nil {
		return err
	}
	s.publish(snap.with(rec, s.clock.Now()))
	slog.Debug("catalog update", "path", relPath, "digest", rec.Digest)
	return nil
}

// handleChange receives debounced watcher events with absolute paths
func (s *Service) handleChange(ctx context.Context, path string) {
	rel, err := s.scanner.Rel(path)
	if err != nil {
		return
	}

	if s.scanner.Matches(rel) {
		if err := s.ApplyChange(ctx, rel); err != nil {
			slog.Warn("catalog change", "path", rel, "error", err)
		}
		return
	}

	// a renamed or removed directory takes its files with it, and a directory
	// moved in from outside the root arrives as a single event
	if s.hasPrefix(rel+"/") || s.scanner.IsDir(rel) {
		if _, err := s.Refresh(ctx); err != nil {
			slog.Warn("catalog refresh", "error", err)
		}
	}
}

func (s *Service) hasPrefix(prefix string) bool {
	for _, r := range s.Snapshot().Records() {
		if strings.HasPrefix(r.Path, prefix) {
			return true
		}
	}
	return false
}

// refreshLoop waits for the initial delay and then refreshes every interval
func (s *Service) refreshLoop(ctx context.Context) {
	interval := s.cfg.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	delay := s.cfg.RefreshDelay
	if delay <= 0 {
		delay = DefaultRefreshDelay
	}

	slog.Debug("catalog refresher start", "delay", delay, "interval", interval)

	select {
	case <-ctx.Done():
		return
	case <-s.clock.After(delay):
		s.runRefresh(ctx)
	}

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("catalog refresher stop")
			return
		case <-ticker.Chan():
			s.runRefresh(ctx)
		}
	}
}

func (s *Service) runRefresh(ctx context.Context) {
	if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		slog.Error("catalog refresh", "error", err)
	}
}
