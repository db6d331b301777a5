package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mdbmanager/mdbsync/internal/db"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, files map[string]string) (*Service, afero.Fs, *clockwork.FakeClock) {
	t.Helper()

	sqlDB, err := db.NewSqliteDB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	store, err := NewSqliteStore(sqlDB)
	require.NoError(t, err)

	fsys := newTestFs(t, files)
	clock := clockwork.NewFakeClock()

	svc, err := NewService(&Config{
		ContentRoot:     testRoot,
		RefreshDelay:    time.Minute,
		RefreshInterval: time.Hour,
	}, store, fsys, WithServiceClock(clock))
	require.NoError(t, err)

	return svc, fsys, clock
}

func TestServiceRefresh(t *testing.T) {
	svc, fsys, _ := newTestService(t, map[string]string{"a.mp3": "a", "b.flac": "b"})
	ctx := context.Background()

	assert.Equal(t, 0, svc.Snapshot().Len())

	res, err := svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 2, res.Added)

	assert.Equal(t, Digests{"a.mp3": sha("a"), "b.flac": sha("b")}, svc.Export())

	count, err := svc.Store().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, fsys.Remove(testRoot+"/a.mp3"))
	res, err = svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, Digests{"b.flac": sha("b")}, svc.Export())

	last, ok := svc.LastRefresh()
	require.True(t, ok)
	assert.Equal(t, res, last)
}

func TestServiceConcurrentRefresh(t *testing.T) {
	svc, _, _ := newTestService(t, map[string]string{"a.mp3": "a"})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Refresh(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 1, res.Files)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, svc.Snapshot().Len())
}

func TestServiceDiff(t *testing.T) {
	svc, _, _ := newTestService(t, map[string]string{"a.mp3": "a", "b.mp3": "b"})
	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	got := svc.Diff(Digests{"a.mp3": sha("a"), "b.mp3": "stale"})
	assert.Equal(t, []string{"b.mp3"}, got.Paths())
}

func TestServiceStartLoadsPersistedCatalog(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, svc.Store().Save(ctx, &Record{Path: "old.mp3", Digest: "h"}))
	require.NoError(t, svc.Start(ctx))

	assert.Equal(t, Digests{"old.mp3": "h"}, svc.Export())

	cancel()
	require.NoError(t, svc.Shutdown(context.Background()))
}

func TestServiceRefreshLoop(t *testing.T) {
	svc, _, clock := newTestService(t, map[string]string{"a.mp3": "a"})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, svc.Start(ctx))
	assert.Equal(t, 0, svc.Snapshot().Len())

	clock.BlockUntil(1)
	clock.Advance(time.Minute)

	assert.Eventually(t, func() bool {
		return svc.Snapshot().Len() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, svc.Shutdown(context.Background()))
}

func TestServiceImport(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	res, err := svc.Import(ctx, Digests{"a.mp3": "1", "b.mp3": "2"}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, Digests{"a.mp3": "1", "b.mp3": "2"}, svc.Export())

	_, err = svc.Import(ctx, Digests{"c.mp3": "3"}, false)
	assert.ErrorIs(t, err, ErrStoreNotEmpty)

	res, err = svc.Import(ctx, Digests{"c.mp3": "3"}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, Digests{"c.mp3": "3"}, svc.Export())
}

func TestServiceApplyChange(t *testing.T) {
	svc, fsys, _ := newTestService(t, map[string]string{"a.mp3": "a"})
	ctx := context.Background()

	_, err := svc.Refresh(ctx)
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fsys, testRoot+"/new.mp3", []byte("new"), 0o644))
	require.NoError(t, svc.ApplyChange(ctx, "new.mp3"))
	assert.Equal(t, sha("new"), svc.Export()["new.mp3"])

	stored, err := svc.Store().Get(ctx, "new.mp3")
	require.NoError(t, err)
	assert.Equal(t, sha("new"), stored.Digest)

	require.NoError(t, afero.WriteFile(fsys, testRoot+"/a.mp3", []byte("changed"), 0o644))
	require.NoError(t, svc.ApplyChange(ctx, "a.mp3"))
	assert.Equal(t, sha("changed"), svc.Export()["a.mp3"])

	require.NoError(t, fsys.Remove(testRoot+"/a.mp3"))
	require.NoError(t, svc.ApplyChange(ctx, "a.mp3"))
	assert.NotContains(t, svc.Export(), "a.mp3")
	_, err = svc.Store().Get(ctx, "a.mp3")
	assert.ErrorIs(t, err, ErrNotFound)

	// paths outside the include set are ignored
	require.NoError(t, afero.WriteFile(fsys, testRoot+"/cover.jpg", []byte("img"), 0o644))
	require.NoError(t, svc.ApplyChange(ctx, "cover.jpg"))
	assert.NotContains(t, svc.Export(), "cover.jpg")
}

func TestServiceHandleDirectoryRemoval(t *testing.T) {
	svc, fsys, _ := newTestService(t, map[string]string{"Album/1.mp3": "1", "Album/2.mp3": "2", "x.mp3": "x"})
	ctx := context.Background()

	_, err := svc.Refresh(ctx)
	require.NoError(t, err)

	require.NoError(t, fsys.RemoveAll(testRoot+"/Album"))
	svc.handleChange(ctx, testRoot+"/Album")

	assert.Equal(t, Digests{"x.mp3": sha("x")}, svc.Export())
}

func TestServiceHandleDirectoryMovedIn(t *testing.T) {
	svc, fsys, _ := newTestService(t, map[string]string{"x.mp3": "x"})
	ctx := context.Background()

	_, err := svc.Refresh(ctx)
	require.NoError(t, err)

	// no record carries the new album as a prefix yet
	require.NoError(t, afero.WriteFile(fsys, testRoot+"/New Album/1.mp3", []byte("1"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, testRoot+"/New Album/2.flac", []byte("2"), 0o644))
	svc.handleChange(ctx, testRoot+"/New Album")

	assert.Equal(t, Digests{
		"x.mp3":            sha("x"),
		"New Album/1.mp3":  sha("1"),
		"New Album/2.flac": sha("2"),
	}, svc.Export())
}

func TestServiceRefreshOutlivesCaller(t *testing.T) {
	svc, _, _ := newTestService(t, map[string]string{"a.mp3": "a", "b.flac": "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Refresh(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}

	// the scan finishes for everyone else
	require.Eventually(t, func() bool {
		return svc.Snapshot().Len() == 2
	}, 5*time.Second, 10*time.Millisecond)

	res, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
}

func TestServiceRefreshStopsWithService(t *testing.T) {
	svc, _, _ := newTestService(t, map[string]string{"a.mp3": "a"})

	lifetime, stop := context.WithCancel(context.Background())
	svc.lifetime = lifetime
	stop()

	_, err := svc.Refresh(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, svc.Snapshot().Len())
}
