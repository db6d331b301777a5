package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/klauspost/compress/zip"
	"github.com/mdbmanager/mdbsync/internal/server/bundle"
	"github.com/mdbmanager/mdbsync/internal/server/catalog"
	"github.com/mdbmanager/mdbsync/internal/syncsdk"
	"github.com/mdbmanager/mdbsync/internal/utils"
	"github.com/spf13/afero"
)

const (
	stateDir    = ".mdbsync"
	lockFile    = "pull.lock"
	bundleFile  = "diff.zip"
	partialFile = ".part"
)

var (
	ErrLibraryLocked = errors.New("library locked by another pull")
	ErrNoLibraryDir  = errors.New("library dir does not exist")
)

// SyncClient is the server side of a pull
type SyncClient interface {
	UploadMetadata(ctx context.Context, local catalog.Digests) (*syncsdk.UploadMetadataResponse, error)
	DownloadDiff(ctx context.Context, destPath string) (*syncsdk.DiffDownload, error)
}

// PullResult summarises one pull
type PullResult struct {
	LocalFiles int           `json:"localFiles"`
	Expected   int           `json:"expected"`
	Written    []string      `json:"written"`
	Mismatched []string      `json:"mismatched,omitempty"`
	Missing    []string      `json:"missing,omitempty"`
	Rejected   []string      `json:"rejected,omitempty"`
	Bytes      int64         `json:"bytes"`
	Took       time.Duration `json:"took"`
}

// Complete reports whether every expected file arrived intact
func (r *PullResult) Complete() bool {
	return len(r.Written) == r.Expected
}

// Puller brings a local library up to date with the server catalog
type Puller struct {
	dir     string
	client  SyncClient
	scanner *catalog.Scanner
	lock    *flock.Flock
}

// NewPuller pulls into dir. cfg selects which local files are reported to the
// server and should match the server's include patterns.
func NewPuller(dir string, client SyncClient, cfg *catalog.Config) (*Puller, error) {
	root, err := utils.ResolvePath(dir)
	if err != nil {
		return nil, err
	}
	if !utils.DirExists(root) {
		return nil, fmt.Errorf("%w: %s", ErrNoLibraryDir, root)
	}

	scanner, err := catalog.NewScanner(afero.NewOsFs(), root, cfg)
	if err != nil {
		return nil, err
	}

	return &Puller{
		dir:     root,
		client:  client,
		scanner: scanner,
		lock:    flock.New(filepath.Join(root, stateDir, lockFile)),
	}, nil
}

func (p *Puller) Dir() string {
	return p.dir
}

// Scan fingerprints the local library
func (p *Puller) Scan(ctx context.Context) (catalog.Digests, error) {
	records, err := p.scanner.Scan(ctx, nil)
	if err != nil {
		return nil, err
	}
	return catalog.NewSnapshot(records, time.Now()).Digests(), nil
}

// Pull uploads the local catalog, downloads the resulting bundle and
// extracts every entry whose content matches the digest the server announced.
func (p *Puller) Pull(ctx context.Context) (*PullResult, error) {
	start := time.Now()

	if err := p.acquire(); err != nil {
		return nil, err
	}
	defer p.release()

	local, err := p.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan library: %w", err)
	}

	up, err := p.client.UploadMetadata(ctx, local)
	if err != nil {
		return nil, err
	}

	result := &PullResult{
		LocalFiles: len(local),
		Expected:   len(up.Diff),
	}
	slog.Info("pull metadata", "local", len(local), "diff", len(up.Diff))

	bundlePath := filepath.Join(p.dir, stateDir, bundleFile)
	defer os.Remove(bundlePath)

	dl, err := p.client.DownloadDiff(ctx, bundlePath)
	if errors.Is(err, syncsdk.ErrNothingPending) {
		result.Missing = slices.Sorted(maps.Keys(up.Diff))
		result.Took = time.Since(start)
		return result, nil
	} else if err != nil {
		return nil, err
	}

	slog.Info("pull bundle", "files", dl.Files, "skipped", dl.Skipped, "size", humanize.Bytes(uint64(dl.Size)))

	if err := p.extract(ctx, bundlePath, up.Diff, result); err != nil {
		return nil, err
	}

	result.Took = time.Since(start)
	slog.Info("pull done",
		"written", len(result.Written),
		"mismatched", len(result.Mismatched),
		"missing", len(result.Missing),
		"rejected", len(result.Rejected),
		"size", humanize.Bytes(uint64(result.Bytes)),
		"took", result.Took,
	)
	return result, nil
}

func (p *Puller) acquire() error {
	if err := utils.EnsureDir(filepath.Join(p.dir, stateDir)); err != nil {
		return err
	}
	locked, err := p.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock library: %w", err)
	}
	if !locked {
		return ErrLibraryLocked
	}
	return nil
}

func (p *Puller) release() {
	if err := p.lock.Unlock(); err != nil {
		slog.Warn("unlock library", "error", err)
	}
}

// extract writes verified bundle entries into the library
func (p *Puller) extract(ctx context.Context, bundlePath string, expected map[string]string, result *PullResult) error {
	zr, err := zip.OpenReader(bundlePath)
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}
	defer zr.Close()

	seen := make(map[string]struct{}, len(zr.File))

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := f.Name
		if f.FileInfo().IsDir() {
			continue
		}

		// a name that could land outside the library is never written
		if err := bundle.ValidatePath(name); err != nil {
			slog.Warn("pull reject", "entry", name, "error", err)
			result.Rejected = append(result.Rejected, name)
			continue
		}

		digest, ok := expected[name]
		if !ok {
			slog.Warn("pull reject", "entry", name, "error", "not in diff")
			result.Rejected = append(result.Rejected, name)
			continue
		}
		seen[name] = struct{}{}

		n, err := p.writeEntry(ctx, f, name, digest)
		if errors.Is(err, errDigestMismatch) {
			slog.Warn("pull integrity", "path", name, "error", err)
			result.Mismatched = append(result.Mismatched, name)
			continue
		} else if err != nil {
			return fmt.Errorf("extract %q: %w", name, err)
		}

		result.Written = append(result.Written, name)
		result.Bytes += n
	}

	for _, path := range slices.Sorted(maps.Keys(expected)) {
		if _, ok := seen[path]; !ok {
			result.Missing = append(result.Missing, path)
		}
	}

	return nil
}

var errDigestMismatch = errors.New("digest mismatch")

// writeEntry copies one entry to a temp file next to its target, checks its
// digest and renames it into place
func (p *Puller) writeEntry(ctx context.Context, f *zip.File, relPath, want string) (int64, error) {
	target := filepath.Join(p.dir, filepath.FromSlash(relPath))
	if err := utils.EnsureParent(target); err != nil {
		return 0, err
	}

	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	tmp := target + partialFile
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}

	cw := &countingWriter{w: out}
	got, err := catalog.Digest(ctx, io.TeeReader(rc, cw))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if got != want {
		os.Remove(tmp)
		return 0, fmt.Errorf("%w: got %s, want %s", errDigestMismatch, got, want)
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if !f.Modified.IsZero() {
		os.Chtimes(target, f.Modified, f.Modified)
	}

	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
