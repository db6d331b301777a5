package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

var defaultIgnoreLines = []string{
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"*.tmp",
	"*.part",
	"*.crdownload",
	".Trash*/",
	"@eaDir/",
}

// Scanner walks the content root and fingerprints every included file.
type Scanner struct {
	fs      afero.Fs
	root    string
	include []string
	ignore  *gitignore.GitIgnore
	workers int
}

// NewScanner builds a scanner over root on fsys. Ignore rules are the
// defaults plus the lines of cfg.IgnoreFile when it exists under root.
func NewScanner(fsys afero.Fs, root string, cfg *Config) (*Scanner, error) {
	include := cfg.Include
	if len(include) == 0 {
		include = DefaultInclude
	}
	for _, pattern := range include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include pattern %q", pattern)
		}
	}

	workers := cfg.HashWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	ignoreFile := cfg.IgnoreFile
	if ignoreFile == "" {
		ignoreFile = DefaultIgnoreFile
	}

	lines := append([]string{}, defaultIgnoreLines...)
	data, err := afero.ReadFile(fsys, filepath.Join(root, ignoreFile))
	if err == nil {
		lines = append(lines, strings.Split(string(data), "\n")...)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read ignore file: %w", err)
	}

	return &Scanner{
		fs:      fsys,
		root:    root,
		include: include,
		ignore:  gitignore.CompileIgnoreLines(lines...),
		workers: workers,
	}, nil
}

// Root returns the directory being scanned
func (s *Scanner) Root() string {
	return s.root
}

// Matches reports whether a relative path belongs in the catalog
func (s *Scanner) Matches(relPath string) bool {
	if s.ignore.MatchesPath(relPath) {
		return false
	}
	for _, pattern := range s.include {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}

// Rel converts an absolute path under the root into a catalog path
func (s *Scanner) Rel(path string) (string, error) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%q is outside %q", path, s.root)
	}
	return rel, nil
}

type candidate struct {
	rel  string
	path string
	info os.FileInfo
}

// Scan fingerprints the content root. Files whose size and modification time
// match a record in prev keep that record's digest without being re-read.
// A file that disappears or cannot be read mid-scan is skipped with a warning.
func (s *Scanner) Scan(ctx context.Context, prev *Snapshot) ([]*Record, error) {
	var candidates []candidate

	err := afero.Walk(s.fs, s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == s.root {
			return nil
		}

		rel, err := s.Rel(path)
		if err != nil {
			return err
		}

		if info.IsDir() {
			if s.ignore.MatchesPath(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !info.Mode().IsRegular() || !s.Matches(rel) {
			return nil
		}

		candidates = append(candidates, candidate{rel: rel, path: path, info: info})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %q: %w", s.root, err)
	}

	records := make([]*Record, len(candidates))
	var reused, hashed int
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, c := range candidates {
		modifiedAt := c.info.ModTime().UTC()

		if prev != nil {
			if old, ok := prev.Get(c.rel); ok && old.Size == c.info.Size() && old.ModifiedAt.Equal(modifiedAt) {
				records[i] = old
				reused++
				continue
			}
		}

		g.Go(func() error {
			digest, err := s.digestFile(gctx, c.path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("catalog scan skip", "path", c.rel, "error", err)
				return nil
			}
			records[i] = &Record{
				Path:       c.rel,
				Digest:     digest,
				Size:       c.info.Size(),
				ModifiedAt: modifiedAt,
			}
			mu.Lock()
			hashed++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := records[:0]
	for _, r := range records {
		if r != nil {
			out = append(out, r)
		}
	}

	slog.Debug("catalog scan", "root", s.root, "files", len(out), "hashed", hashed, "reused", reused)
	return out, nil
}

// IsDir reports whether relPath is an existing directory under the root
func (s *Scanner) IsDir(relPath string) bool {
	ok, err := afero.IsDir(s.fs, filepath.Join(s.root, filepath.FromSlash(relPath)))
	return err == nil && ok
}

// Fingerprint hashes a single file under the root
func (s *Scanner) Fingerprint(ctx context.Context, relPath string) (*Record, error) {
	path := filepath.Join(s.root, filepath.FromSlash(relPath))
	info, err := s.fs.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%q is a directory", relPath)
	}

	digest, err := s.digestFile(ctx, path)
	if err != nil {
		return nil, err
	}

	return &Record{
		Path:       relPath,
		Digest:     digest,
		Size:       info.Size(),
		ModifiedAt: info.ModTime().UTC(),
	}, nil
}

func (s *Scanner) digestFile(ctx context.Context, path string) (string, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Digest(ctx, f)
}

// Digest returns the lowercase hex sha256 of everything read from r
func Digest(ctx context.Context, r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: r}); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
