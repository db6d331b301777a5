package bundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/mdbmanager/mdbsync/internal/server/diff"
)

const ContentType = "application/zip"

// already compressed formats are stored as-is
var storedExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".opus": true,
	".m4a":  true,
	".aac":  true,
	".wma":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".zip":  true,
	".gz":   true,
	".zst":  true,
}

// Entry describes one file written to a bundle
type Entry struct {
	Path   string `json:"path"`
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
	Stored bool   `json:"stored"`
}

// Manifest lists what a bundle contains and what was left out
type Manifest struct {
	Entries []Entry  `json:"entries"`
	Skipped []string `json:"skipped,omitempty"`
}

func (m *Manifest) TotalSize() int64 {
	var n int64
	for _, e := range m.Entries {
		n += e.Size
	}
	return n
}

// Bundle is a zip archive built in memory
type Bundle struct {
	Data     []byte
	Manifest *Manifest
}

func (b *Bundle) Empty() bool {
	return len(b.Data) == 0
}

// Builder packs diff results into zip archives
type Builder struct {
	resolver Resolver
}

func NewBuilder(resolver Resolver) *Builder {
	return &Builder{resolver: resolver}
}

// Build packs d into an in-memory archive. An empty diff produces an empty Bundle.
func (b *Builder) Build(ctx context.Context, d diff.Result) (*Bundle, error) {
	var buf bytes.Buffer
	manifest, err := b.WriteTo(ctx, &buf, d)
	if err != nil {
		return nil, err
	}
	return &Bundle{Data: buf.Bytes(), Manifest: manifest}, nil
}

// WriteTo writes the archive for d to w. Nothing is written for an empty diff.
// Files that cannot be read are left out and listed in Manifest.Skipped.
func (b *Builder) WriteTo(ctx context.Context, w io.Writer, d diff.Result) (*Manifest, error) {
	manifest := &Manifest{Entries: []Entry{}}
	if d.IsEmpty() {
		return manifest, nil
	}

	start := time.Now()
	zw := zip.NewWriter(w)

	for _, relPath := range d.Paths() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, err := b.addFile(ctx, zw, relPath, d[relPath])
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var werr *writeError
			if errors.As(err, &werr) {
				return nil, werr.err
			}
			slog.Warn("bundle integrity", "path", relPath, "error", err)
			manifest.Skipped = append(manifest.Skipped, relPath)
			continue
		}
		manifest.Entries = append(manifest.Entries, *entry)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize bundle: %w", err)
	}

	slog.Debug("bundle built",
		"files", len(manifest.Entries),
		"skipped", len(manifest.Skipped),
		"bytes", manifest.TotalSize(),
		"took", time.Since(start),
	)

	return manifest, nil
}

// writeError marks failures on the output side, which abort the whole bundle
type writeError struct {
	err error
}

func (e *writeError) Error() string { return e.err.Error() }

func (b *Builder) addFile(ctx context.Context, zw *zip.Writer, relPath, digest string) (*Entry, error) {
	rc, info, err := b.resolver.Open(ctx, relPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	stored := storedExtensions[strings.ToLower(path.Ext(relPath))]
	method := zip.Deflate
	if stored {
		method = zip.Store
	}

	hdr := &zip.FileHeader{
		Name:     relPath,
		Method:   method,
		Modified: info.ModTime(),
	}
	hdr.SetMode(0o644)

	fw, err := zw.CreateHeader(hdr)
	if err != nil {
		return nil, &writeError{fmt.Errorf("create entry %q: %w", relPath, err)}
	}

	n, err := io.Copy(&writerOnly{fw}, &ctxReader{ctx: ctx, r: rc})
	if err != nil {
		// the entry is half written, the archive cannot be recovered
		return nil, &writeError{fmt.Errorf("copy %q: %w", relPath, err)}
	}

	return &Entry{Path: relPath, Digest: digest, Size: n, Stored: stored}, nil
}

// writerOnly hides ReadFrom so copies go through ctxReader
type writerOnly struct {
	io.Writer
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
