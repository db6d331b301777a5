package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/spf13/afero"
)

var ErrInvalidPath = errors.New("bundle: invalid path")

// ValidatePath rejects catalog paths that could escape the content root
func ValidatePath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	case strings.ContainsRune(p, '\\'):
		return fmt.Errorf("%w: %q contains a backslash", ErrInvalidPath, p)
	case strings.ContainsRune(p, 0):
		return fmt.Errorf("%w: %q contains a NUL byte", ErrInvalidPath, p)
	case path.IsAbs(p) || hasDriveLetter(p):
		return fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	}

	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: %q escapes the root", ErrInvalidPath, p)
		}
	}

	if path.Clean(p) != p {
		return fmt.Errorf("%w: %q is not clean", ErrInvalidPath, p)
	}

	return nil
}

// hasDriveLetter matches "C:" and "C:/..." but not names like "1:Intro.mp3"
func hasDriveLetter(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0] | 0x20
	if c < 'a' || c > 'z' {
		return false
	}
	return len(p) == 2 || p[2] == '/'
}

// Resolver opens catalog files by their relative path
type Resolver interface {
	Open(ctx context.Context, relPath string) (io.ReadCloser, fs.FileInfo, error)
}

// FSResolver reads files from a directory on an afero filesystem
type FSResolver struct {
	fs afero.Fs
}

// NewFSResolver serves files from root on fsys
func NewFSResolver(fsys afero.Fs, root string) *FSResolver {
	return &FSResolver{fs: afero.NewBasePathFs(fsys, root)}
}

func (r *FSResolver) Open(ctx context.Context, relPath string) (io.ReadCloser, fs.FileInfo, error) {
	if err := ValidatePath(relPath); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	f, err := r.fs.Open("/" + relPath)
	if err != nil {
		return nil, nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, fmt.Errorf("%q is not a regular file", relPath)
	}

	return f, info, nil
}

var _ Resolver = (*FSResolver)(nil)
