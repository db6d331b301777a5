package accesslog

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// AccessLogger keeps a size-rotated JSON lines history per device
type AccessLogger struct {
	fs       afero.Fs
	baseDir  string
	clock    clockwork.Clock
	maxSize  int64
	maxFiles int

	// mu guards the writers map only; each deviceWriter locks its own files
	mu      sync.RWMutex
	writers map[string]*deviceWriter
	logger  *slog.Logger
}

type Option func(*AccessLogger)

func WithClock(clock clockwork.Clock) Option {
	return func(al *AccessLogger) {
		al.clock = clock
	}
}

// WithRotation sets the size that triggers a rotation and how many files a device keeps
func WithRotation(maxSize int64, maxFiles int) Option {
	return func(al *AccessLogger) {
		al.maxSize = maxSize
		al.maxFiles = maxFiles
	}
}

func New(fsys afero.Fs, baseDir string, opts ...Option) (*AccessLogger, error) {
	if err := fsys.MkdirAll(baseDir, logDirPermission); err != nil {
		return nil, fmt.Errorf("create access log dir: %w", err)
	}

	al := &AccessLogger{
		fs:       fsys,
		baseDir:  baseDir,
		clock:    clockwork.NewRealClock(),
		maxSize:  DefaultMaxLogSize,
		maxFiles: DefaultMaxLogFiles,
		writers:  make(map[string]*deviceWriter),
		logger:   slog.With("component", "access_log"),
	}
	for _, opt := range opts {
		opt(al)
	}
	return al, nil
}

// Log appends entry to its device's history. Failures are logged, not returned.
func (al *AccessLogger) Log(entry *Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = al.clock.Now().UTC()
	}

	w, err := al.writer(entry.Device)
	if err == nil {
		w.mu.Lock()
		err = w.write(entry)
		w.mu.Unlock()
	}
	if err != nil {
		al.logger.Error("write access log", "device", entry.Device, "route", entry.Route, "error", err)
	}
}

// writer returns the device's writer, opening it on first use.
// Writers are keyed by directory so devices that sanitize alike share one.
func (al *AccessLogger) writer(device string) (*deviceWriter, error) {
	name := sanitizeDevice(device)

	al.mu.RLock()
	w, ok := al.writers[name]
	al.mu.RUnlock()
	if ok {
		return w, nil
	}

	al.mu.Lock()
	defer al.mu.Unlock()
	if w, ok := al.writers[name]; ok {
		return w, nil
	}

	dir := filepath.Join(al.baseDir, name)
	if err := al.fs.MkdirAll(dir, logDirPermission); err != nil {
		return nil, fmt.Errorf("create device log dir: %w", err)
	}

	w = &deviceWriter{al: al, dir: dir}
	if err := w.open(); err != nil {
		return nil, err
	}
	al.writers[name] = w
	return w, nil
}

// DeviceLogs returns up to limit of the most recent entries for device, oldest first
func (al *AccessLogger) DeviceLogs(device string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		return []*Entry{}, nil
	}

	dir := filepath.Join(al.baseDir, sanitizeDevice(device))
	if ok, err := afero.DirExists(al.fs, dir); err != nil {
		return nil, err
	} else if !ok {
		return []*Entry{}, nil
	}

	// a rotation must not move files under the reader
	w, err := al.writer(device)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	names, err := logFiles(al.fs, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []*Entry{}, nil
	} else if err != nil {
		return nil, err
	}

	// the current file holds the newest entries
	slices.Reverse(names)
	if i := slices.Index(names, currentLogName); i > 0 {
		names = slices.Insert(slices.Delete(names, i, i+1), 0, currentLogName)
	}

	var entries []*Entry
	for _, name := range names {
		fileEntries, err := al.readFile(filepath.Join(dir, name))
		if err != nil {
			al.logger.Warn("read access log", "file", name, "error", err)
			continue
		}
		entries = append(fileEntries, entries...)
		if len(entries) >= limit {
			break
		}
	}

	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return entries, nil
}

func (al *AccessLogger) readFile(path string) ([]*Entry, error) {
	f, err := al.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []*Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		// a torn last line after a crash is skipped
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, &e)
	}
	return entries, scanner.Err()
}

func (al *AccessLogger) Close() error {
	al.mu.Lock()
	defer al.mu.Unlock()

	var errs []error
	for name, w := range al.writers {
		w.mu.Lock()
		if err := w.close(); err != nil {
			errs = append(errs, err)
		}
		w.mu.Unlock()
		delete(al.writers, name)
	}
	return errors.Join(errs...)
}

// logFiles lists the .log files of dir sorted by name
func logFiles(fsys afero.Fs, dir string) ([]string, error) {
	infos, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, info := range infos {
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".log") {
			names = append(names, info.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func sanitizeDevice(device string) string {
	if device == "" || strings.Trim(device, ".") == "" {
		return "anonymous"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, device)
}
