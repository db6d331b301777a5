package accesslog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
)

// deviceWriter appends to one device's current log file.
// Every method except open during construction runs with mu held.
type deviceWriter struct {
	mu   sync.Mutex
	al   *AccessLogger
	dir  string
	file afero.File
	size int64
}

func (w *deviceWriter) open() error {
	path := filepath.Join(w.dir, currentLogName)
	file, err := w.al.fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFilePermission)
	if err != nil {
		return fmt.Errorf("open access log: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat access log: %w", err)
	}

	w.file = file
	w.size = info.Size()
	return nil
}

func (w *deviceWriter) write(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal access log entry: %w", err)
	}
	data = append(data, '\n')

	// closed by a concurrent Close
	if w.file == nil {
		if err := w.open(); err != nil {
			return err
		}
	}

	if w.size > 0 && w.size+int64(len(data)) > w.al.maxSize {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("rotate access log: %w", err)
		}
	}

	n, err := w.file.Write(data)
	w.size += int64(n)
	return err
}

func (w *deviceWriter) rotate() error {
	if err := w.close(); err != nil {
		return err
	}

	rotated := w.al.clock.Now().UTC().Format(rotatedLogLayout)
	if err := w.al.fs.Rename(filepath.Join(w.dir, currentLogName), filepath.Join(w.dir, rotated)); err != nil {
		return err
	}
	if err := w.prune(); err != nil {
		return err
	}
	return w.open()
}

// prune keeps the newest maxFiles rotated files
func (w *deviceWriter) prune() error {
	names, err := logFiles(w.al.fs, w.dir)
	if err != nil {
		return err
	}

	var rotated []string
	for _, name := range names {
		if name != currentLogName {
			rotated = append(rotated, name)
		}
	}
	if len(rotated) <= w.al.maxFiles {
		return nil
	}

	for _, name := range rotated[:len(rotated)-w.al.maxFiles] {
		if err := w.al.fs.Remove(filepath.Join(w.dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func (w *deviceWriter) close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
