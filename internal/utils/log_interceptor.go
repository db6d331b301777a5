package utils

import (
	"bytes"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// LogInterceptor prefixes every complete line with a sequence number and
// a UTC timestamp before passing it to target. A trailing partial line is
// held until its newline arrives or Close is called.
type LogInterceptor struct {
	mu      sync.Mutex
	target  io.Writer
	clock   clockwork.Clock
	seq     uint64
	pending []byte
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return NewLogInterceptorWithClock(target, clockwork.NewRealClock())
}

func NewLogInterceptorWithClock(target io.Writer, clock clockwork.Clock) *LogInterceptor {
	return &LogInterceptor{target: target, clock: clock}
}

// Write reports len(p) once every complete line has reached target
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pending = append(i.pending, p...)
	for {
		idx := bytes.IndexByte(i.pending, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(i.pending[:idx], []byte{'\r'})
		if err := i.writeLine(line); err != nil {
			return 0, err
		}
		i.pending = i.pending[idx+1:]
	}

	// drop the consumed prefix so the buffer does not grow forever
	if len(i.pending) == 0 {
		i.pending = nil
	}
	return len(p), nil
}

func (i *LogInterceptor) writeLine(line []byte) error {
	i.seq++
	buf := make([]byte, 0, len(line)+48)
	buf = append(buf, "seq="...)
	buf = strconv.AppendUint(buf, i.seq, 10)
	buf = append(buf, " time="...)
	buf = i.clock.Now().UTC().AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, ' ')
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := i.target.Write(buf)
	return err
}

// Close flushes a trailing partial line
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.pending) == 0 {
		return nil
	}
	err := i.writeLine(i.pending)
	i.pending = nil
	return err
}
