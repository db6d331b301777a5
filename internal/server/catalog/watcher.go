package catalog

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rjeczalik/notify"
)

const (
	defaultWatchDebounce = 2 * time.Second
	watchBufferSize      = 256
)

// ChangeFunc is called once per path after its burst of events settles
type ChangeFunc func(ctx context.Context, path string)

// Watcher forwards file system changes under a directory to a ChangeFunc.
// Copying a large file produces a burst of write events, so events are
// debounced per path.
type Watcher struct {
	dir      string
	debounce time.Duration
	clock    clockwork.Clock
	onChange ChangeFunc

	rawEvents chan notify.EventInfo
	done      chan struct{}
	stopOnce  sync.Once
	timersMu  sync.Mutex
	timers    map[string]clockwork.Timer
	wg        sync.WaitGroup
}

func NewWatcher(dir string, onChange ChangeFunc, clock clockwork.Clock) *Watcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Watcher{
		dir:      dir,
		debounce: defaultWatchDebounce,
		clock:    clock,
		onChange: onChange,
		timers:   make(map[string]clockwork.Timer),
		done:     make(chan struct{}),
	}
}

// Start begins watching dir recursively until ctx is done
func (w *Watcher) Start(ctx context.Context) error {
	w.rawEvents = make(chan notify.EventInfo, watchBufferSize)

	recursivePath := filepath.Join(w.dir, "...")
	if err := notify.Watch(recursivePath, w.rawEvents, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		return err
	}

	slog.Info("catalog watcher start", "dir", w.dir)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
	return nil
}

// Stop ends the watch and cancels pending callbacks
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()

	w.timersMu.Lock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.timersMu.Unlock()

	slog.Info("catalog watcher stop")
}

func (w *Watcher) loop(ctx context.Context) {
	defer notify.Stop(w.rawEvents)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.rawEvents:
			if !ok {
				return
			}
			w.enqueue(ctx, ev.Path())
		}
	}
}

// enqueue (re)arms the debounce timer for path
func (w *Watcher) enqueue(ctx context.Context, path string) {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}

	w.timers[path] = w.clock.AfterFunc(w.debounce, func() {
		w.timersMu.Lock()
		delete(w.timers, path)
		w.timersMu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.onChange(ctx, path)
	})
}

func (w *Watcher) pending() int {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()
	return len(w.timers)
}
