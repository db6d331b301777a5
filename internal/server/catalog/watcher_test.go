package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestWatcherDebouncesPerPath(t *testing.T) {
	clock := clockwork.NewFakeClock()

	var mu sync.Mutex
	calls := map[string]int{}
	w := NewWatcher("/music", func(_ context.Context, path string) {
		mu.Lock()
		calls[path]++
		mu.Unlock()
	}, clock)

	ctx := context.Background()
	for range 5 {
		w.enqueue(ctx, "/music/a.mp3")
		clock.Advance(time.Second)
	}
	w.enqueue(ctx, "/music/b.mp3")
	assert.Equal(t, 2, w.pending())

	clock.Advance(defaultWatchDebounce)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls["/music/a.mp3"] == 1 && calls["/music/b.mp3"] == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, w.pending())
}

func TestWatcherStopCancelsPending(t *testing.T) {
	clock := clockwork.NewFakeClock()

	called := make(chan string, 1)
	w := NewWatcher("/music", func(_ context.Context, path string) {
		called <- path
	}, clock)

	w.enqueue(context.Background(), "/music/a.mp3")
	w.Stop()
	clock.Advance(time.Minute)

	select {
	case p := <-called:
		t.Fatalf("unexpected callback for %s", p)
	case <-time.After(50 * time.Millisecond):
	}
}
