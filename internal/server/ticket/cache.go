package ticket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"
	"github.com/mdbmanager/mdbsync/internal/server/diff"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultShards        = 64
)

type Config struct {
	TTL           time.Duration `mapstructure:"ticket_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Shards        int           `mapstructure:"ticket_shards"`
}

// Cache holds at most one outstanding ticket per session key.
// Keys are striped across shards so that sessions on different shards never
// share a lock. All operations on one key run inside that key's shard lock.
type Cache struct {
	shards        []*shard
	ttl           time.Duration
	sweepInterval time.Duration
	clock         clockwork.Clock
}

type shard struct {
	mu      sync.Mutex
	tickets map[string]*Ticket
}

type Option func(*Cache)

// WithClock overrides the clock used for creation times and expiry
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) {
		c.clock = clock
	}
}

func NewCache(cfg *Config, opts ...Option) *Cache {
	c := &Cache{
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		clock:         clockwork.NewRealClock(),
	}

	numShards := DefaultShards
	if cfg != nil {
		if cfg.TTL > 0 {
			c.ttl = cfg.TTL
		}
		if cfg.SweepInterval > 0 {
			c.sweepInterval = cfg.SweepInterval
		}
		if cfg.Shards > 0 {
			numShards = cfg.Shards
		}
	}

	c.shards = make([]*shard, numShards)
	for i := range c.shards {
		c.shards[i] = &shard{tickets: make(map[string]*Ticket)}
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Cache) shardFor(sessionKey string) *shard {
	return c.shards[xxhash.Sum64String(sessionKey)%uint64(len(c.shards))]
}

// TTL returns how long a ticket stays downloadable
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Put stores a new pending ticket for the session, replacing any previous one.
func (c *Cache) Put(sessionKey string, result diff.Result) *Ticket {
	t := newTicket(sessionKey, result, c.clock.Now(), c.ttl)

	s := c.shardFor(sessionKey)
	s.mu.Lock()
	old := s.tickets[sessionKey]
	s.tickets[sessionKey] = t
	s.mu.Unlock()

	if old != nil && old.transition(StateExpired) {
		slog.Debug("ticket replaced", "session", sessionKey, "files", len(old.Diff))
	}

	return t
}

// Take removes the pending ticket for the session and returns its diff.
// Of two concurrent calls for the same key only one receives the diff;
// the other gets ErrNotFound.
func (c *Cache) Take(sessionKey string) (diff.Result, error) {
	s := c.shardFor(sessionKey)

	s.mu.Lock()
	t, ok := s.tickets[sessionKey]
	if ok {
		delete(s.tickets, sessionKey)
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}

	if t.expiredAt(c.clock.Now()) {
		t.transition(StateExpired)
		return nil, ErrNotFound
	}

	if !t.transition(StateConsumed) {
		return nil, ErrNotFound
	}

	return t.Diff, nil
}

// Peek returns information about the pending ticket for the session without
// consuming it. Expired tickets are reclaimed and reported as absent.
func (c *Cache) Peek(sessionKey string) (*Info, bool) {
	s := c.shardFor(sessionKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[sessionKey]
	if !ok {
		return nil, false
	}

	if t.expiredAt(c.clock.Now()) {
		delete(s.tickets, sessionKey)
		t.transition(StateExpired)
		return nil, false
	}

	return &Info{
		SessionKey: t.SessionKey,
		Files:      len(t.Diff),
		CreatedAt:  t.CreatedAt,
		ExpiresAt:  t.ExpiresAt,
	}, true
}

// Len returns the number of tickets held, including expired ones not yet swept
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.tickets)
		s.mu.Unlock()
	}
	return n
}

// Sweep reclaims expired tickets and returns how many were removed.
// A shard lock is only held for one ticket check at a time.
func (c *Cache) Sweep() int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		keys := make([]string, 0, len(s.tickets))
		for key := range s.tickets {
			keys = append(keys, key)
		}
		s.mu.Unlock()

		for _, key := range keys {
			if s.expire(key, c.clock.Now()) {
				removed++
			}
		}
	}
	return removed
}

func (s *shard) expire(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[key]
	if !ok || !t.expiredAt(now) {
		return false
	}

	delete(s.tickets, key)
	t.transition(StateExpired)
	return true
}

// Run sweeps expired tickets every sweep interval until ctx is done
func (c *Cache) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	slog.Debug("ticket sweeper start", "interval", c.sweepInterval, "ttl", c.ttl)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("ticket sweeper stop")
			return
		case <-ticker.Chan():
			if n := c.Sweep(); n > 0 {
				slog.Debug("ticket sweeper", "expired", n)
			}
		}
	}
}
