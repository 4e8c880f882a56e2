// ABOUTME: Bounded TTL cache of delivery keys for at-least-once message streams
// ABOUTME: Recognises a message by server id or by its echo fingerprint

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/2389/coven-inbox/internal/chat"
)

const (
	// DefaultTTL is how long a delivery key is remembered.
	DefaultTTL = 10 * time.Minute
	// DefaultMaxSize bounds the number of remembered keys.
	DefaultMaxSize = 4096

	sweepInterval = time.Minute
)

type entry struct {
	seenAt time.Time
	elem   *list.Element
}

// Cache remembers recently delivered keys. Oldest keys are evicted first
// when the cache is full; expired keys are swept in the background.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache. Non-positive ttl or maxSize fall back to the
// defaults. Call Close to stop the sweeper.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweep()
	return c
}

// Seen reports whether key was marked within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// Mark records key, refreshing its age if already present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// CheckAndMark reports whether key was already seen and marks it in one
// step.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.liveLocked(key) {
		return true
	}
	c.markLocked(key)
	return false
}

// SeenMessage reports whether m was already delivered, by id or by echo
// fingerprint, and marks both keys. A message without a server id is only
// tracked by its fingerprint.
func (c *Cache) SeenMessage(m chat.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	dup := c.liveLocked(m.EchoKey())
	if m.ID > 0 && c.liveLocked(m.IdentityKey()) {
		dup = true
	}
	c.markMessageLocked(m)
	return dup
}

// MarkMessage records m under both of its keys.
func (c *Cache) MarkMessage(m chat.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markMessageLocked(m)
}

// Len returns the number of remembered keys, expired ones included until
// the next sweep.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

func (c *Cache) markMessageLocked(m chat.Message) {
	if m.ID > 0 {
		c.markLocked(m.IdentityKey())
	}
	c.markLocked(m.EchoKey())
}

func (c *Cache) liveLocked(key string) bool {
	e, ok := c.entries[key]
	return ok && c.now().Sub(e.seenAt) < c.ttl
}

func (c *Cache) markLocked(key string) {
	now := c.now()
	if e, ok := c.entries[key]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.elem)
		return
	}
	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.entries, front.Value.(string))
		}
	}
	c.entries[key] = &entry{seenAt: now, elem: c.order.PushBack(key)}
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.expire()
		case <-c.done:
			return
		}
	}
}

// expire drops keys older than the TTL. Marking moves a key to the back, so
// the list is ordered by age and the walk stops at the first live key.
func (c *Cache) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key := front.Value.(string)
		if now.Sub(c.entries[key].seenAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.entries, key)
	}
}
