// ABOUTME: TTL and size bounded cache of recently seen keys
// ABOUTME: Suppresses repeated notifications and replayed envelopes within a window

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults applied when Options leaves a field zero
const (
	DefaultTTL     = 5 * time.Second
	DefaultMaxSize = 256
)

type entry struct {
	key  string
	seen time.Time
}

// Options configures a Cache.
type Options struct {
	TTL     time.Duration
	MaxSize int
	Now     func() time.Time
}

// Cache remembers keys for a TTL. Expired entries are pruned lazily on
// each call, oldest first, so there is no background goroutine to stop.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // *entry, least recently marked at the front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a Cache.
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
		now:     opts.Now,
	}
}

// Seen reports whether key was marked within the TTL and marks it either
// way. The check and mark are atomic.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.pruneLocked(now)

	if el, ok := c.index[key]; ok {
		el.Value.(*entry).seen = now
		c.order.MoveToBack(el)
		return true
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*entry).key)
	}
	c.index[key] = c.order.PushBack(&entry{key: key, seen: now})
	return false
}

// Forget drops key so the next Seen reports it as new.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.order.Remove(el)
		delete(c.index, key)
	}
}

// Len returns the number of live keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(c.now())
	return c.order.Len()
}

func (c *Cache) pruneLocked(now time.Time) {
	for el := c.order.Front(); el != nil; el = c.order.Front() {
		e := el.Value.(*entry)
		if now.Sub(e.seen) < c.ttl {
			return
		}
		c.order.Remove(el)
		delete(c.index, e.key)
	}
}
