// ABOUTME: Tests for the dedupe cache
// ABOUTME: Uses an injected clock for TTL expiry

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestCache_SeenMarks(t *testing.T) {
	c := New(Options{})

	assert.False(t, c.Seen("a"))
	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
}

func TestCache_Expiry(t *testing.T) {
	clk := newClock()
	c := New(Options{TTL: time.Second, Now: clk.Now})

	assert.False(t, c.Seen("a"))
	clk.Advance(999 * time.Millisecond)
	assert.True(t, c.Seen("a"), "within ttl")

	// Seen refreshes the window
	clk.Advance(999 * time.Millisecond)
	assert.True(t, c.Seen("a"))

	clk.Advance(time.Second)
	assert.False(t, c.Seen("a"), "expired")
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New(Options{MaxSize: 3})

	for i := range 3 {
		c.Seen(fmt.Sprintf("k%d", i))
	}
	c.Seen("k3")

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("k0"), "k0 should have been evicted")
}

func TestCache_Forget(t *testing.T) {
	c := New(Options{})
	c.Seen("a")
	c.Forget("a")
	assert.False(t, c.Seen("a"))
}

func TestCache_ConcurrentSeenIsAtomic(t *testing.T) {
	c := New(Options{})

	var firsts atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen("shared") {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), firsts.Load())
}
