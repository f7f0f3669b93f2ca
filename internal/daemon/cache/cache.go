// internal/daemon/cache/cache.go
package cache

import (
	"sort"
	"sync"
	"time"
)

// DefaultReapInterval is how often the reaper scans for expired entries
// when Config.Interval is not set.
const DefaultReapInterval = 500 * time.Millisecond

// EvictFunc is called once for every entry that expires.
type EvictFunc[V any] func(key string, value V)

// Entry is a single cached value.
type Entry[V any] struct {
	Key         string
	Value       V
	LastTouched time.Time
}

// Config configures a Cache.
type Config[V any] struct {
	// TTL is the idle timeout of an entry. Zero disables expiry and the reaper.
	TTL time.Duration

	// Interval is the reaper tick (default: DefaultReapInterval).
	Interval time.Duration

	// OnEvict is called after an entry expired. Optional.
	OnEvict EvictFunc[V]

	// Now overrides the clock. Optional.
	Now func() time.Time
}

// Cache is an idle-timeout cache: every successful Get pushes an entry's
// expiry forward by TTL. Expired entries are removed by a background reaper
// which then invokes OnEvict outside of the cache lock.
//
// All methods are safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*Entry[V]

	ttl      time.Duration
	interval time.Duration
	onEvict  EvictFunc[V]
	now      func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache. The reaper goroutine is only started when TTL > 0;
// call Close to stop it.
func New[V any](cfg Config[V]) *Cache[V] {
	c := &Cache[V]{
		entries:  make(map[string]*Entry[V]),
		ttl:      cfg.TTL,
		interval: cfg.Interval,
		onEvict:  cfg.OnEvict,
		now:      cfg.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if c.ttl < 0 {
		c.ttl = 0
	}
	if c.interval <= 0 {
		c.interval = DefaultReapInterval
	}
	if c.now == nil {
		c.now = time.Now
	}

	if c.ttl > 0 {
		go c.reapLoop()
	} else {
		close(c.done)
	}
	return c
}

// TTL returns the configured idle timeout (0 = never expire).
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value stored for key and refreshes its idle clock.
// An absent or already expired key returns false and is left untouched.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}

	now := c.now()
	if c.expiredLocked(e, now) {
		var zero V
		return zero, false
	}
	if now.After(e.LastTouched) {
		e.LastTouched = now
	}
	return e.Value, true
}

// Contains reports whether key holds a live entry without refreshing it.
func (c *Cache[V]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return ok && !c.expiredLocked(e, c.now())
}

// Insert stores value under key, replacing any previous entry.
// Replacing a live entry does not call OnEvict; replacing an entry that
// already expired but was not reaped yet does.
func (c *Cache[V]) Insert(key string, value V) {
	now := c.now()

	c.mu.Lock()
	old, existed := c.entries[key]
	expired := existed && c.expiredLocked(old, now)
	c.entries[key] = &Entry[V]{Key: key, Value: value, LastTouched: now}
	c.mu.Unlock()

	if expired {
		c.evict(old)
	}
}

// Len returns the number of stored entries, including expired entries the
// reaper has not removed yet.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the stored keys in sorted order.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Sweep runs a single reaper pass and returns the number of evicted entries.
func (c *Cache[V]) Sweep() int {
	if c.ttl == 0 {
		return 0
	}

	c.mu.Lock()
	now := c.now()
	var candidates []string
	for k, e := range c.entries {
		if c.expiredLocked(e, now) {
			candidates = append(candidates, k)
		}
	}
	c.mu.Unlock()

	evicted := make([]*Entry[V], 0, len(candidates))
	for _, k := range candidates {
		if e, ok := c.removeIfExpired(k); ok {
			evicted = append(evicted, e)
		}
	}

	for _, e := range evicted {
		c.evict(e)
	}
	return len(evicted)
}

// Close stops the reaper and waits for it to exit. Safe to call more than once.
func (c *Cache[V]) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	<-c.done
}

// removeIfExpired re-checks key against its freshest LastTouched and removes
// it in the same critical section.
func (c *Cache[V]) removeIfExpired(key string) (*Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !c.expiredLocked(e, c.now()) {
		return nil, false
	}
	delete(c.entries, key)
	return e, true
}

func (c *Cache[V]) expiredLocked(e *Entry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.LastTouched) > c.ttl
}

func (c *Cache[V]) evict(e *Entry[V]) {
	if c.onEvict != nil {
		c.onEvict(e.Key, e.Value)
	}
}

func (c *Cache[V]) reapLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
