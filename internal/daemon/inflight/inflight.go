// internal/daemon/inflight/inflight.go
package inflight

import (
	"sort"
	"sync"
	"time"
)

// LookupFunc reports a cached value for key. It is called with the set's
// lock held and must not call back into the Set.
type LookupFunc[V any] func(key string) (V, bool)

// Outcome is the result of Begin. Exactly one of Hit, Claim or Wait is set.
type Outcome[V any] struct {
	// Value is set when Hit is true, meaning lookup found a value.
	Value V
	Hit   bool

	// Claim is non-nil when the caller now owns the build for the key and
	// must Release it.
	Claim *Claim

	// Wait is closed when the build currently in flight for the key finishes.
	Wait <-chan struct{}
}

type call struct {
	done    chan struct{}
	started time.Time
}

// Set tracks the keys that currently have a build in flight.
// All methods are safe for concurrent use.
type Set[V any] struct {
	mu    sync.Mutex
	calls map[string]*call
}

// New creates an empty Set.
func New[V any]() *Set[V] {
	return &Set[V]{calls: make(map[string]*call)}
}

// Begin checks lookup and the in-flight state of key in one critical section:
// a cache hit is returned as is, a key that is already building yields a wait
// channel, and an idle key is claimed for the caller.
func (s *Set[V]) Begin(key string, lookup LookupFunc[V]) Outcome[V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lookup != nil {
		if v, ok := lookup(key); ok {
			return Outcome[V]{Value: v, Hit: true}
		}
	}
	if c, ok := s.calls[key]; ok {
		return Outcome[V]{Wait: c.done}
	}
	return Outcome[V]{Claim: s.claimLocked(key)}
}

// Building reports whether key has a build in flight.
func (s *Set[V]) Building(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.calls[key]
	return ok
}

// Since returns when the in-flight build for key was claimed.
func (s *Set[V]) Since(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[key]
	if !ok {
		return time.Time{}, false
	}
	return c.started, true
}

// Len returns the number of keys in flight.
func (s *Set[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Keys returns the keys in flight in sorted order.
func (s *Set[V]) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.calls))
	for k := range s.calls {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	sort.Strings(keys)
	return keys
}

func (s *Set[V]) claimLocked(key string) *Claim {
	c := &call{done: make(chan struct{}), started: time.Now()}
	s.calls[key] = c
	return &Claim{key: key, c: c, release: s.release}
}

func (s *Set[V]) release(key string, c *call) {
	s.mu.Lock()
	if s.calls[key] == c {
		delete(s.calls, key)
	}
	s.mu.Unlock()

	close(c.done)
}

// Claim is the ownership of an in-flight build for one key.
type Claim struct {
	key     string
	c       *call
	release func(key string, c *call)
	once    sync.Once
}

// Key returns the claimed key.
func (c *Claim) Key() string {
	return c.key
}

// Done is closed once the claim is released.
func (c *Claim) Done() <-chan struct{} {
	return c.c.done
}

// Release removes the key from the set and wakes every waiter.
// Only the first call has an effect, so it is safe to defer.
func (c *Claim) Release() {
	c.once.Do(func() {
		c.release(c.key, c.c)
	})
}
