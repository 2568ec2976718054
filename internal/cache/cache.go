package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a bounded in-memory LRU with per-entry TTL. Expiry is checked
// lazily on Get and eagerly by the background sweep. It never returns an
// error: anything wrong degrades to a miss.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[string]*list.Element

	hits   atomic.Uint64
	misses atomic.Uint64

	stop chan struct{}
	once sync.Once
}

type entry struct {
	key      string
	value    any
	storedAt time.Time
}

// New builds a cache holding at most capacity entries, each fresh for ttl.
// sweepEvery <= 0 disables the background sweep (expiry stays lazy).
func New(capacity int, ttl, sweepEvery time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 64
	}
	c := &Cache{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
		stop:     make(chan struct{}),
	}
	if sweepEvery > 0 {
		go c.sweepLoop(sweepEvery)
	}
	return c
}

// Get returns the cached value, or (nil, false) on miss or expiry.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	ent := el.Value.(*entry)
	if c.expired(ent, time.Now()) {
		c.removeElement(el)
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	c.ll.MoveToFront(el)
	val := ent.value
	c.mu.Unlock()

	c.hits.Add(1)
	return val, true
}

// Put inserts or replaces key. Beyond capacity the least-recently-used
// entry is evicted first.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.storedAt = time.Now()
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{key: key, value: value, storedAt: time.Now()})
	c.items[key] = el

	for c.ll.Len() > c.capacity {
		if back := c.ll.Back(); back != nil {
			c.removeElement(back)
		}
	}
}

// Remove drops a single key.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Range calls fn for each live entry until fn returns false. Values are
// a snapshot taken under the lock, so fn may call Remove safely.
func (c *Cache) Range(fn func(key string, value any) bool) {
	type kv struct {
		k string
		v any
	}
	c.mu.Lock()
	now := time.Now()
	snapshot := make([]kv, 0, len(c.items))
	for k, el := range c.items {
		ent := el.Value.(*entry)
		if c.expired(ent, now) {
			continue
		}
		snapshot = append(snapshot, kv{k, ent.value})
	}
	c.mu.Unlock()

	for _, p := range snapshot {
		if !fn(p.k, p.v) {
			return
		}
	}
}

// Len reports the current entry count, expired entries included until
// the next sweep touches them.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns cumulative hit/miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Close stops the background sweep.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache) expired(ent *entry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(ent.storedAt) > c.ttl
}

func (c *Cache) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*entry), now) {
			c.removeElement(el)
		}
		el = prev
	}
}

// removeElement must be called with the lock held.
func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}
