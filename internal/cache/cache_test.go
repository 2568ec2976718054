package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestPutGetAndStats(t *testing.T) {
	c := New(4, time.Minute, 0)
	defer c.Close()

	c.Put("a", 1)
	if v, ok := c.Get("a"); !ok || v.(int) != 1 {
		t.Fatalf("Get(a) = %v,%v, want 1,true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("Get(missing) should miss")
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("stats = %d/%d, want 1/1", hits, misses)
	}
}

func TestEvictionIsLRUAndBounded(t *testing.T) {
	c := New(3, time.Minute, 0)
	defer c.Close()

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// Touch a so b becomes the least recently used.
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("a should be present")
	}

	c.Put("d", 4)
	if c.Len() != 3 {
		t.Fatalf("len = %d, want capacity 3", c.Len())
	}
	if _, ok := c.Get("b"); ok {
		t.Fatalf("b should have been evicted as LRU")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("%s should have survived eviction", k)
		}
	}
}

func TestTTLExpiryLazyAndSwept(t *testing.T) {
	c := New(8, 30*time.Millisecond, 10*time.Millisecond)
	defer c.Close()

	c.Put("a", 1)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("fresh entry should hit")
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expired entry should miss")
	}

	c.Put("b", 2)
	time.Sleep(80 * time.Millisecond)
	// The sweep should have removed b without anyone reading it.
	if n := c.Len(); n != 0 {
		t.Fatalf("len after sweep = %d, want 0", n)
	}
}

func TestRangeSkipsExpiredAndAllowsRemove(t *testing.T) {
	c := New(8, time.Minute, 0)
	defer c.Close()

	c.Put("keep", 1)
	c.Put("drop", 2)

	c.Range(func(key string, value any) bool {
		if key == "drop" {
			c.Remove(key)
		}
		return true
	})

	if _, ok := c.Get("drop"); ok {
		t.Fatalf("drop should be gone after Range removal")
	}
	if _, ok := c.Get("keep"); !ok {
		t.Fatalf("keep should remain")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(32, time.Minute, 5*time.Millisecond)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", j%40)
				c.Put(key, j)
				c.Get(key)
				if j%17 == 0 {
					c.Remove(key)
				}
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 32 {
		t.Fatalf("len = %d exceeds capacity 32", c.Len())
	}
}
