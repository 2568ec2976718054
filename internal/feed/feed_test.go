package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gomeat/go-news-backend/internal/cache"
	"github.com/gomeat/go-news-backend/internal/storage"
)

type fakeStore struct {
	mu       sync.Mutex
	articles map[string]*storage.Article
	weights  map[string]float64

	listCalls atomic.Int32
	listDelay time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		articles: make(map[string]*storage.Article),
		weights:  map[string]float64{},
	}
}

func (f *fakeStore) add(id, sourceID string, published time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.articles[id] = &storage.Article{
		ID:          id,
		SourceID:    sourceID,
		SourceURL:   "https://example.com/" + id,
		Title:       "Title " + id,
		Topics:      "tech",
		PublishedAt: published,
		Status:      storage.StatusActive,
	}
}

func (f *fakeStore) ListActiveSince(since time.Time, topic string, limit int) ([]storage.Article, error) {
	f.listCalls.Add(1)
	if f.listDelay > 0 {
		time.Sleep(f.listDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Article
	for _, a := range f.articles {
		if a.Status != storage.StatusActive {
			continue
		}
		if topic != "" && !strings.Contains(a.Topics, topic) {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (f *fakeStore) GetByID(id string) (*storage.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.articles[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) TrustWeights() (map[string]float64, error) {
	return f.weights, nil
}

func newTestBuilder(t *testing.T, store Store, ttl time.Duration, pageSize int, rebuildTimeout time.Duration) *Builder {
	t.Helper()
	c := cache.New(16, time.Minute, 0)
	t.Cleanup(c.Close)
	return NewBuilder(store, c, nil, zap.NewNop().Sugar(), ttl, pageSize, rebuildTimeout)
}

func TestParseKey(t *testing.T) {
	if _, err := ParseKey("top"); err != nil {
		t.Fatalf("top rejected: %v", err)
	}
	if topic, err := ParseKey("topic:ai"); err != nil || topic != "ai" {
		t.Fatalf("topic:ai = %q,%v", topic, err)
	}
	for _, bad := range []string{"", "hot", "topic:", "topic:UPPER", "topic:has space"} {
		if _, err := ParseKey(bad); !errors.Is(err, ErrBadKey) {
			t.Fatalf("ParseKey(%q) err = %v, want ErrBadKey", bad, err)
		}
	}
}

func TestRankingRecencyTrustAndTieBreak(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.add("old", "rss", now.Add(-24*time.Hour))
	store.add("new", "rss", now.Add(-time.Minute))
	// Same age as old but a much more trusted source.
	store.add("trusted", "wire", now.Add(-24*time.Hour))
	store.weights = map[string]float64{"rss": 1.0, "wire": 10.0}

	b := newTestBuilder(t, store, time.Minute, 10, time.Second)
	p, err := b.Get(context.Background(), "top", 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(p.Articles) != 3 {
		t.Fatalf("articles = %d, want 3", len(p.Articles))
	}
	if p.Articles[0].ID != "new" {
		t.Fatalf("rank 0 = %q, want new (recency)", p.Articles[0].ID)
	}
	if p.Articles[1].ID != "trusted" {
		t.Fatalf("rank 1 = %q, want trusted (weight beats equal-age rss)", p.Articles[1].ID)
	}

	// Identical score ties resolve by id ascending.
	store2 := newFakeStore()
	ts := now.Add(-time.Hour)
	store2.add("b", "rss", ts)
	store2.add("a", "rss", ts)
	b2 := newTestBuilder(t, store2, time.Minute, 10, time.Second)
	p2, err := b2.Get(context.Background(), "top", 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p2.Articles[0].ID != "a" || p2.Articles[1].ID != "b" {
		t.Fatalf("tie-break order = %q,%q, want a,b", p2.Articles[0].ID, p2.Articles[1].ID)
	}
}

func TestTopicKeyFiltersArticles(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.add("t1", "rss", now)
	store.mu.Lock()
	store.articles["t1"].Topics = "sports"
	store.mu.Unlock()
	store.add("t2", "rss", now)

	b := newTestBuilder(t, store, time.Minute, 10, time.Second)
	p, err := b.Get(context.Background(), "topic:sports", 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(p.Articles) != 1 || p.Articles[0].ID != "t1" {
		t.Fatalf("topic feed = %+v, want only t1", p.Articles)
	}
}

func TestSingleFlightSharedRebuild(t *testing.T) {
	store := newFakeStore()
	store.add("a1", "rss", time.Now())
	store.listDelay = 50 * time.Millisecond

	b := newTestBuilder(t, store, time.Minute, 10, 2*time.Second)

	const callers = 10
	var wg sync.WaitGroup
	pages := make([]*Page, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := b.Get(context.Background(), "top", 0)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			pages[i] = p
		}(i)
	}
	wg.Wait()

	if calls := store.listCalls.Load(); calls != 1 {
		t.Fatalf("store list calls = %d, want exactly 1 (single-flight)", calls)
	}
	for i := 1; i < callers; i++ {
		if !pages[i].GeneratedAt.Equal(pages[0].GeneratedAt) {
			t.Fatalf("caller %d got generatedAt %v, want shared %v", i, pages[i].GeneratedAt, pages[0].GeneratedAt)
		}
	}
}

func TestPaginationIsSnapshotStable(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	for i := 0; i < 5; i++ {
		store.add(fmt.Sprintf("a%d", i), "rss", now.Add(-time.Duration(i)*time.Minute))
	}

	b := newTestBuilder(t, store, time.Minute, 2, time.Second)

	p0, err := b.Get(context.Background(), "top", 0)
	if err != nil {
		t.Fatalf("page 0: %v", err)
	}
	if len(p0.Articles) != 2 || !p0.HasMore {
		t.Fatalf("page 0 = %d articles hasMore=%v, want 2,true", len(p0.Articles), p0.HasMore)
	}

	// New arrivals mid-pagination must not shift later pages.
	store.add("intruder", "rss", now)

	p1, err := b.Get(context.Background(), "top", 1)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	p2, err := b.Get(context.Background(), "top", 2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if !p1.GeneratedAt.Equal(p0.GeneratedAt) || !p2.GeneratedAt.Equal(p0.GeneratedAt) {
		t.Fatalf("pages span different snapshots")
	}
	seen := map[string]bool{}
	for _, p := range []*Page{p0, p1, p2} {
		for _, a := range p.Articles {
			if a.ID == "intruder" {
				t.Fatalf("intruder leaked into an existing snapshot")
			}
			if seen[a.ID] {
				t.Fatalf("article %s appeared on two pages", a.ID)
			}
			seen[a.ID] = true
		}
	}
	if len(seen) != 5 {
		t.Fatalf("pages covered %d articles, want 5", len(seen))
	}
	if p2.HasMore {
		t.Fatalf("last page should report hasMore=false")
	}
}

func TestStaleFeedServedOnRebuildTimeout(t *testing.T) {
	store := newFakeStore()
	store.add("a1", "rss", time.Now())

	b := newTestBuilder(t, store, 30*time.Millisecond, 10, 50*time.Millisecond)

	p0, err := b.Get(context.Background(), "top", 0)
	if err != nil {
		t.Fatalf("initial build: %v", err)
	}
	if p0.Stale {
		t.Fatalf("fresh feed flagged stale")
	}

	// Let the snapshot expire, then wedge the store past the timeout.
	time.Sleep(40 * time.Millisecond)
	store.listDelay = time.Second

	p1, err := b.Get(context.Background(), "top", 0)
	if err != nil {
		t.Fatalf("get with wedged store: %v", err)
	}
	if !p1.Stale {
		t.Fatalf("timed-out rebuild must serve the stale snapshot flagged")
	}
	if !p1.GeneratedAt.Equal(p0.GeneratedAt) {
		t.Fatalf("stale page generatedAt = %v, want original %v", p1.GeneratedAt, p0.GeneratedAt)
	}
}

func TestInvalidateArticleEvictsContainingFeeds(t *testing.T) {
	store := newFakeStore()
	store.add("a1", "rss", time.Now())

	b := newTestBuilder(t, store, time.Minute, 10, time.Second)
	if _, err := b.Get(context.Background(), "top", 0); err != nil {
		t.Fatalf("build: %v", err)
	}
	if calls := store.listCalls.Load(); calls != 1 {
		t.Fatalf("list calls = %d, want 1", calls)
	}

	b.InvalidateArticle("a1")

	if _, err := b.Get(context.Background(), "top", 0); err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if calls := store.listCalls.Load(); calls != 2 {
		t.Fatalf("list calls after invalidate = %d, want 2 (rebuild)", calls)
	}
}

func TestBadKeyRejected(t *testing.T) {
	b := newTestBuilder(t, newFakeStore(), time.Minute, 10, time.Second)
	if _, err := b.Get(context.Background(), "drop table", 0); !errors.Is(err, ErrBadKey) {
		t.Fatalf("err = %v, want ErrBadKey", err)
	}
}
