package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gomeat/go-news-backend/internal/cache"
	"github.com/gomeat/go-news-backend/internal/storage"
)

const (
	// rankWindow bounds how far back the builder reads when assembling
	// a feed; older articles never rank high enough to matter.
	rankWindow = 72 * time.Hour
	// recencyHalfLife halves an article's score every interval.
	recencyHalfLife = 12 * time.Hour
	maxFeedArticles = 200
	defaultTrust    = 1.0
)

// Store is the read surface the builder needs.
type Store interface {
	ListActiveSince(since time.Time, topic string, limit int) ([]storage.Article, error)
	GetByID(id string) (*storage.Article, error)
	TrustWeights() (map[string]float64, error)
}

// Summary is the per-article payload served inside a feed page.
type Summary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	SourceID    string    `json:"sourceId"`
	SourceURL   string    `json:"sourceUrl"`
	Topics      string    `json:"topics,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Page is one paginated slice of a feed snapshot.
type Page struct {
	FeedKey     string    `json:"feedKey"`
	GeneratedAt time.Time `json:"generatedAt"`
	Stale       bool      `json:"stale"`
	Page        int       `json:"page"`
	HasMore     bool      `json:"hasMore"`
	Articles    []Summary `json:"articles"`
}

// Builder assembles ranked feeds and owns the reconciliation policy:
// scheduled, miss-triggered and invalidation-triggered rebuilds all go
// through the same single-flighted rebuild path.
type Builder struct {
	store Store
	cache *cache.Cache
	redis *redis.Client // optional L2, nil disables
	log   *zap.SugaredLogger

	ttl            time.Duration
	pageSize       int
	rebuildTimeout time.Duration

	group singleflight.Group
}

func NewBuilder(store Store, c *cache.Cache, rdb *redis.Client, log *zap.SugaredLogger, ttl time.Duration, pageSize int, rebuildTimeout time.Duration) *Builder {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Builder{
		store:          store,
		cache:          c,
		redis:          rdb,
		log:            log,
		ttl:            ttl,
		pageSize:       pageSize,
		rebuildTimeout: rebuildTimeout,
	}
}

// Get serves one page of the feed. Cache hit within TTL is served as-is;
// otherwise a rebuild runs under single-flight, bounded by the rebuild
// timeout. When a rebuild fails or times out and a stale snapshot exists,
// the stale snapshot is served flagged rather than failing the request.
func (b *Builder) Get(ctx context.Context, key string, page int) (*Page, error) {
	if _, err := ParseKey(key); err != nil {
		return nil, err
	}
	if page < 0 {
		page = 0
	}

	now := time.Now()

	var stale *Feed
	if v, ok := b.cache.Get(key); ok {
		f := v.(*Feed)
		if !f.Stale(now) {
			return b.page(f, page, false)
		}
		stale = f
	}

	if f := b.fromRedis(ctx, key); f != nil && !f.Stale(now) {
		b.cache.Put(key, f)
		return b.page(f, page, false)
	}

	f, err := b.rebuild(ctx, key)
	if err != nil {
		if stale != nil {
			b.log.Warnw("serving stale feed", "key", key, "error", err)
			return b.page(stale, page, true)
		}
		return nil, err
	}
	return b.page(f, page, false)
}

// Rebuild regenerates a feed unconditionally and caches the result.
// Used by the scheduler for time-based reconciliation.
func (b *Builder) Rebuild(ctx context.Context, key string) error {
	if _, err := ParseKey(key); err != nil {
		return err
	}
	_, err := b.rebuild(ctx, key)
	return err
}

// InvalidateArticle drops every cached feed referencing the article.
// Called after a supersession so stale references rebuild on next read.
func (b *Builder) InvalidateArticle(articleID string) {
	b.cache.Range(func(key string, value any) bool {
		f, ok := value.(*Feed)
		if !ok {
			return true
		}
		for _, id := range f.ArticleIDs {
			if id == articleID {
				b.cache.Remove(key)
				b.dropRedis(key)
				b.log.Infow("invalidated feed", "key", key, "article", articleID)
				break
			}
		}
		return true
	})
}

// CacheStats exposes hit/miss counters for the API layer.
func (b *Builder) CacheStats() (hits, misses uint64) {
	return b.cache.Stats()
}

func (b *Builder) rebuild(ctx context.Context, key string) (*Feed, error) {
	ch := b.group.DoChan(key, func() (any, error) {
		return b.build(key)
	})

	timeout := b.rebuildTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Feed), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("feed: rebuild %q timed out after %s", key, timeout)
	}
}

// build does the actual ranking. Runs at most once per key at a time;
// concurrent callers share the one in-flight result.
func (b *Builder) build(key string) (*Feed, error) {
	topic, err := ParseKey(key)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	articles, err := b.store.ListActiveSince(now.Add(-rankWindow), topic, maxFeedArticles)
	if err != nil {
		return nil, fmt.Errorf("feed: list articles: %w", err)
	}

	weights, err := b.store.TrustWeights()
	if err != nil {
		// Ranking still works without weights, just flatter.
		b.log.Warnw("trust weights unavailable", "error", err)
		weights = nil
	}

	type scored struct {
		id    string
		score float64
	}
	ranked := make([]scored, 0, len(articles))
	for _, a := range articles {
		w := defaultTrust
		if weights != nil {
			if tw, ok := weights[a.SourceID]; ok && tw > 0 {
				w = tw
			}
		}
		age := now.Sub(a.PublishedAt)
		if age < 0 {
			age = 0
		}
		decay := math.Exp2(-age.Hours() / recencyHalfLife.Hours())
		ranked = append(ranked, scored{id: a.ID, score: decay * w})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		// Deterministic tie-break keeps pagination stable.
		return ranked[i].id < ranked[j].id
	})

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.id
	}

	f := &Feed{
		Key:         key,
		GeneratedAt: now,
		TTL:         b.ttl,
		ArticleIDs:  ids,
	}
	b.cache.Put(key, f)
	b.putRedis(f)
	b.log.Infow("feed built", "key", key, "articles", len(ids))
	return f, nil
}

// page materialises one page of summaries from the immutable ID list.
// Articles ingested after GeneratedAt cannot appear, which keeps ordering
// stable across pages of the same snapshot.
func (b *Builder) page(f *Feed, page int, stale bool) (*Page, error) {
	start := page * b.pageSize
	end := start + b.pageSize
	if start > len(f.ArticleIDs) {
		start = len(f.ArticleIDs)
	}
	if end > len(f.ArticleIDs) {
		end = len(f.ArticleIDs)
	}

	out := make([]Summary, 0, end-start)
	for _, id := range f.ArticleIDs[start:end] {
		a, err := b.store.GetByID(id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("feed: resolve article %s: %w", id, err)
		}
		out = append(out, Summary{
			ID:          a.ID,
			Title:       a.Title,
			SourceID:    a.SourceID,
			SourceURL:   a.SourceURL,
			Topics:      a.Topics,
			PublishedAt: a.PublishedAt,
		})
	}

	return &Page{
		FeedKey:     f.Key,
		GeneratedAt: f.GeneratedAt,
		Stale:       stale,
		Page:        page,
		HasMore:     end < len(f.ArticleIDs),
		Articles:    out,
	}, nil
}

// Redis is a best-effort L2: every failure below is a transparent miss.

func redisKey(key string) string { return "feed:" + key }

func (b *Builder) fromRedis(ctx context.Context, key string) *Feed {
	if b.redis == nil {
		return nil
	}
	bs, err := b.redis.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		return nil
	}
	f := &Feed{}
	if err := json.Unmarshal(bs, f); err != nil {
		return nil
	}
	return f
}

func (b *Builder) putRedis(f *Feed) {
	if b.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if bs, err := json.Marshal(f); err == nil {
		_ = b.redis.Set(ctx, redisKey(f.Key), bs, f.TTL).Err()
	}
}

func (b *Builder) dropRedis(key string) {
	if b.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = b.redis.Del(ctx, redisKey(key)).Err()
}
