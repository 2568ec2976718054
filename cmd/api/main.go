package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/gomeat/go-news-backend/internal/api"
	"github.com/gomeat/go-news-backend/internal/cache"
	"github.com/gomeat/go-news-backend/internal/config"
	"github.com/gomeat/go-news-backend/internal/feed"
	"github.com/gomeat/go-news-backend/internal/ingest"
	"github.com/gomeat/go-news-backend/internal/logging"
	"github.com/gomeat/go-news-backend/internal/scheduler"
	"github.com/gomeat/go-news-backend/internal/source"
	"github.com/gomeat/go-news-backend/internal/storage"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	store, err := storage.NewStore(cfg.PostgresDSN)
	if err != nil {
		log.Fatalw("init store failed", "error", err)
	}

	// Register the known providers with their ranking weights.
	if _, err := store.EnsureSource("rss", "RSS", cfg.FeedURL, 1.0); err != nil {
		log.Fatalw("ensure source rss failed", "error", err)
	}
	if _, err := store.EnsureSource("hackernews", "Hacker News", "https://news.ycombinator.com", 0.8); err != nil {
		log.Fatalw("ensure source hackernews failed", "error", err)
	}
	if _, err := store.EnsureSource("push", "Push API", "", 1.0); err != nil {
		log.Fatalw("ensure source push failed", "error", err)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warnw("redis ping failed, L2 feed cache degraded", "error", err)
		}
		cancel()
	}

	feedCache := cache.New(cfg.CacheCapacity, cfg.FeedTTL, cfg.CacheSweep)
	defer feedCache.Close()

	builder := feed.NewBuilder(store, feedCache, rdb, log, cfg.FeedTTL, cfg.FeedPageSize, cfg.RebuildTimeout)

	ingestor := ingest.NewService(store, log)
	ingestor.OnSuperseded = func(oldID, newID string) {
		builder.InvalidateArticle(oldID)
	}

	// One job per source, each on its own cadence.
	jobs := []scheduler.AdapterJob{
		{Adapter: source.NewRSSAdapter("rss", cfg.FeedURL, "news"), CronSpec: cfg.FeedCronSpec},
		{Adapter: source.NewHackerNewsAdapter(), CronSpec: cfg.HNCronSpec},
	}
	if cfg.HTMLListURL != "" {
		if _, err := store.EnsureSource("html", "HTML Listing", cfg.HTMLListURL, 0.7); err != nil {
			log.Fatalw("ensure source html failed", "error", err)
		}
		jobs = append(jobs, scheduler.AdapterJob{
			Adapter: source.NewHTMLListingAdapter("html", cfg.HTMLListURL, "",
				cfg.HTMLItemSelector, cfg.HTMLTitleSelector, cfg.HTMLLinkSelector, "news"),
			CronSpec: cfg.HTMLCronSpec,
		})
	}

	sched, err := scheduler.New(jobs, ingestor, store, log, scheduler.Backoff{
		Initial:    cfg.BackoffInitial,
		Max:        cfg.BackoffMax,
		MaxRetries: cfg.BackoffMaxRetries,
	})
	if err != nil {
		log.Fatalw("init scheduler failed", "error", err)
	}
	// Warm the hot feeds on a timer so readers rarely hit a cold rebuild.
	if err := sched.AddFeedRefresh("*/5 * * * *", builder, []string{"top", "topic:tech", "topic:news"}); err != nil {
		log.Fatalw("add feed refresh failed", "error", err)
	}
	sched.Start()
	defer sched.Stop()

	r := gin.Default()
	apiServer := api.NewServer(store, builder, ingestor, sched, log, cfg.IngestToken,
		cfg.RateLimitRPS, cfg.RateLimitBurst)
	apiServer.RegisterRoutes(r)

	addr := ":" + cfg.AppPort
	log.Infow("starting api server", "addr", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalw("server exit", "error", err)
	}
}
