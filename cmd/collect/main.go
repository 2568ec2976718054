package main

import (
	"github.com/gomeat/go-news-backend/internal/config"
	"github.com/gomeat/go-news-backend/internal/ingest"
	"github.com/gomeat/go-news-backend/internal/logging"
	"github.com/gomeat/go-news-backend/internal/scheduler"
	"github.com/gomeat/go-news-backend/internal/source"
	"github.com/gomeat/go-news-backend/internal/storage"
)

// One-shot collection entrypoint: run every adapter once and exit.
// Useful for manual triggers and container cron jobs.
func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	store, err := storage.NewStore(cfg.PostgresDSN)
	if err != nil {
		log.Fatalw("init store failed", "error", err)
	}

	// Keep the provider registrations in sync with cmd/api.
	if _, err := store.EnsureSource("rss", "RSS", cfg.FeedURL, 1.0); err != nil {
		log.Fatalw("ensure source rss failed", "error", err)
	}
	if _, err := store.EnsureSource("hackernews", "Hacker News", "https://news.ycombinator.com", 0.8); err != nil {
		log.Fatalw("ensure source hackernews failed", "error", err)
	}

	ingestor := ingest.NewService(store, log)

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

	sched.RunOnce()
}
