package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the service reads from the environment.
// All tuning knobs (intervals, backoff bounds, cache sizing, rate limits)
// are supplied here and never computed inside the core packages.
type Config struct {
	AppPort  string
	LogLevel string

	PostgresDSN string
	RedisAddr   string // optional, empty disables the L2 feed cache

	// Token required on /internal/v1/* endpoints.
	IngestToken string

	// Default RSS feed polled by the built-in adapter.
	FeedURL      string
	FeedCronSpec string
	HNCronSpec   string

	// Optional HTML listing source, enabled when HTMLListURL is set.
	HTMLListURL       string
	HTMLItemSelector  string
	HTMLTitleSelector string
	HTMLLinkSelector  string
	HTMLCronSpec      string

	// Adapter retry bounds.
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMaxRetries int

	// Feed cache sizing.
	CacheCapacity  int
	FeedTTL        time.Duration
	CacheSweep     time.Duration
	FeedPageSize   int
	RebuildTimeout time.Duration

	// Public read rate limit, per client.
	RateLimitRPS   float64
	RateLimitBurst int
}

func Load() *Config {
	// Container deployments pass real env vars; .env is for local runs.
	_ = godotenv.Load()

	return &Config{
		AppPort:  getEnv("APP_PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		PostgresDSN: getEnv("POSTGRES_DSN", "host=localhost user=news password=news dbname=news port=5432 sslmode=disable TimeZone=UTC"),
		RedisAddr:   getEnv("REDIS_ADDR", ""),

		IngestToken: getEnv("INGEST_TOKEN", ""),

		FeedURL:      getEnv("FEED_URL", "https://gome.at/feed"),
		FeedCronSpec: getEnv("FEED_CRON_SPEC", "*/30 * * * *"),
		HNCronSpec:   getEnv("HN_CRON_SPEC", "0 * * * *"),

		HTMLListURL:       getEnv("HTML_LIST_URL", ""),
		HTMLItemSelector:  getEnv("HTML_ITEM_SELECTOR", "article"),
		HTMLTitleSelector: getEnv("HTML_TITLE_SELECTOR", "h2"),
		HTMLLinkSelector:  getEnv("HTML_LINK_SELECTOR", "a"),
		HTMLCronSpec:      getEnv("HTML_CRON_SPEC", "*/30 * * * *"),

		BackoffInitial:    getDuration("BACKOFF_INITIAL", 2*time.Second),
		BackoffMax:        getDuration("BACKOFF_MAX", 2*time.Minute),
		BackoffMaxRetries: getInt("BACKOFF_MAX_RETRIES", 3),

		CacheCapacity:  getInt("CACHE_CAPACITY", 128),
		FeedTTL:        getDuration("FEED_TTL", 5*time.Minute),
		CacheSweep:     getDuration("CACHE_SWEEP_INTERVAL", time.Minute),
		FeedPageSize:   getInt("FEED_PAGE_SIZE", 20),
		RebuildTimeout: getDuration("REBUILD_TIMEOUT", 3*time.Second),

		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 20),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
