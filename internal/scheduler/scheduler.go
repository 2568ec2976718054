package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gomeat/go-news-backend/internal/ingest"
	"github.com/gomeat/go-news-backend/internal/source"
	"github.com/gomeat/go-news-backend/internal/storage"
)

// Ingestor is the slice of the dedup service a collection cycle needs.
type Ingestor interface {
	Accept(ctx context.Context, sourceID string, item source.RawItem) (ingest.Decision, *storage.Article, error)
}

// CursorStore persists per-source resume markers.
type CursorStore interface {
	GetCursor(sourceID string) (string, error)
	SetCursor(sourceID, cursor string) error
}

// FeedRebuilder lets the scheduler refresh feeds on a timer so readers
// rarely pay the rebuild on a cache miss.
type FeedRebuilder interface {
	Rebuild(ctx context.Context, key string) error
}

// AdapterJob pairs an adapter with its own collection cadence. Sources
// update at very different rates, one shared spec does not fit.
type AdapterJob struct {
	Adapter  source.Adapter
	CronSpec string
}

// Backoff bounds for transient fetch failures within one cycle.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int
}

type Scheduler struct {
	cron     *cron.Cron
	jobs     []AdapterJob
	ingestor Ingestor
	cursors  CursorStore
	log      *zap.SugaredLogger
	backoff  Backoff

	fetchTimeout time.Duration
}

func New(jobs []AdapterJob, ing Ingestor, cursors CursorStore, log *zap.SugaredLogger, bo Backoff) (*Scheduler, error) {
	s := &Scheduler{
		cron:         cron.New(),
		jobs:         jobs,
		ingestor:     ing,
		cursors:      cursors,
		log:          log,
		backoff:      bo,
		fetchTimeout: 2 * time.Minute,
	}

	for _, job := range jobs {
		job := job
		if _, err := s.cron.AddFunc(job.CronSpec, func() { s.runAdapter(job.Adapter) }); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// AddFeedRefresh schedules periodic rebuilds for the given feed keys.
func (s *Scheduler) AddFeedRefresh(spec string, builder FeedRebuilder, keys []string) error {
	_, err := s.cron.AddFunc(spec, func() {
		for _, key := range keys {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := builder.Rebuild(ctx, key); err != nil {
				s.log.Warnw("scheduled feed rebuild failed", "key", key, "error", err)
			}
			cancel()
		}
	})
	return err
}

func (s *Scheduler) Start() {
	s.cron.Start()
	// Delay the first full collection so startup traffic is not competing
	// with the first page loads.
	const startupDelay = 15 * time.Second
	time.AfterFunc(startupDelay, func() { go s.RunOnce() })
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// RunOnce collects from every source concurrently. Each source runs its
// own cycle with its own cursor and backoff; one slow or broken source
// never blocks the others.
func (s *Scheduler) RunOnce() {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		adapter := job.Adapter
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runAdapter(adapter)
		}()
	}
	wg.Wait()
	s.log.Info("collection cycle done (all sources)")
}

// runAdapter is one collection cycle for one source: load cursor, fetch
// with bounded backoff, ingest item by item, persist the next cursor.
// On persistent fetch failure the cursor stays put so the next cycle
// retries the same window.
func (s *Scheduler) runAdapter(a source.Adapter) {
	name := a.Name()

	cursor, err := s.cursors.GetCursor(name)
	if err != nil {
		// Store unavailable: skip the whole cycle, nothing advanced.
		s.log.Errorw("cursor load failed, skipping cycle", "source", name, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
	defer cancel()

	var (
		items []source.RawItem
		next  string
	)
	bo := backoff.NewExponentialBackOff()
	if s.backoff.Initial > 0 {
		bo.InitialInterval = s.backoff.Initial
	}
	if s.backoff.Max > 0 {
		bo.MaxInterval = s.backoff.Max
	}
	bo.MaxElapsedTime = 0

	retries := s.backoff.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	err = backoff.Retry(func() error {
		var ferr error
		items, next, ferr = a.FetchSince(ctx, cursor)
		return ferr
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx))
	if err != nil {
		s.log.Warnw("fetch failed after retries, cursor kept", "source", name, "cursor", cursor, "error", err)
		return
	}

	accepted := 0
	for _, item := range items {
		if verr := source.Validate(item); verr != nil {
			// Data-quality problem with this one item; the cursor still
			// advances past it below so it cannot poison future cycles.
			s.log.Warnw("dropping malformed item", "source", name, "url", item.URL, "error", verr)
			continue
		}
		if _, _, ierr := s.ingestor.Accept(ctx, name, item); ierr != nil {
			if errors.Is(ierr, source.ErrMalformedItem) {
				s.log.Warnw("dropping malformed item", "source", name, "url", item.URL, "error", ierr)
				continue
			}
			// Store trouble: abort without advancing so this window is
			// re-fetched next cycle.
			s.log.Errorw("ingest failed, aborting cycle", "source", name, "error", ierr)
			return
		}
		accepted++
	}

	if next != cursor {
		if err := s.cursors.SetCursor(name, next); err != nil {
			s.log.Errorw("cursor persist failed", "source", name, "error", err)
			return
		}
	}
	s.log.Infow("collection cycle complete", "source", name, "fetched", len(items), "accepted", accepted, "cursor", next)
}
