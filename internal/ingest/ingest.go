package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/gomeat/go-news-backend/internal/source"
	"github.com/gomeat/go-news-backend/internal/storage"
)

// Decision is the outcome of accepting one candidate article.
type Decision string

const (
	Inserted         Decision = "inserted"
	UpdatedMetadata  Decision = "updated_metadata"
	DuplicateIgnored Decision = "duplicate_ignored"
	Superseded       Decision = "superseded"
)

const (
	maxTitleRunes = 512
	// Shard count for the per-fingerprint lock table. Bounds contention
	// without a single global lock.
	lockShards = 64
)

// Store is the slice of the storage layer the deduplicator writes through.
type Store interface {
	Put(*storage.Article) error
	FindActiveByFingerprint(fp string) (*storage.Article, error)
	Supersede(oldID string, repl *storage.Article) error
	UpdateMetadata(id string, fields map[string]any) error
}

// Service decides, per candidate, whether it is new content, a
// republication, a metadata refresh or a duplicate. Concurrent candidates
// sharing a fingerprint serialize through the sharded lock table so at
// most one Active article survives per fingerprint.
type Service struct {
	store Store
	log   *zap.SugaredLogger

	// OnSuperseded is invoked after a successful supersession, outside
	// the fingerprint lock. Used by the feed builder for invalidation.
	OnSuperseded func(oldID, newID string)

	locks [lockShards]sync.Mutex
}

func NewService(store Store, log *zap.SugaredLogger) *Service {
	return &Service{store: store, log: log}
}

// Accept runs one candidate through the decision machine and returns the
// decision plus the canonical article it resolved to.
func (s *Service) Accept(ctx context.Context, sourceID string, item source.RawItem) (Decision, *storage.Article, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if err := source.Validate(item); err != nil {
		return "", nil, err
	}

	fp := Fingerprint(item.Title, item.Body)

	mu := &s.locks[shard(fp)]
	mu.Lock()

	decision, article, oldID, err := s.decide(sourceID, fp, item)

	mu.Unlock()

	if err != nil {
		return "", nil, err
	}

	s.log.Infow("ingest decision",
		"decision", string(decision),
		"source", sourceID,
		"article", article.ID,
		"fingerprint", fp,
	)

	if decision == Superseded && s.OnSuperseded != nil {
		s.OnSuperseded(oldID, article.ID)
	}
	return decision, article, nil
}

// decide holds the per-fingerprint critical section. oldID is set only
// for supersessions.
func (s *Service) decide(sourceID, fp string, item source.RawItem) (Decision, *storage.Article, string, error) {
	existing, err := s.store.FindActiveByFingerprint(fp)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		a := s.newArticle(sourceID, fp, item)
		if err := s.store.Put(a); err != nil {
			return "", nil, "", fmt.Errorf("ingest: insert: %w", err)
		}
		return Inserted, a, "", nil

	case err != nil:
		return "", nil, "", fmt.Errorf("ingest: fingerprint lookup: %w", err)
	}

	// Same fingerprint, newer publication and a genuinely different body:
	// the candidate replaces the stored article.
	if item.PublishedAt.After(existing.PublishedAt) && materiallyDifferent(existing.Body, item.Body) {
		repl := s.newArticle(sourceID, fp, item)
		if err := s.store.Supersede(existing.ID, repl); err != nil {
			return "", nil, "", fmt.Errorf("ingest: supersede: %w", err)
		}
		return Superseded, repl, existing.ID, nil
	}

	// Only metadata moved: merge into the existing record.
	if fields := metadataDelta(existing, item); len(fields) > 0 {
		if err := s.store.UpdateMetadata(existing.ID, fields); err != nil {
			return "", nil, "", fmt.Errorf("ingest: update metadata: %w", err)
		}
		applyDelta(existing, fields)
		return UpdatedMetadata, existing, "", nil
	}

	return DuplicateIgnored, existing, "", nil
}

func (s *Service) newArticle(sourceID, fp string, item source.RawItem) *storage.Article {
	return &storage.Article{
		ID:                 uuid.NewString(),
		SourceID:           sourceID,
		SourceURL:          item.URL,
		Title:              truncateRunes(item.Title, maxTitleRunes),
		Body:               strings.TrimSpace(item.Body),
		Topics:             strings.ToLower(strings.Join(item.Topics, ",")),
		PublishedAt:        item.PublishedAt,
		FetchedAt:          time.Now(),
		ContentFingerprint: fp,
		Status:             storage.StatusActive,
		Raw:                datatypes.JSONMap(item.Raw),
	}
}

// metadataDelta lists the metadata-only fields the candidate would change.
// Content fields never appear here; those are supersession territory.
func metadataDelta(existing *storage.Article, item source.RawItem) map[string]any {
	fields := map[string]any{}
	if item.PublishedAt.After(existing.PublishedAt) {
		fields["published_at"] = item.PublishedAt
	}
	if urls := mergeAltURLs(existing, item.URL); urls != nil {
		fields["alt_source_urls"] = urls
	}
	if len(fields) > 0 {
		fields["fetched_at"] = time.Now()
	}
	return fields
}

// mergeAltURLs returns the extended provenance list when the candidate URL
// is new for this article, nil when there is nothing to record.
func mergeAltURLs(existing *storage.Article, url string) datatypes.JSONSlice[string] {
	if url == "" || url == existing.SourceURL {
		return nil
	}
	for _, u := range existing.AltSourceURLs {
		if u == url {
			return nil
		}
	}
	out := make(datatypes.JSONSlice[string], 0, len(existing.AltSourceURLs)+1)
	out = append(out, existing.AltSourceURLs...)
	return append(out, url)
}

// applyDelta mirrors a persisted metadata merge onto the in-memory record
// so callers observe the merged state, not the pre-merge snapshot.
func applyDelta(a *storage.Article, fields map[string]any) {
	if v, ok := fields["published_at"].(time.Time); ok {
		a.PublishedAt = v
	}
	if v, ok := fields["fetched_at"].(time.Time); ok {
		a.FetchedAt = v
	}
	if v, ok := fields["alt_source_urls"].(datatypes.JSONSlice[string]); ok {
		a.AltSourceURLs = v
	}
}

func shard(fp string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(fp))
	return h.Sum32() % lockShards
}
