package storage

import (
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when an article or cursor does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a write collides with existing state,
	// e.g. a second Active article for the same fingerprint.
	ErrConflict = errors.New("storage: conflict")
)

// ArticleStatus is the lifecycle state of an article. Articles are never
// physically deleted; retraction and supersession are status transitions.
type ArticleStatus string

const (
	StatusActive     ArticleStatus = "active"
	StatusSuperseded ArticleStatus = "superseded"
	StatusRetracted  ArticleStatus = "retracted"
)

// Source describes one external provider, e.g. rss / hackernews.
type Source struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	Code        string  `gorm:"size:64;uniqueIndex" json:"code"`
	Name        string  `gorm:"size:128" json:"name"`
	BaseURL     string  `gorm:"size:256" json:"baseUrl"`
	TrustWeight float64 `json:"trustWeight"`
	Status      string  `gorm:"size:32;index" json:"status"` // active / disabled

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Article is a single news item. SourceURL is unique per source among
// Active rows only, so a revision republished at the same URL can replace
// its predecessor while the superseded record keeps its provenance. The
// fingerprint index backs duplicate detection across sources.
type Article struct {
	ID        string `gorm:"primaryKey;size:40" json:"id"`
	SourceID  string `gorm:"size:64;index;uniqueIndex:idx_source_url" json:"sourceId"`
	SourceURL string `gorm:"size:1024;uniqueIndex:idx_source_url,where:status = 'active'" json:"sourceUrl"`

	Title string `gorm:"size:512" json:"title"`
	Body  string `gorm:"type:text" json:"body"`
	// Comma-separated topic tags assigned at ingest, e.g. "tech,ai".
	Topics string `gorm:"size:256;index" json:"topics"`

	PublishedAt time.Time `gorm:"index" json:"publishedAt"`
	FetchedAt   time.Time `json:"fetchedAt"`

	ContentFingerprint string        `gorm:"size:40;index" json:"contentFingerprint"`
	Status             ArticleStatus `gorm:"size:16;index" json:"status"`
	// Back-reference to the replacing article, set when Status is superseded.
	SupersededBy string `gorm:"size:40" json:"supersededBy,omitempty"`
	// Additional provenance merged in from duplicates of the same content
	// arriving under other URLs.
	AltSourceURLs datatypes.JSONSlice[string] `json:"altSourceUrls,omitempty"`

	Raw datatypes.JSONMap `gorm:"type:jsonb" json:"raw,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SourceCursor is the per-adapter resume marker. Owned by the adapter,
// persisted here so restarts do not re-fetch full history.
type SourceCursor struct {
	SourceID  string    `gorm:"primaryKey;size:64" json:"sourceId"`
	Cursor    string    `gorm:"size:512" json:"cursor"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Store struct {
	DB *gorm.DB
}

func NewStore(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return NewStoreWithDB(db)
}

// NewStoreWithDB wraps an already-open gorm handle. Used by tests to run
// the same schema against an in-memory database.
func NewStoreWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Source{}, &Article{}, &SourceCursor{}); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// EnsureSource registers a provider if it is not known yet.
func (s *Store) EnsureSource(code, name, baseURL string, trustWeight float64) (*Source, error) {
	src := &Source{}
	if err := s.DB.Where("code = ?", code).First(src).Error; err == nil {
		return src, nil
	}

	src = &Source{
		Code:        code,
		Name:        name,
		BaseURL:     baseURL,
		TrustWeight: trustWeight,
		Status:      "active",
	}
	if err := s.DB.Create(src).Error; err != nil {
		return nil, err
	}
	return src, nil
}

// TrustWeights returns sourceId -> ranking weight for all known sources.
func (s *Store) TrustWeights() (map[string]float64, error) {
	var sources []Source
	if err := s.DB.Find(&sources).Error; err != nil {
		return nil, err
	}
	weights := make(map[string]float64, len(sources))
	for _, src := range sources {
		weights[src.Code] = src.TrustWeight
	}
	return weights, nil
}

// Put inserts a new article record.
func (s *Store) Put(a *Article) error {
	return s.DB.Create(a).Error
}

func (s *Store) GetByID(id string) (*Article, error) {
	a := &Article{}
	if err := s.DB.Where("id = ?", id).First(a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// FindActiveByFingerprint returns the single Active article carrying the
// given fingerprint, or ErrNotFound.
func (s *Store) FindActiveByFingerprint(fp string) (*Article, error) {
	a := &Article{}
	err := s.DB.Where("content_fingerprint = ? AND status = ?", fp, StatusActive).First(a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// UpdateMetadata merges metadata-only changes into an existing record.
// Title, body, fingerprint and status are deliberately not updatable here.
func (s *Store) UpdateMetadata(id string, fields map[string]any) error {
	for k := range fields {
		switch k {
		case "title", "body", "content_fingerprint", "status", "id":
			return ErrConflict
		}
	}
	return s.DB.Model(&Article{}).Where("id = ?", id).Updates(fields).Error
}

// Supersede flips old to Superseded and inserts repl as the new Active
// record in one transaction, so readers never observe the pair half-applied.
func (s *Store) Supersede(oldID string, repl *Article) error {
	repl.Status = StatusActive
	return s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Article{}).
			Where("id = ? AND status = ?", oldID, StatusActive).
			Updates(map[string]any{
				"status":        StatusSuperseded,
				"superseded_by": repl.ID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Someone else already superseded it.
			return ErrConflict
		}
		return tx.Create(repl).Error
	})
}

// ListActiveSince returns Active articles published at or after since,
// newest first, optionally filtered by topic tag.
func (s *Store) ListActiveSince(since time.Time, topic string, limit int) ([]Article, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	db := s.DB.Model(&Article{}).Where("status = ?", StatusActive)
	if !since.IsZero() {
		db = db.Where("published_at >= ?", since)
	}
	if topic != "" {
		db = db.Where("topics LIKE ?", "%"+strings.ToLower(topic)+"%")
	}

	var list []Article
	if err := db.Order("published_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// Search does a case-insensitive substring match over title and body.
func (s *Store) Search(q string, limit int) ([]Article, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	pattern := "%" + strings.ToLower(q) + "%"
	var list []Article
	err := s.DB.Model(&Article{}).
		Where("status = ?", StatusActive).
		Where("(LOWER(title) LIKE ? OR LOWER(body) LIKE ?)", pattern, pattern).
		Order("published_at DESC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// GetCursor returns the stored resume marker for a source, "" if none yet.
func (s *Store) GetCursor(sourceID string) (string, error) {
	c := &SourceCursor{}
	if err := s.DB.Where("source_id = ?", sourceID).First(c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return c.Cursor, nil
}

func (s *Store) SetCursor(sourceID, cursor string) error {
	return s.DB.Save(&SourceCursor{SourceID: sourceID, Cursor: cursor, UpdatedAt: time.Now()}).Error
}

func (s *Store) CountArticles() (int64, error) {
	var n int64
	if err := s.DB.Model(&Article{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
