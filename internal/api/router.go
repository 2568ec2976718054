package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gomeat/go-news-backend/internal/feed"
	"github.com/gomeat/go-news-backend/internal/ingest"
	"github.com/gomeat/go-news-backend/internal/source"
	"github.com/gomeat/go-news-backend/internal/storage"
)

// ArticleStore is the read surface the handlers need.
type ArticleStore interface {
	GetByID(id string) (*storage.Article, error)
	Search(q string, limit int) ([]storage.Article, error)
}

// Ingestor accepts candidates submitted by adapters over HTTP.
type Ingestor interface {
	Accept(ctx context.Context, sourceID string, item source.RawItem) (ingest.Decision, *storage.Article, error)
}

// Collector triggers an immediate collection cycle (force-check).
type Collector interface {
	RunOnce()
}

type Server struct {
	store     ArticleStore
	builder   *feed.Builder
	ingestor  Ingestor
	collector Collector
	log       *zap.SugaredLogger

	ingestToken string
	limiter     *clientLimiter
}

func NewServer(store ArticleStore, builder *feed.Builder, ing Ingestor, col Collector, log *zap.SugaredLogger, ingestToken string, rps float64, burst int) *Server {
	return &Server{
		store:       store,
		builder:     builder,
		ingestor:    ing,
		collector:   col,
		log:         log,
		ingestToken: ingestToken,
		limiter:     newClientLimiter(rps, burst),
	}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	v1.Use(s.rateLimit())
	{
		v1.GET("/feeds/:key", s.getFeed)
		v1.GET("/articles/:id", s.getArticle)
		v1.GET("/search", s.search)
		v1.GET("/stats", s.stats)
	}

	internal := r.Group("/internal/v1")
	internal.Use(s.requireToken())
	{
		internal.POST("/ingest", s.postIngest)
		internal.POST("/force-check", s.forceCheck)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getFeed(c *gin.Context) {
	key := c.Param("key")
	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		page = 0
	}

	p, err := s.builder.Get(c.Request.Context(), key, page)
	if err != nil {
		if errors.Is(err, feed.ErrBadKey) {
			c.JSON(http.StatusBadRequest, gin.H{"code": "bad_feed_key", "message": err.Error()})
			return
		}
		s.log.Errorw("feed request failed", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "message": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": "ok", "message": "success", "data": p})
}

func (s *Server) getArticle(c *gin.Context) {
	id := c.Param("id")

	a, err := s.store.GetByID(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "article not found"})
			return
		}
		s.log.Errorw("article request failed", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "message": "internal server error"})
		return
	}
	if a.Status == storage.StatusRetracted {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "article retracted"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": "ok", "message": "success", "data": a})
}

func (s *Server) search(c *gin.Context) {
	q := c.Query("q")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	items, err := s.store.Search(q, limit)
	if err != nil {
		s.log.Errorw("search failed", "q", q, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "message": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": "ok", "message": "success", "data": items})
}

func (s *Server) stats(c *gin.Context) {
	hits, misses := s.builder.CacheStats()
	c.JSON(http.StatusOK, gin.H{"code": "ok", "message": "success", "data": gin.H{
		"cacheHits":   hits,
		"cacheMisses": misses,
	}})
}

// ingestPayload is the normalized candidate adapters submit.
type ingestPayload struct {
	SourceID    string    `json:"sourceId" binding:"required"`
	SourceURL   string    `json:"sourceUrl" binding:"required"`
	Title       string    `json:"title" binding:"required"`
	Body        string    `json:"body"`
	Topics      []string  `json:"topics"`
	PublishedAt time.Time `json:"publishedAt" binding:"required"`
}

func (s *Server) postIngest(c *gin.Context) {
	var p ingestPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "malformed_input", "message": err.Error()})
		return
	}

	item := source.RawItem{
		Title:       p.Title,
		URL:         p.SourceURL,
		Body:        p.Body,
		Topics:      p.Topics,
		PublishedAt: p.PublishedAt,
	}

	decision, article, err := s.ingestor.Accept(c.Request.Context(), p.SourceID, item)
	if err != nil {
		if errors.Is(err, source.ErrMalformedItem) {
			c.JSON(http.StatusBadRequest, gin.H{"code": "malformed_input", "message": err.Error()})
			return
		}
		s.log.Errorw("ingest request failed", "source", p.SourceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "message": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": "ok", "message": "success", "data": gin.H{
		"decision": decision,
		"id":       article.ID,
	}})
}

func (s *Server) forceCheck(c *gin.Context) {
	if s.collector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "unavailable", "message": "collector not running"})
		return
	}
	go s.collector.RunOnce()
	c.JSON(http.StatusAccepted, gin.H{"code": "ok", "message": "collection cycle started"})
}

// requireToken guards the internal endpoints. Comparison is constant
// time; an unset token disables the internal surface entirely.
func (s *Server) requireToken() gin.HandlerFunc {
	token := []byte(s.ingestToken)
	return func(c *gin.Context) {
		if len(token) == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "forbidden", "message": "internal api disabled"})
			return
		}
		got := c.GetHeader("X-Ingest-Token")
		if subtle.ConstantTimeCompare([]byte(got), token) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "message": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := s.limiter.allow(c.ClientIP())
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "rate_limited",
				"message": "too many requests",
			})
			return
		}
		c.Next()
	}
}
