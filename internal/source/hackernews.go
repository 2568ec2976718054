package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

const (
	hnBaseURL          = "https://hacker-news.firebaseio.com/v0"
	hnMaxItems         = 30
	hnMaxResponseBytes = 1 << 20 // 1MB
	hnConcurrency      = 10
	hnClientTimeout    = 10 * time.Second
)

// HackerNewsAdapter pulls top stories from the official Firebase API.
type HackerNewsAdapter struct {
	client  *http.Client
	baseURL string
}

func NewHackerNewsAdapter() *HackerNewsAdapter {
	return &HackerNewsAdapter{
		client:  &http.Client{Timeout: hnClientTimeout},
		baseURL: hnBaseURL,
	}
}

func (h *HackerNewsAdapter) Name() string { return "hackernews" }

type hnItem struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Text        string `json:"text"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Type        string `json:"type"`
}

func (h *HackerNewsAdapter) FetchSince(ctx context.Context, cursor string) ([]RawItem, string, error) {
	ids, err := h.topStories(ctx)
	if err != nil {
		return nil, cursor, err
	}
	if len(ids) > hnMaxItems {
		ids = ids[:hnMaxItems]
	}

	since, lastID := decodeCursor(cursor)

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		sem   = make(chan struct{}, hnConcurrency)
		items = make([]hnItem, 0, len(ids))
	)

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(id int) {
			defer wg.Done()
			defer func() { <-sem }()

			it, err := h.fetchItem(ctx, id)
			if err != nil {
				// Individual item failures shrink the batch, the
				// rest of the cycle proceeds.
				return
			}
			if it.Title == "" || it.Type != "story" {
				return
			}
			// Timestamp equal to the cursor only means "seen" for the item
			// the cursor actually points at; siblings sharing the second
			// still count as new.
			if ts := time.Unix(it.Time, 0); !since.IsZero() {
				if ts.Before(since) {
					return
				}
				if ts.Equal(since) && strconv.Itoa(it.ID) == lastID {
					return
				}
			}

			mu.Lock()
			items = append(items, it)
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	sort.Slice(items, func(i, j int) bool { return items[i].Time < items[j].Time })

	out := make([]RawItem, 0, len(items))
	newest := since
	newestID := ""
	for _, it := range items {
		itemURL := it.URL
		if itemURL == "" {
			itemURL = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", it.ID)
		}
		published := time.Unix(it.Time, 0)

		out = append(out, RawItem{
			Title:       it.Title,
			URL:         itemURL,
			Body:        it.Text,
			Topics:      []string{"tech"},
			PublishedAt: published,
			Raw: map[string]any{
				"hn_id":    it.ID,
				"author":   it.By,
				"comments": it.Descendants,
				"score":    it.Score,
			},
		})
		if published.After(newest) {
			newest = published
			newestID = strconv.Itoa(it.ID)
		}
	}

	next := cursor
	if newestID != "" {
		next = encodeCursor(newest, newestID)
	}
	return out, next, nil
}

func (h *HackerNewsAdapter) topStories(ctx context.Context) ([]int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/topstories.json", nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hackernews: fetch top stories: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hackernews: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, hnMaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("hackernews: read top stories: %w", err)
	}

	var ids []int
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("hackernews: unmarshal top stories: %w", err)
	}
	return ids, nil
}

func (h *HackerNewsAdapter) fetchItem(ctx context.Context, id int) (hnItem, error) {
	url := fmt.Sprintf("%s/item/%d.json", h.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return hnItem{}, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return hnItem{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return hnItem{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var it hnItem
	if err := json.NewDecoder(io.LimitReader(resp.Body, hnMaxResponseBytes)).Decode(&it); err != nil {
		return hnItem{}, err
	}
	return it, nil
}
