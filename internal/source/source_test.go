package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestValidateRejectsMissingFields(t *testing.T) {
	ok := RawItem{
		Title:       "Title",
		URL:         "https://example.com/a",
		PublishedAt: time.Now(),
	}
	if err := Validate(ok); err != nil {
		t.Fatalf("valid item rejected: %v", err)
	}

	cases := []RawItem{
		{URL: "https://example.com/a", PublishedAt: time.Now()},      // no title
		{Title: "t", PublishedAt: time.Now()},                        // no url
		{Title: "t", URL: "not a url", PublishedAt: time.Now()},      // bad url
		{Title: "t", URL: "/relative/only", PublishedAt: time.Now()}, // no host
		{Title: "t", URL: "https://example.com/a"},                   // zero published time
	}
	for i, it := range cases {
		if err := Validate(it); !errors.Is(err, ErrMalformedItem) {
			t.Fatalf("case %d: err = %v, want ErrMalformedItem", i, err)
		}
	}
}

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	cur := encodeCursor(ts, "item-9")

	gotTS, gotID := decodeCursor(cur)
	if !gotTS.Equal(ts) {
		t.Fatalf("decoded time = %v, want %v", gotTS, ts)
	}
	if gotID != "item-9" {
		t.Fatalf("decoded id = %q, want item-9", gotID)
	}

	// Garbage cursors reset to a fresh start instead of failing the cycle.
	gotTS, gotID = decodeCursor("not a cursor")
	if !gotTS.IsZero() || gotID != "" {
		t.Fatalf("garbage cursor decoded to %v/%q, want zero values", gotTS, gotID)
	}
}

const rssTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Test Feed</title>
<item>
  <title>Old story</title>
  <link>https://example.com/old</link>
  <guid>old-1</guid>
  <description>old body</description>
  <pubDate>Mon, 05 Jan 2026 10:00:00 GMT</pubDate>
</item>
<item>
  <title>New story</title>
  <link>https://example.com/new</link>
  <guid>new-1</guid>
  <description>new body</description>
  <pubDate>Mon, 05 Jan 2026 12:00:00 GMT</pubDate>
</item>
</channel>
</rss>`

func TestRSSAdapterCursorTrimsSeenItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssTemplate)
	}))
	defer srv.Close()

	a := NewRSSAdapter("rss", srv.URL, "tech")

	items, next, err := a.FetchSince(context.Background(), "")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("first fetch items = %d, want 2", len(items))
	}
	if next == "" {
		t.Fatalf("first fetch returned empty next cursor")
	}

	// The same window fetched again from the cursor must only contain
	// items newer than what we already ingested, here: none.
	items, next2, err := a.FetchSince(context.Background(), next)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("second fetch items = %d, want 0 (all seen)", len(items))
	}
	if next2 != next {
		t.Fatalf("cursor moved without new items: %q -> %q", next, next2)
	}
}

func TestRSSAdapterFetchErrorKeepsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewRSSAdapter("rss", srv.URL)

	const cur = "2026-01-05T12:00:00Z|new-1"
	_, next, err := a.FetchSince(context.Background(), cur)
	if err == nil {
		t.Fatalf("expected fetch error on 500")
	}
	if next != cur {
		t.Fatalf("cursor changed on failure: %q -> %q", cur, next)
	}
}
