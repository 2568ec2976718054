package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHackerNewsAdapterCursorBoundaryKeepsSiblings(t *testing.T) {
	ts := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/topstories.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[1,2]")
	})
	mux.HandleFunc("/item/1.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":1,"title":"First","url":"https://example.com/1","time":%d,"type":"story"}`, ts.Unix())
	})
	mux.HandleFunc("/item/2.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":2,"title":"Second","url":"https://example.com/2","time":%d,"type":"story"}`, ts.Unix())
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := NewHackerNewsAdapter()
	a.baseURL = srv.URL

	// Cursor points at item 1; item 2 shares the same second but has a
	// different id and must still come through.
	items, next, err := a.FetchSince(context.Background(), encodeCursor(ts, "1"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1 (boundary sibling)", len(items))
	}
	if items[0].Title != "Second" {
		t.Fatalf("title = %q, want Second", items[0].Title)
	}
	// No strictly newer timestamp: the cursor stays put and downstream
	// dedup absorbs the re-fetch next cycle.
	if gotTS, gotID := decodeCursor(next); !gotTS.Equal(ts) || gotID != "1" {
		t.Fatalf("cursor = %v/%q, want unchanged %v/1", gotTS, gotID, ts)
	}
}
