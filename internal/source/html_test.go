package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

const listingHTML = `<!DOCTYPE html>
<html><body>
<div class="story">
  <h2 class="headline">First headline</h2>
  <a class="link" href="/articles/1">read</a>
</div>
<div class="story">
  <h2 class="headline">Second headline</h2>
  <a class="link" href="/articles/2">read</a>
</div>
<div class="story">
  <h2 class="headline"></h2>
  <a class="link" href="/articles/empty">read</a>
</div>
</body></html>`

func TestHTMLListingAdapterScrapesHeadlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, listingHTML)
	}))
	defer srv.Close()

	// Empty allowed domain falls back to the listing page's own host.
	a := NewHTMLListingAdapter("listing", srv.URL, "", "div.story", "h2.headline", "a.link", "news")

	items, next, err := a.FetchSince(context.Background(), "keep-me")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 (empty headline skipped)", len(items))
	}
	if items[0].Title != "First headline" {
		t.Fatalf("title = %q", items[0].Title)
	}
	if items[0].URL != srv.URL+"/articles/1" {
		t.Fatalf("relative link not absolutized: %q", items[0].URL)
	}
	// Cursorless adapter: the cursor passes through untouched.
	if next != "keep-me" {
		t.Fatalf("cursor = %q, want keep-me", next)
	}
}
