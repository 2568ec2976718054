package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrMalformedItem marks a single raw item that fails validation. The
// caller drops the item and advances past it; the batch is unaffected.
var ErrMalformedItem = errors.New("source: malformed item")

// RawItem is one fetched entry before normalization. SourceID is filled
// from the adapter's Name.
type RawItem struct {
	Title       string
	URL         string
	Body        string
	Topics      []string
	PublishedAt time.Time
	Raw         map[string]any
}

// Adapter is one external provider. FetchSince returns a finite batch of
// items newer than the cursor plus the cursor to resume from next cycle.
// An empty cursor means "from the beginning of the visible window".
// Implementations must not retry internally; retry policy lives in the
// scheduler so cursor semantics stay in one place.
type Adapter interface {
	Name() string
	FetchSince(ctx context.Context, cursor string) ([]RawItem, string, error)
}

// Validate checks the fields every candidate must carry. A validation
// failure is a data-quality problem with this one item only.
func Validate(it RawItem) error {
	if strings.TrimSpace(it.Title) == "" {
		return fmt.Errorf("%w: empty title", ErrMalformedItem)
	}
	if strings.TrimSpace(it.URL) == "" {
		return fmt.Errorf("%w: empty url", ErrMalformedItem)
	}
	u, err := url.Parse(it.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: unparseable url %q", ErrMalformedItem, it.URL)
	}
	if it.PublishedAt.IsZero() {
		return fmt.Errorf("%w: missing published time", ErrMalformedItem)
	}
	return nil
}

// Cursors are "<RFC3339 time>|<last item id>", opaque outside this package.

func encodeCursor(ts time.Time, id string) string {
	return ts.UTC().Format(time.RFC3339) + "|" + id
}

func decodeCursor(cursor string) (time.Time, string) {
	if cursor == "" {
		return time.Time{}, ""
	}
	parts := strings.SplitN(cursor, "|", 2)
	ts, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		// Unreadable cursors behave like a fresh start rather than
		// wedging the adapter.
		return time.Time{}, ""
	}
	id := ""
	if len(parts) == 2 {
		id = parts[1]
	}
	return ts, id
}
