package feed

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrBadKey marks a feed key the builder does not recognise.
var ErrBadKey = errors.New("feed: unknown feed key")

// Feed is an ordered view over stored articles. It holds references
// (IDs), never copies, and is fully derivable from the store: losing it
// to eviction costs one rebuild, nothing more.
type Feed struct {
	Key         string        `json:"feedKey"`
	GeneratedAt time.Time     `json:"generatedAt"`
	TTL         time.Duration `json:"ttl"`
	ArticleIDs  []string      `json:"articleIds"`
}

// Stale reports whether the feed passed its freshness window.
func (f *Feed) Stale(now time.Time) bool {
	return now.After(f.GeneratedAt.Add(f.TTL))
}

var topicRe = regexp.MustCompile(`^[a-z0-9-]{1,64}$`)

// ParseKey validates a feed key and extracts the topic filter, empty for
// the "top" feed. Accepted shapes: "top", "topic:<tag>".
func ParseKey(key string) (topic string, err error) {
	if key == "top" {
		return "", nil
	}
	if t, ok := strings.CutPrefix(key, "topic:"); ok && topicRe.MatchString(t) {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadKey, key)
}
