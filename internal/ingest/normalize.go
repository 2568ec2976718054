package ingest

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// fingerprintBodyRunes bounds how much of the body feeds the fingerprint.
// Republished articles usually keep their lead paragraph and grow or edit
// the tail; hashing only the lead lets such revisions collide on the same
// fingerprint and be resolved as supersessions instead of new articles.
const fingerprintBodyRunes = 256

// stripHTML flattens markup to plain text. Feed bodies arrive as HTML
// fragments more often than not.
func stripHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}

// normalizeKey builds the lower-cased, whitespace-collapsed comparison
// form of a text field.
func normalizeKey(s string) string {
	s = stripHTML(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// Fingerprint derives the dedup hash from normalized title and body lead.
func Fingerprint(title, body string) string {
	t := normalizeKey(title)
	b := normalizeKey(body)
	if rs := []rune(b); len(rs) > fingerprintBodyRunes {
		b = string(rs[:fingerprintBodyRunes])
	}

	h := sha1.New()
	h.Write([]byte(t))
	h.Write([]byte{'\n'})
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// materiallyDifferent reports whether two bodies differ beyond markup and
// whitespace noise. Used to tell a republication from a metadata echo.
func materiallyDifferent(a, b string) bool {
	return normalizeKey(a) != normalizeKey(b)
}

// truncateRunes caps a string by rune count so oversized upstream text
// cannot blow database column limits.
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}
