package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// CleanURL removes tracking query parameters (any key with a case-insensitive
// "utm_" prefix). Other parameters and the fragment are preserved. Cleaning
// an already-clean URL is a no-op.
func CleanURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	changed := false
	for key := range q {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
			changed = true
		}
	}
	if changed || u.RawQuery != "" {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// StripMarkup drops HTML tags from a fragment, unescapes entities, and
// collapses whitespace. <br> becomes a plain space so adjacent lines do not
// run together.
func StripMarkup(s string) string {
	if s == "" {
		return ""
	}

	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if string(name) == "br" {
				b.WriteByte(' ')
			}
		}
	}
}

// MakeUID computes the content fingerprint for an item. The same source
// title, link, and item title always hash to the same uid, across fetches
// and process restarts.
func MakeUID(source, link, title string) string {
	base := source + "|" + CleanURL(link) + "|" + title
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}
