package feed

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// imageFromEntry picks an image already present in the feed entry: media
// extensions first, then the feed-level item image, then the first enclosure
// that looks like an image.
func imageFromEntry(item *gofeed.Item) string {
	for _, key := range []string{"content", "thumbnail"} {
		for _, e := range item.Extensions["media"][key] {
			if u := strings.TrimSpace(e.Attrs["url"]); u != "" {
				return u
			}
		}
	}

	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}

	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
		lower := strings.ToLower(enc.URL)
		for _, ext := range imageExtensions {
			if strings.HasSuffix(lower, ext) {
				return enc.URL
			}
		}
	}

	return ""
}

// maxMetaBytes caps how much of a linked page is read when scraping image
// meta tags. Tags of interest live in <head>.
const maxMetaBytes = 1 << 20

// ogImage fetches the linked page and reads its Open Graph / Twitter-card
// image meta tags. Best effort: any failure yields an empty string.
func ogImage(ctx context.Context, client *http.Client, link string) string {
	if link == "" {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxMetaBytes))
	if err != nil {
		return ""
	}
	return findImageMeta(doc)
}

// findImageMeta walks the parsed document for
// <meta property="og:image"> or <meta name="twitter:image">.
func findImageMeta(doc *html.Node) string {
	var ogURL, twitterURL string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			var property, name, content string
			for _, a := range n.Attr {
				switch strings.ToLower(a.Key) {
				case "property":
					property = a.Val
				case "name":
					name = a.Val
				case "content":
					content = strings.TrimSpace(a.Val)
				}
			}
			if content != "" {
				if property == "og:image" && ogURL == "" {
					ogURL = content
				}
				if name == "twitter:image" && twitterURL == "" {
					twitterURL = content
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if ogURL != "" {
		return ogURL
	}
	return twitterURL
}
