package feed

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"
)

const userAgent = "feedrelay/1.0"

// maxFeedBytes caps a single feed download.
const maxFeedBytes = 5 << 20

// Item is a validated, deduplicated, not-yet-delivered candidate produced by
// one ingestion pass. It is ephemeral; only delivered items reach the store.
type Item struct {
	UID      string
	Title    string
	Summary  string
	Link     string
	Source   string
	ImageURL string
}

// Source is one configured feed endpoint.
type Source struct {
	Name string
	URL  string
}

// Health gates and records per-source availability.
type Health interface {
	IsSourceAvailable(ctx context.Context, sourceURL string) (bool, error)
	MarkSourceFailed(ctx context.Context, sourceURL string, backoff time.Duration) error
	PurgeExpiredSuspensions(ctx context.Context) error
}

// Ledger answers whether an item has already been delivered.
type Ledger interface {
	IsPosted(ctx context.Context, uid string) (bool, error)
}

// Options tunes ingestion behavior.
type Options struct {
	RetryAttempts    int           // fetch attempts per source before suspending it
	SourceBackoff    time.Duration // suspension window after exhausted attempts
	MinTitleLength   int           // validity gate, in runes
	MinSummaryLength int
	ItemsPerFeed     int // cap on entries taken from a single feed
}

// Ingestor fetches and normalizes items from all available sources.
// Sources are queried sequentially, in configuration order.
type Ingestor struct {
	client     *http.Client
	metaClient *http.Client
	parser     *gofeed.Parser
	health     Health
	ledger     Ledger
	logger     *log.Logger
	sources    []Source
	opts       Options
}

// NewIngestor creates an ingestor over the given sources.
func NewIngestor(sources []Source, health Health, ledger Ledger, opts Options, logger *log.Logger) *Ingestor {
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	if opts.ItemsPerFeed <= 0 {
		opts.ItemsPerFeed = 30
	}
	return &Ingestor{
		client: &http.Client{Timeout: 30 * time.Second},
		// The page scrape for image meta tags gets a short leash of its
		// own: it must never stall the ingestion pass.
		metaClient: &http.Client{Timeout: 10 * time.Second},
		parser:     gofeed.NewParser(),
		health:     health,
		ledger:     ledger,
		logger:     logger,
		sources:    sources,
		opts:       opts,
	}
}

// Fetch runs one ingestion pass over every available source and returns the
// unique candidate set. Per-source failures suspend that source and never
// abort the pass.
func (in *Ingestor) Fetch(ctx context.Context) []Item {
	if err := in.health.PurgeExpiredSuspensions(ctx); err != nil {
		in.logger.Printf("purge expired suspensions: %v", err)
	}

	seen := make(map[string]struct{})
	var out []Item
	for _, src := range in.sources {
		for _, item := range in.fetchSource(ctx, src) {
			if _, ok := seen[item.UID]; ok {
				continue
			}
			seen[item.UID] = struct{}{}
			out = append(out, item)
		}
	}

	in.logger.Printf("ingest: %d unique candidates", len(out))
	return out
}

// fetchSource fetches one feed with bounded retries. Intermediate attempt
// failures only log; the final exhausted attempt suspends the source.
func (in *Ingestor) fetchSource(ctx context.Context, src Source) []Item {
	available, err := in.health.IsSourceAvailable(ctx, src.URL)
	if err != nil {
		in.logger.Printf("source %s: availability check: %v", src.Name, err)
		return nil
	}
	if !available {
		in.logger.Printf("source %s: suspended, skipping", src.Name)
		return nil
	}

	for attempt := 1; attempt <= in.opts.RetryAttempts; attempt++ {
		parsed, err := in.fetchFeed(ctx, src.URL)
		if err == nil {
			return in.collectItems(ctx, src, parsed)
		}

		in.logger.Printf("source %s: attempt %d/%d: %v", src.Name, attempt, in.opts.RetryAttempts, err)
		if attempt == in.opts.RetryAttempts {
			in.logger.Printf("source %s: all attempts failed, suspending for %s", src.Name, in.opts.SourceBackoff)
			if err := in.health.MarkSourceFailed(ctx, src.URL, in.opts.SourceBackoff); err != nil {
				in.logger.Printf("source %s: mark failed: %v", src.Name, err)
			}
		}
	}
	return nil
}

func (in *Ingestor) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := in.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed status %d", resp.StatusCode)
	}

	parsed, err := in.parser.Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return parsed, nil
}

// collectItems normalizes and validates raw entries from one parsed feed.
// A single bad entry is skipped, never fatal to the source.
func (in *Ingestor) collectItems(ctx context.Context, src Source, parsed *gofeed.Feed) []Item {
	sourceTitle := parsed.Title
	if sourceTitle == "" {
		sourceTitle = src.URL
	}

	entries := parsed.Items
	if len(entries) > in.opts.ItemsPerFeed {
		entries = entries[:in.opts.ItemsPerFeed]
	}

	var items []Item
	for _, entry := range entries {
		title := StripMarkup(entry.Title)
		summary := StripMarkup(entry.Description)
		if summary == "" {
			summary = StripMarkup(entry.Content)
		}
		link := CleanURL(entry.Link)

		// Validity gate runs before uid computation: teaser-only and
		// empty entries never enter the pipeline.
		if !in.validItem(title, summary) {
			in.logger.Printf("source %s: skipping invalid item %.50q", src.Name, title)
			continue
		}

		uid := MakeUID(sourceTitle, link, title)

		posted, err := in.ledger.IsPosted(ctx, uid)
		if err != nil {
			in.logger.Printf("source %s: dedup check: %v", src.Name, err)
			continue
		}
		if posted {
			continue
		}

		imageURL := imageFromEntry(entry)
		if imageURL == "" {
			imageURL = ogImage(ctx, in.metaClient, link)
		}

		items = append(items, Item{
			UID:      uid,
			Title:    title,
			Summary:  summary,
			Link:     link,
			Source:   sourceTitle,
			ImageURL: imageURL,
		})
	}

	in.logger.Printf("source %s: %d candidates", src.Name, len(items))
	return items
}

func (in *Ingestor) validItem(title, summary string) bool {
	if utf8.RuneCountInString(title) < in.opts.MinTitleLength {
		return false
	}
	if utf8.RuneCountInString(summary) < in.opts.MinSummaryLength {
		return false
	}
	return true
}
