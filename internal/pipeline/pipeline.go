// Package pipeline composes ingestion, quota tracking, and delivery into one
// check-and-publish cycle.
package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dkorolev/feedrelay/pkg/feed"
	"github.com/dkorolev/feedrelay/pkg/summary"
)

// Status is the terminal outcome of one cycle.
type Status string

const (
	StatusOK           Status = "OK"
	StatusNoNewPosts   Status = "NO_NEW_POSTS"
	StatusLimitReached Status = "LIMIT_REACHED"
	StatusError        Status = "ERROR"
)

// Snapshot is the read-only view of pipeline state shared with the command
// surface and the health endpoint.
type Snapshot struct {
	LastCheck  time.Time
	LastStatus Status
	PostsToday int
	DailyLimit int
}

// Ledger is the store subset the orchestrator needs.
type Ledger interface {
	IsPosted(ctx context.Context, uid string) (bool, error)
	MarkPosted(ctx context.Context, uid, title, link string) error
	TodayCount(ctx context.Context) (int, error)
	IncrementToday(ctx context.Context) error
}

// Ingestor produces candidate items for one cycle.
type Ingestor interface {
	Fetch(ctx context.Context) []feed.Item
}

// Deliverer hands one caption to the downstream channel.
type Deliverer interface {
	Deliver(ctx context.Context, caption, imageURL string) bool
}

// Options tunes the cycle.
type Options struct {
	DailyLimit    int           // ceiling on successful deliveries per calendar day
	PerCheckLimit int           // ceiling on deliveries within one cycle
	Pacing        time.Duration // pause between successful deliveries in a cycle
}

// Orchestrator runs cycles and owns the shared status state. Only the
// orchestrator mutates the snapshot; everyone else reads it through
// Snapshot().
type Orchestrator struct {
	ledger    Ledger
	ingest    Ingestor
	deliver   Deliverer
	summarize summary.Summarizer
	opts      Options
	logger    *log.Logger

	mu   sync.RWMutex
	snap Snapshot

	sleep func(ctx context.Context, d time.Duration)
}

// New creates an orchestrator.
func New(ledger Ledger, ingest Ingestor, deliver Deliverer, summarize summary.Summarizer, opts Options, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		ledger:    ledger,
		ingest:    ingest,
		deliver:   deliver,
		summarize: summarize,
		opts:      opts,
		logger:    logger,
		snap:      Snapshot{LastStatus: StatusOK, DailyLimit: opts.DailyLimit},
		sleep:     sleepCtx,
	}
}

// Snapshot returns the current shared state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snap
}

// RunCycle performs one check-and-publish pass and returns the number of
// items published plus the cycle's terminal status. Failures never escape
// the cycle boundary: anything unexpected becomes StatusError.
func (o *Orchestrator) RunCycle(ctx context.Context) (published int, status Status) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Printf("cycle: recovered from panic: %v", r)
			published, status = 0, StatusError
			o.setStatus(StatusError)
		}
	}()

	o.setLastCheck(time.Now())

	todayCount, err := o.ledger.TodayCount(ctx)
	if err != nil {
		o.logger.Printf("cycle: today count: %v", err)
		o.setStatus(StatusError)
		return 0, StatusError
	}
	o.setPostsToday(todayCount)

	if todayCount >= o.opts.DailyLimit {
		o.logger.Printf("cycle: daily limit reached (%d/%d)", todayCount, o.opts.DailyLimit)
		o.setStatus(StatusLimitReached)
		return 0, StatusLimitReached
	}

	limit := o.opts.PerCheckLimit
	if remaining := o.opts.DailyLimit - todayCount; remaining < limit {
		limit = remaining
	}

	o.logger.Printf("cycle: checking feeds (limit %d, today %d/%d)", limit, todayCount, o.opts.DailyLimit)
	items := o.ingest.Fetch(ctx)
	o.logger.Printf("cycle: %d candidates", len(items))

	for _, item := range items {
		if published >= limit {
			break
		}

		// The ingestor already filtered posted uids, but the ledger may
		// have advanced since the fetch; re-check before delivering.
		posted, err := o.ledger.IsPosted(ctx, item.UID)
		if err != nil {
			o.logger.Printf("cycle: dedup check %s: %v", item.UID, err)
			continue
		}
		if posted {
			continue
		}

		caption, err := o.summarize.Summarize(ctx, item.Title, item.Summary)
		if err != nil {
			o.logger.Printf("cycle: summarize %.60q: %v", item.Title, err)
			continue
		}

		o.logger.Printf("cycle: publishing %.60q", item.Title)
		if !o.deliver.Deliver(ctx, caption, item.ImageURL) {
			o.logger.Printf("cycle: failed to publish %.60q", item.Title)
			continue
		}

		// Record and count together, immediately, before the next
		// candidate. A crash between the two is the only window where
		// the ledger and counter can diverge.
		if err := o.ledger.MarkPosted(ctx, item.UID, item.Title, item.Link); err != nil {
			o.logger.Printf("cycle: mark posted %s: %v", item.UID, err)
		}
		if err := o.ledger.IncrementToday(ctx); err != nil {
			o.logger.Printf("cycle: increment today: %v", err)
		}

		published++
		o.setPostsToday(todayCount + published)
		o.logger.Printf("cycle: published (%d/%d)", published, limit)

		if published < limit {
			o.sleep(ctx, o.opts.Pacing)
		}
	}

	if published > 0 {
		o.logger.Printf("cycle: done, published %d", published)
		o.setStatus(StatusOK)
		return published, StatusOK
	}

	o.logger.Printf("cycle: no new posts")
	o.setStatus(StatusNoNewPosts)
	return 0, StatusNoNewPosts
}

func (o *Orchestrator) setLastCheck(t time.Time) {
	o.mu.Lock()
	o.snap.LastCheck = t
	o.mu.Unlock()
}

func (o *Orchestrator) setStatus(s Status) {
	o.mu.Lock()
	o.snap.LastStatus = s
	o.mu.Unlock()
}

func (o *Orchestrator) setPostsToday(n int) {
	o.mu.Lock()
	o.snap.PostsToday = n
	o.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
