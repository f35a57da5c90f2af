// Package publish attempts to hand one item to the downstream channel,
// classifying failures and retrying per policy.
package publish

import (
	"context"
	"errors"
	"log"
	"time"
	"unicode/utf8"

	"github.com/dkorolev/feedrelay/pkg/telegram"
)

// rateLimitMargin is added on top of the wait the API signals.
const rateLimitMargin = 5 * time.Second

// Sender is the downstream channel client.
type Sender interface {
	SendPhoto(ctx context.Context, chat, photoURL, caption string) error
	SendMessage(ctx context.Context, chat, text string) error
}

// Options tunes the retry policy.
type Options struct {
	Attempts         int           // attempt ceiling per item
	RetryDelay       time.Duration // fixed delay after transient failures
	MaxWait          time.Duration // cap on cumulative rate-limit waiting per item
	MinCaptionLength int           // captions shorter than this are rejected without an attempt
	DefaultImageURL  string        // used when an item resolved no image
}

// Engine delivers captions to one channel.
type Engine struct {
	sender  Sender
	channel string
	opts    Options
	logger  *log.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a delivery engine for the given channel.
func New(sender Sender, channel string, opts Options, logger *log.Logger) *Engine {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	return &Engine{
		sender:  sender,
		channel: channel,
		opts:    opts,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Deliver sends one caption, with the item's image when present. It returns
// true only if the downstream channel accepted the post.
//
// Classification per attempt: a rate-limit signal waits out the requested
// duration plus a margin and consumes an attempt slot; a bad request is
// fatal; anything else is treated as transient and retried after a fixed
// delay until the attempt ceiling.
func (e *Engine) Deliver(ctx context.Context, caption, imageURL string) bool {
	// An empty or too-short caption signals an upstream summarization
	// failure; it must never be retried against the channel.
	if utf8.RuneCountInString(caption) < e.opts.MinCaptionLength {
		e.logger.Printf("deliver: caption too short (%d runes), dropping", utf8.RuneCountInString(caption))
		return false
	}

	photo := imageURL
	if photo == "" {
		photo = e.opts.DefaultImageURL
	}

	var waited time.Duration
	for attempt := 1; attempt <= e.opts.Attempts; attempt++ {
		err := e.send(ctx, photo, caption)
		if err == nil {
			e.logger.Printf("deliver: published (attempt %d)", attempt)
			return true
		}

		var rl *telegram.RateLimitedError
		var br *telegram.BadRequestError
		switch {
		case errors.As(err, &rl):
			wait := rl.RetryAfter + rateLimitMargin
			if waited+wait > e.opts.MaxWait {
				e.logger.Printf("deliver: rate-limit wait budget exhausted (%s + %s), giving up", waited, wait)
				return false
			}
			e.logger.Printf("deliver: rate limited, waiting %s (attempt %d/%d)", wait, attempt, e.opts.Attempts)
			if e.sleep(ctx, wait) != nil {
				return false
			}
			waited += wait
		case errors.As(err, &br):
			e.logger.Printf("deliver: bad request, dropping: %v", err)
			return false
		default:
			e.logger.Printf("deliver: attempt %d/%d failed: %v", attempt, e.opts.Attempts, err)
			if attempt < e.opts.Attempts {
				if e.sleep(ctx, e.opts.RetryDelay) != nil {
					return false
				}
			}
		}
	}

	e.logger.Printf("deliver: failed after %d attempts", e.opts.Attempts)
	return false
}

func (e *Engine) send(ctx context.Context, photo, caption string) error {
	if photo != "" {
		return e.sender.SendPhoto(ctx, e.channel, photo, caption)
	}
	return e.sender.SendMessage(ctx, e.channel, caption)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
