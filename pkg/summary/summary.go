// Package summary turns a raw title and body into a channel caption.
package summary

import (
	"context"
	"log"
)

// Summarizer produces a caption for one item.
type Summarizer interface {
	Summarize(ctx context.Context, title, body string) (string, error)
}

// fallback tries a primary summarizer and falls back on any failure or
// empty result.
type fallback struct {
	primary Summarizer
	backup  Summarizer
	logger  *log.Logger
}

// WithFallback chains two summarizers: primary first, backup when the
// primary errors or produces nothing.
func WithFallback(primary, backup Summarizer, logger *log.Logger) Summarizer {
	return &fallback{primary: primary, backup: backup, logger: logger}
}

func (f *fallback) Summarize(ctx context.Context, title, body string) (string, error) {
	caption, err := f.primary.Summarize(ctx, title, body)
	if err == nil && caption != "" {
		return caption, nil
	}
	if err != nil {
		f.logger.Printf("summary: primary failed, using fallback: %v", err)
	}
	return f.backup.Summarize(ctx, title, body)
}
