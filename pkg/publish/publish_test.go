package publish

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/dkorolev/feedrelay/pkg/telegram"
)

// scriptedSender returns one scripted error per call, nil once the script
// runs out.
type scriptedSender struct {
	script   []error
	photos   int
	messages int
}

func (s *scriptedSender) next() error {
	if len(s.script) == 0 {
		return nil
	}
	err := s.script[0]
	s.script = s.script[1:]
	return err
}

func (s *scriptedSender) SendPhoto(context.Context, string, string, string) error {
	s.photos++
	return s.next()
}

func (s *scriptedSender) SendMessage(context.Context, string, string) error {
	s.messages++
	return s.next()
}

func testEngine(t *testing.T, sender Sender, opts Options) (*Engine, *[]time.Duration) {
	t.Helper()
	e := New(sender, "@channel", opts, log.New(io.Discard, "", 0))
	var sleeps []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return e, &sleeps
}

func defaultOptions() Options {
	return Options{
		Attempts:         3,
		RetryDelay:       30 * time.Second,
		MaxWait:          3 * time.Minute,
		MinCaptionLength: 10,
	}
}

func TestDeliverFirstAttempt(t *testing.T) {
	sender := &scriptedSender{}
	e, sleeps := testEngine(t, sender, defaultOptions())

	if !e.Deliver(context.Background(), "a caption long enough", "https://img.example/a.jpg") {
		t.Fatal("expected success")
	}
	if sender.photos != 1 {
		t.Errorf("photos sent = %d, want 1", sender.photos)
	}
	if len(*sleeps) != 0 {
		t.Errorf("slept %d times, want 0", len(*sleeps))
	}
}

func TestShortCaptionRejectedWithoutAttempt(t *testing.T) {
	sender := &scriptedSender{}
	e, _ := testEngine(t, sender, defaultOptions())

	if e.Deliver(context.Background(), "short", "") {
		t.Fatal("expected failure for short caption")
	}
	if sender.photos+sender.messages != 0 {
		t.Error("no attempt may be consumed for an invalid caption")
	}
}

func TestRateLimitedWaitsThenSucceeds(t *testing.T) {
	sender := &scriptedSender{script: []error{
		&telegram.RateLimitedError{RetryAfter: 5 * time.Second},
	}}
	e, sleeps := testEngine(t, sender, defaultOptions())

	if !e.Deliver(context.Background(), "a caption long enough", "") {
		t.Fatal("expected success after rate-limit wait")
	}
	if len(*sleeps) != 1 {
		t.Fatalf("slept %d times, want 1", len(*sleeps))
	}
	// Signaled duration plus the safety margin.
	if (*sleeps)[0] < 5*time.Second+rateLimitMargin {
		t.Errorf("slept %s, want at least %s", (*sleeps)[0], 5*time.Second+rateLimitMargin)
	}
	if sender.messages != 2 {
		t.Errorf("attempts = %d, want 2", sender.messages)
	}
}

func TestRateLimitWaitBudgetCapped(t *testing.T) {
	sender := &scriptedSender{script: []error{
		&telegram.RateLimitedError{RetryAfter: time.Hour},
	}}
	e, sleeps := testEngine(t, sender, defaultOptions())

	if e.Deliver(context.Background(), "a caption long enough", "") {
		t.Fatal("expected failure when the signaled wait exceeds the budget")
	}
	if len(*sleeps) != 0 {
		t.Error("must not sleep past the wait budget")
	}
}

func TestBadRequestFatal(t *testing.T) {
	sender := &scriptedSender{script: []error{
		&telegram.BadRequestError{Description: "wrong file identifier"},
	}}
	e, sleeps := testEngine(t, sender, defaultOptions())

	if e.Deliver(context.Background(), "a caption long enough", "https://img.example/bad.jpg") {
		t.Fatal("expected failure")
	}
	// Exactly one attempt regardless of the configured ceiling.
	if sender.photos != 1 {
		t.Errorf("attempts = %d, want 1", sender.photos)
	}
	if len(*sleeps) != 0 {
		t.Error("bad request must not trigger a retry delay")
	}
}

func TestTransientRetriedUpToCeiling(t *testing.T) {
	sender := &scriptedSender{script: []error{
		&telegram.ServerError{Status: 502},
		&telegram.ServerError{Status: 503},
		&telegram.ServerError{Status: 502},
	}}
	opts := defaultOptions()
	e, sleeps := testEngine(t, sender, opts)

	if e.Deliver(context.Background(), "a caption long enough", "") {
		t.Fatal("expected failure after exhausting attempts")
	}
	if sender.messages != opts.Attempts {
		t.Errorf("attempts = %d, want %d", sender.messages, opts.Attempts)
	}
	// A fixed delay between attempts, none after the last one.
	if len(*sleeps) != opts.Attempts-1 {
		t.Fatalf("slept %d times, want %d", len(*sleeps), opts.Attempts-1)
	}
	for _, d := range *sleeps {
		if d != opts.RetryDelay {
			t.Errorf("slept %s, want %s", d, opts.RetryDelay)
		}
	}
}

func TestUnclassifiedTreatedAsTransient(t *testing.T) {
	sender := &scriptedSender{script: []error{
		errors.New("connection reset by peer"),
	}}
	e, _ := testEngine(t, sender, defaultOptions())

	if !e.Deliver(context.Background(), "a caption long enough", "") {
		t.Fatal("expected success after one transient failure")
	}
	if sender.messages != 2 {
		t.Errorf("attempts = %d, want 2", sender.messages)
	}
}

func TestDefaultImageFallback(t *testing.T) {
	sender := &scriptedSender{}
	opts := defaultOptions()
	opts.DefaultImageURL = "https://img.example/default.jpg"
	e, _ := testEngine(t, sender, opts)

	if !e.Deliver(context.Background(), "a caption long enough", "") {
		t.Fatal("expected success")
	}
	if sender.photos != 1 || sender.messages != 0 {
		t.Errorf("photos=%d messages=%d, want the default image to be used", sender.photos, sender.messages)
	}
}
