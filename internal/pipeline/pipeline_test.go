package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/dkorolev/feedrelay/pkg/feed"
)

type memLedger struct {
	posted     map[string]bool
	todayCount int
	countErr   error
}

func newMemLedger() *memLedger {
	return &memLedger{posted: make(map[string]bool)}
}

func (l *memLedger) IsPosted(_ context.Context, uid string) (bool, error) {
	return l.posted[uid], nil
}

func (l *memLedger) MarkPosted(_ context.Context, uid, _, _ string) error {
	l.posted[uid] = true
	return nil
}

func (l *memLedger) TodayCount(context.Context) (int, error) {
	return l.todayCount, l.countErr
}

func (l *memLedger) IncrementToday(context.Context) error {
	l.todayCount++
	return nil
}

type stubIngestor struct {
	items []feed.Item
	calls int
}

func (s *stubIngestor) Fetch(context.Context) []feed.Item {
	s.calls++
	return s.items
}

type stubDeliverer struct {
	fail     map[string]bool // captions that fail
	attempts []string
}

func (s *stubDeliverer) Deliver(_ context.Context, caption, _ string) bool {
	s.attempts = append(s.attempts, caption)
	return !s.fail[caption]
}

type echoSummarizer struct{}

func (echoSummarizer) Summarize(_ context.Context, title, _ string) (string, error) {
	return title, nil
}

func candidates(n int) []feed.Item {
	items := make([]feed.Item, n)
	for i := range items {
		items[i] = feed.Item{
			UID:     fmt.Sprintf("uid-%d", i),
			Title:   fmt.Sprintf("Candidate headline number %d", i),
			Summary: "A summary long enough for anyone.",
			Link:    fmt.Sprintf("https://example.com/%d", i),
		}
	}
	return items
}

func testOrchestrator(t *testing.T, ledger Ledger, ingest Ingestor, deliver Deliverer, opts Options) *Orchestrator {
	t.Helper()
	o := New(ledger, ingest, deliver, echoSummarizer{}, opts, log.New(io.Discard, "", 0))
	o.sleep = func(context.Context, time.Duration) {}
	return o
}

func TestCycleDeliversUpToPerCheckLimit(t *testing.T) {
	ledger := newMemLedger()
	ingest := &stubIngestor{items: candidates(5)}
	deliver := &stubDeliverer{}
	o := testOrchestrator(t, ledger, ingest, deliver, Options{DailyLimit: 10, PerCheckLimit: 2})

	n, status := o.RunCycle(context.Background())
	if n != 2 || status != StatusOK {
		t.Fatalf("cycle = (%d, %s), want (2, OK)", n, status)
	}
	if ledger.todayCount != 2 {
		t.Errorf("today count = %d, want 2", ledger.todayCount)
	}
}

func TestCycleRespectsRemainingQuota(t *testing.T) {
	// Daily ceiling 10, per-check 2, nine already posted today: exactly one
	// delivery happens and the day closes at the ceiling.
	ledger := newMemLedger()
	ledger.todayCount = 9
	ingest := &stubIngestor{items: candidates(5)}
	deliver := &stubDeliverer{}
	o := testOrchestrator(t, ledger, ingest, deliver, Options{DailyLimit: 10, PerCheckLimit: 2})

	n, status := o.RunCycle(context.Background())
	if n != 1 || status != StatusOK {
		t.Fatalf("cycle = (%d, %s), want (1, OK)", n, status)
	}
	if ledger.todayCount != 10 {
		t.Errorf("today count = %d, want 10", ledger.todayCount)
	}

	// The next cycle hits the ceiling without fetching anything.
	n, status = o.RunCycle(context.Background())
	if n != 0 || status != StatusLimitReached {
		t.Fatalf("cycle = (%d, %s), want (0, LIMIT_REACHED)", n, status)
	}
	if ingest.calls != 1 {
		t.Errorf("ingestor called %d times, want 1 (no fetch at the ceiling)", ingest.calls)
	}
}

func TestQuotaNeverExceededAcrossCycles(t *testing.T) {
	ledger := newMemLedger()
	deliver := &stubDeliverer{}
	o := testOrchestrator(t, ledger, &stubIngestor{items: candidates(50)}, deliver,
		Options{DailyLimit: 10, PerCheckLimit: 3})

	for i := 0; i < 20; i++ {
		o.RunCycle(context.Background())
	}
	if ledger.todayCount > 10 {
		t.Errorf("today count = %d, exceeded the daily ceiling", ledger.todayCount)
	}
	if ledger.todayCount != 10 {
		t.Errorf("today count = %d, want the full ceiling used", ledger.todayCount)
	}
}

func TestCycleNoNewPosts(t *testing.T) {
	ledger := newMemLedger()
	deliver := &stubDeliverer{}
	o := testOrchestrator(t, ledger, &stubIngestor{}, deliver, Options{DailyLimit: 10, PerCheckLimit: 2})

	n, status := o.RunCycle(context.Background())
	if n != 0 || status != StatusNoNewPosts {
		t.Fatalf("cycle = (%d, %s), want (0, NO_NEW_POSTS)", n, status)
	}
}

func TestFailedDeliveryNotRecorded(t *testing.T) {
	ledger := newMemLedger()
	items := candidates(2)
	deliver := &stubDeliverer{fail: map[string]bool{items[0].Title: true}}
	o := testOrchestrator(t, ledger, &stubIngestor{items: items}, deliver,
		Options{DailyLimit: 10, PerCheckLimit: 2})

	n, status := o.RunCycle(context.Background())
	if n != 1 || status != StatusOK {
		t.Fatalf("cycle = (%d, %s), want (1, OK)", n, status)
	}
	if ledger.posted[items[0].UID] {
		t.Error("failed delivery must not be recorded in the ledger")
	}
	if !ledger.posted[items[1].UID] {
		t.Error("successful delivery missing from the ledger")
	}
	if ledger.todayCount != 1 {
		t.Errorf("today count = %d, want 1", ledger.todayCount)
	}
}

func TestAlreadyPostedSkippedWithoutAttempt(t *testing.T) {
	ledger := newMemLedger()
	items := candidates(2)
	ledger.posted[items[0].UID] = true
	deliver := &stubDeliverer{}
	o := testOrchestrator(t, ledger, &stubIngestor{items: items}, deliver,
		Options{DailyLimit: 10, PerCheckLimit: 5})

	n, _ := o.RunCycle(context.Background())
	if n != 1 {
		t.Fatalf("published = %d, want 1", n)
	}
	if len(deliver.attempts) != 1 {
		t.Errorf("delivery attempts = %d, want 1 (posted uid never retried)", len(deliver.attempts))
	}
}

func TestLedgerErrorBecomesErrorStatus(t *testing.T) {
	ledger := newMemLedger()
	ledger.countErr = fmt.Errorf("database locked")
	o := testOrchestrator(t, ledger, &stubIngestor{}, &stubDeliverer{}, Options{DailyLimit: 10, PerCheckLimit: 2})

	_, status := o.RunCycle(context.Background())
	if status != StatusError {
		t.Fatalf("status = %s, want ERROR", status)
	}
	if o.Snapshot().LastStatus != StatusError {
		t.Error("snapshot status not updated")
	}
}

type panicIngestor struct{}

func (panicIngestor) Fetch(context.Context) []feed.Item {
	panic("boom")
}

func TestPanicContainedAtCycleBoundary(t *testing.T) {
	ledger := newMemLedger()
	o := testOrchestrator(t, ledger, panicIngestor{}, &stubDeliverer{}, Options{DailyLimit: 10, PerCheckLimit: 2})

	n, status := o.RunCycle(context.Background())
	if n != 0 || status != StatusError {
		t.Fatalf("cycle = (%d, %s), want (0, ERROR)", n, status)
	}
}

func TestSnapshotTracksCycle(t *testing.T) {
	ledger := newMemLedger()
	deliver := &stubDeliverer{}
	o := testOrchestrator(t, ledger, &stubIngestor{items: candidates(1)}, deliver,
		Options{DailyLimit: 10, PerCheckLimit: 2})

	before := o.Snapshot()
	if !before.LastCheck.IsZero() {
		t.Error("fresh snapshot should have zero last check")
	}

	o.RunCycle(context.Background())
	after := o.Snapshot()
	if after.LastCheck.IsZero() {
		t.Error("last check not set")
	}
	if after.LastStatus != StatusOK || after.PostsToday != 1 {
		t.Errorf("snapshot = %+v", after)
	}
	if after.DailyLimit != 10 {
		t.Errorf("daily limit = %d, want 10", after.DailyLimit)
	}
}

func TestPacingBetweenDeliveries(t *testing.T) {
	ledger := newMemLedger()
	deliver := &stubDeliverer{}
	o := New(ledger, &stubIngestor{items: candidates(3)}, deliver, echoSummarizer{},
		Options{DailyLimit: 10, PerCheckLimit: 3, Pacing: 2 * time.Second},
		log.New(io.Discard, "", 0))

	var paced int
	o.sleep = func(_ context.Context, d time.Duration) {
		if d == 2*time.Second {
			paced++
		}
	}

	o.RunCycle(context.Background())
	// Pacing between deliveries, not after the last one.
	if paced != 2 {
		t.Errorf("paced %d times, want 2", paced)
	}
}
