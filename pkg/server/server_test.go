package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dkorolev/feedrelay/internal/pipeline"
	"github.com/dkorolev/feedrelay/pkg/feed"
)

type noopLedger struct{}

func (noopLedger) IsPosted(context.Context, string) (bool, error)           { return false, nil }
func (noopLedger) MarkPosted(context.Context, string, string, string) error { return nil }
func (noopLedger) TodayCount(context.Context) (int, error)                  { return 3, nil }
func (noopLedger) IncrementToday(context.Context) error                     { return nil }

type noopIngestor struct{}

func (noopIngestor) Fetch(context.Context) []feed.Item { return nil }

type noopDeliverer struct{}

func (noopDeliverer) Deliver(context.Context, string, string) bool { return true }

type noopSummarizer struct{}

func (noopSummarizer) Summarize(context.Context, string, string) (string, error) { return "", nil }

func TestHandleHealth(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	orch := pipeline.New(noopLedger{}, noopIngestor{}, noopDeliverer{}, noopSummarizer{},
		pipeline.Options{DailyLimit: 10, PerCheckLimit: 2}, logger)
	srv := New(orch, 0, logger)

	// Before any cycle runs the endpoint still answers.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["last_check"] != "never" {
		t.Errorf("last_check = %v, want never", body["last_check"])
	}
	if body["max_posts_per_day"] != float64(10) {
		t.Errorf("max_posts_per_day = %v, want 10", body["max_posts_per_day"])
	}

	// After a cycle the snapshot shows through.
	orch.RunCycle(context.Background())
	rec = httptest.NewRecorder()
	srv.handleHealth(rec, req)
	body = map[string]any{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["last_check"] == "never" {
		t.Error("last_check not updated after a cycle")
	}
	if body["last_check_status"] != string(pipeline.StatusNoNewPosts) {
		t.Errorf("last_check_status = %v, want %s", body["last_check_status"], pipeline.StatusNoNewPosts)
	}
	if body["posts_today"] != float64(3) {
		t.Errorf("posts_today = %v, want 3", body["posts_today"])
	}
}
