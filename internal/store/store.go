package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// PostedRecord is one row of the permanent dedup ledger.
type PostedRecord struct {
	UID       string `db:"uid"`
	CreatedAt int64  `db:"created_at"`
	Title     string `db:"title"`
	Link      string `db:"link"`
}

const (
	maxTitleLen = 300
	maxLinkLen  = 500
)

// Store is the persistence interface.
type Store interface {
	IsPosted(ctx context.Context, uid string) (bool, error)
	MarkPosted(ctx context.Context, uid, title, link string) error

	TodayCount(ctx context.Context) (int, error)
	IncrementToday(ctx context.Context) error
	PurgeStatsOlderThan(ctx context.Context, days int) error

	MarkSourceFailed(ctx context.Context, sourceURL string, backoff time.Duration) error
	IsSourceAvailable(ctx context.Context, sourceURL string) (bool, error)
	PurgeExpiredSuspensions(ctx context.Context) error

	ResetAll(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite. All operations run under a
// single mutex: the backing engine does not support concurrent writers, so
// serialization happens here instead of relying on driver locking.
type SQLiteStore struct {
	mu  sync.Mutex
	db  *sqlx.DB
	now func() time.Time
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) IsPosted(ctx context.Context, uid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var one int
	err := s.db.GetContext(ctx, &one, "SELECT 1 FROM posted WHERE uid = ? LIMIT 1", uid)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check posted %s: %w", uid, err)
	}
	return true, nil
}

// MarkPosted records a delivered item. Inserting an already-known uid is a
// no-op, not an error.
func (s *SQLiteStore) MarkPosted(ctx context.Context, uid, title, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO posted (uid, created_at, title, link)
		VALUES (?, ?, ?, ?)
	`, uid, s.now().Unix(), clip(title, maxTitleLen), clip(link, maxLinkLen))
	if err != nil {
		return fmt.Errorf("mark posted %s: %w", uid, err)
	}
	return nil
}

func (s *SQLiteStore) TodayCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT posts_count FROM daily_stats WHERE date = ?", s.dayKey())
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("today count: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) IncrementToday(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_stats (date, posts_count) VALUES (?, 1)
		ON CONFLICT(date) DO UPDATE SET posts_count = posts_count + 1
	`, s.dayKey())
	if err != nil {
		return fmt.Errorf("increment today: %w", err)
	}
	return nil
}

// PurgeStatsOlderThan drops daily counters outside the retention window.
// The posted ledger is never purged.
func (s *SQLiteStore) PurgeStatsOlderThan(ctx context.Context, days int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().AddDate(0, 0, -days).Format("2006-01-02")
	_, err := s.db.ExecContext(ctx, "DELETE FROM daily_stats WHERE date < ?", cutoff)
	if err != nil {
		return fmt.Errorf("purge stats: %w", err)
	}
	return nil
}

// MarkSourceFailed suspends a source until now+backoff. A repeat failure
// overwrites the row and re-arms the full window.
func (s *SQLiteStore) MarkSourceFailed(ctx context.Context, sourceURL string, backoff time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO failed_sources (source_url, failed_at, retry_after)
		VALUES (?, ?, ?)
	`, sourceURL, now, now+int64(backoff.Seconds()))
	if err != nil {
		return fmt.Errorf("mark source failed %s: %w", sourceURL, err)
	}
	return nil
}

// IsSourceAvailable reports whether a source may be queried now. A source
// with no suspension row, or whose window has elapsed, is available.
func (s *SQLiteStore) IsSourceAvailable(ctx context.Context, sourceURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var retryAfter int64
	err := s.db.GetContext(ctx, &retryAfter,
		"SELECT retry_after FROM failed_sources WHERE source_url = ?", sourceURL)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("check source %s: %w", sourceURL, err)
	}
	return s.now().Unix() >= retryAfter, nil
}

// PurgeExpiredSuspensions removes suspension rows whose window has elapsed.
// Availability checks are already time-based; this only keeps the table small.
func (s *SQLiteStore) PurgeExpiredSuspensions(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM failed_sources WHERE retry_after <= ?", s.now().Unix())
	if err != nil {
		return fmt.Errorf("purge suspensions: %w", err)
	}
	return nil
}

// ResetAll drops and recreates all tables. Destructive; only the explicit
// reset command calls it.
func (s *SQLiteStore) ResetAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"posted", "daily_stats", "failed_sources"} {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("recreate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) dayKey() string {
	return s.now().Format("2006-01-02")
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
