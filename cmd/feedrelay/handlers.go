package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkorolev/feedrelay/internal/botcmd"
	"github.com/dkorolev/feedrelay/internal/config"
	"github.com/dkorolev/feedrelay/internal/pipeline"
	"github.com/dkorolev/feedrelay/internal/scheduler"
	"github.com/dkorolev/feedrelay/internal/store"
	"github.com/dkorolev/feedrelay/pkg/feed"
	"github.com/dkorolev/feedrelay/pkg/publish"
	"github.com/dkorolev/feedrelay/pkg/server"
	"github.com/dkorolev/feedrelay/pkg/summary"
	"github.com/dkorolev/feedrelay/pkg/telegram"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// newLogger writes to stdout and, when configured, a log file as well.
func newLogger(cfg *config.Config) (*log.Logger, func(), error) {
	out := io.Writer(os.Stdout)
	cleanup := func() {}

	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", cfg.Log.File, err)
		}
		out = io.MultiWriter(os.Stdout, f)
		cleanup = func() { f.Close() }
	}

	return log.New(out, "", log.LstdFlags), cleanup, nil
}

func buildSummarizer(cfg *config.Config, logger *log.Logger) summary.Summarizer {
	rewriter := summary.NewRewriter(cfg.Content.CaptionLimit)
	if cfg.Rewrite.Token == "" {
		return rewriter
	}
	hosted := summary.NewHosted(cfg.Rewrite.Token, cfg.Rewrite.Model, cfg.Rewrite.MaxChars)
	logger.Printf("rewrite model enabled: %s", cfg.Rewrite.Model)
	return summary.WithFallback(hosted, rewriter, logger)
}

func buildOrchestrator(cfg *config.Config, db *store.SQLiteStore, tg *telegram.Client, logger *log.Logger) *pipeline.Orchestrator {
	sources := make([]feed.Source, len(cfg.Sources))
	for i, s := range cfg.Sources {
		sources[i] = feed.Source{Name: s.Name, URL: s.URL}
	}

	ingestor := feed.NewIngestor(sources, db, db, feed.Options{
		RetryAttempts:    cfg.Fetch.RetryAttempts,
		SourceBackoff:    cfg.Fetch.ParseSourceBackoff(),
		MinTitleLength:   cfg.Content.MinTitleLength,
		MinSummaryLength: cfg.Content.MinSummaryLength,
		ItemsPerFeed:     cfg.Limits.ItemsPerFeed,
	}, logger)

	engine := publish.New(tg, cfg.Telegram.Channel, publish.Options{
		Attempts:         cfg.Delivery.RetryAttempts,
		RetryDelay:       cfg.Delivery.ParseRetryDelay(),
		MaxWait:          cfg.Delivery.ParseMaxWait(),
		MinCaptionLength: cfg.Content.MinCaptionLength,
		DefaultImageURL:  cfg.Content.DefaultImageURL,
	}, logger)

	return pipeline.New(db, ingestor, engine, buildSummarizer(cfg, logger), pipeline.Options{
		DailyLimit:    cfg.Limits.MaxPostsPerDay,
		PerCheckLimit: cfg.Limits.MaxPostsPerCheck,
		Pacing:        cfg.Delivery.ParsePacing(),
	}, logger)
}

func runDaemon() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tg := telegram.New(cfg.Telegram.BotToken)
	me, err := tg.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram connect: %w", err)
	}
	logger.Printf("bot connected: @%s, channel %s", me.Username, cfg.Telegram.Channel)

	orch := buildOrchestrator(cfg, db, tg, logger)

	srv := server.New(orch, cfg.Server.Port, logger)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Printf("healthcheck server: %v", err)
		}
	}()

	listener := botcmd.New(tg, orch, db, cfg.Telegram.Channel, logger)
	go func() {
		if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("command listener: %v", err)
		}
	}()

	sched := scheduler.New(orch, db, cfg.Schedule.ParseCheckInterval(), cfg.Stats.RetentionDays, logger)
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Printf("shutdown complete")
	return nil
}

func runCycle() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	tg := telegram.New(cfg.Telegram.BotToken)
	orch := buildOrchestrator(cfg, db, tg, logger)

	n, status := orch.RunCycle(context.Background())
	fmt.Printf("published: %d\nstatus: %s\n", n, status)
	return nil
}

func runStats() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	count, err := db.TodayCount(context.Background())
	if err != nil {
		return fmt.Errorf("today count: %w", err)
	}

	remaining := cfg.Limits.MaxPostsPerDay - count
	if remaining < 0 {
		remaining = 0
	}
	fmt.Printf("posted today: %d/%d\nremaining:    %d\n", count, cfg.Limits.MaxPostsPerDay, remaining)
	return nil
}

func runSendTest() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	tg := telegram.New(cfg.Telegram.BotToken)
	if err := tg.SendMessage(context.Background(), cfg.Telegram.Channel, "✅ Тест: бот работает"); err != nil {
		return fmt.Errorf("send test message: %w", err)
	}
	fmt.Println("test message sent")
	return nil
}

func runReset() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if err := db.ResetAll(context.Background()); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	fmt.Println("store reset")
	return nil
}
