// Package botcmd is the interactive command surface: a long-poll listener
// answering bot commands with pipeline status and on-demand actions.
package botcmd

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/dkorolev/feedrelay/internal/pipeline"
	"github.com/dkorolev/feedrelay/pkg/telegram"
)

const (
	pollTimeout   = 30 * time.Second
	errorCooldown = 5 * time.Second
)

// Resetter is the destructive store operation behind /reset_db.
type Resetter interface {
	ResetAll(ctx context.Context) error
}

// Listener polls for bot commands and dispatches them against the pipeline.
// It only reads shared status; all mutation happens through the orchestrator
// and the store's own operations.
type Listener struct {
	client  *telegram.Client
	orch    *pipeline.Orchestrator
	store   Resetter
	channel string
	logger  *log.Logger
}

// New creates a command listener.
func New(client *telegram.Client, orch *pipeline.Orchestrator, store Resetter, channel string, logger *log.Logger) *Listener {
	return &Listener{
		client:  client,
		orch:    orch,
		store:   store,
		channel: channel,
		logger:  logger,
	}
}

// Run blocks polling for updates until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := l.client.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Printf("botcmd: get updates: %v", err)
			wait(ctx, errorCooldown)
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || !strings.HasPrefix(u.Message.Text, "/") {
				continue
			}
			l.handle(ctx, u.Message)
		}
	}
}

func (l *Listener) handle(ctx context.Context, msg *telegram.Message) {
	cmd := strings.Fields(msg.Text)[0]
	// Commands may arrive as /stats@botname in group chats.
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	l.logger.Printf("botcmd: %s from chat %d", cmd, msg.Chat.ID)

	switch cmd {
	case "/start":
		l.replyStart(ctx, msg)
	case "/stats":
		l.replyStats(ctx, msg)
	case "/post_now":
		l.replyPostNow(ctx, msg)
	case "/reset_db":
		l.replyReset(ctx, msg)
	case "/test":
		l.replyTest(ctx, msg)
	}
}

func (l *Listener) replyStart(ctx context.Context, msg *telegram.Message) {
	snap := l.orch.Snapshot()
	l.reply(ctx, msg, fmt.Sprintf(
		"🤖 Бот активен\n\n📊 Сегодня: %d/%d\n\nКоманды:\n/post_now — проверить RSS\n/stats — статистика\n/reset_db — сброс\n/test — тест",
		snap.PostsToday, snap.DailyLimit))
}

func (l *Listener) replyStats(ctx context.Context, msg *telegram.Message) {
	snap := l.orch.Snapshot()
	l.reply(ctx, msg, fmt.Sprintf(
		"📊 Статистика\n\nОпубликовано сегодня: %d/%d\nОсталось: %d\nПоследняя проверка: %s",
		snap.PostsToday, snap.DailyLimit, snap.DailyLimit-snap.PostsToday, snap.LastStatus))
}

func (l *Listener) replyPostNow(ctx context.Context, msg *telegram.Message) {
	l.reply(ctx, msg, "⏳ Проверяю RSS...")
	n, status := l.orch.RunCycle(ctx)
	snap := l.orch.Snapshot()
	l.reply(ctx, msg, fmt.Sprintf(
		"✅ Готово\n\nОпубликовано: %d\nСтатус: %s\nСегодня всего: %d/%d",
		n, status, snap.PostsToday, snap.DailyLimit))
}

func (l *Listener) replyReset(ctx context.Context, msg *telegram.Message) {
	if err := l.store.ResetAll(ctx); err != nil {
		l.reply(ctx, msg, fmt.Sprintf("❌ Ошибка: %v", err))
		return
	}
	l.reply(ctx, msg, "✅ База сброшена")
}

func (l *Listener) replyTest(ctx context.Context, msg *telegram.Message) {
	if err := l.client.SendMessage(ctx, l.channel, "✅ Тест: бот работает"); err != nil {
		l.reply(ctx, msg, fmt.Sprintf("❌ Ошибка: %v", err))
		return
	}
	l.reply(ctx, msg, "✅ Тест отправлен")
}

func (l *Listener) reply(ctx context.Context, msg *telegram.Message, text string) {
	chat := strconv.FormatInt(msg.Chat.ID, 10)
	if err := l.client.SendMessage(ctx, chat, text); err != nil {
		l.logger.Printf("botcmd: reply to %s: %v", chat, err)
	}
}

func wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
