package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/qabot/internal/engine"
	"github.com/kalambet/qabot/internal/notify"
	"github.com/kalambet/qabot/internal/storage"
)

// Channels an ask can arrive on.
const (
	ChannelWebhook = "webhook"
	ChannelHTTP    = "http"
	ChannelMCP     = "mcp"
	ChannelShell   = "shell"
)

// AskStore persists the ask log and queues notifications. Implemented by
// storage.Store.
type AskStore interface {
	SaveAsk(ctx context.Context, e storage.AskEntry) error
	RecentAsks(ctx context.Context, limit int, unmatchedOnly bool) ([]storage.AskEntry, error)
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// AskRecorder logs served questions and schedules a Google Chat notification
// for each one that fell back to the default answer. Failures are logged and
// never reach the asker.
type AskRecorder struct {
	Store AskStore
	// Notify enables notify_unanswered jobs; set when a webhook is configured.
	Notify bool
	Logger *slog.Logger
}

// Record stores a and, when it is unmatched, enqueues a notification.
func (r *AskRecorder) Record(ctx context.Context, channel, query string, a engine.Answer) {
	if r == nil || r.Store == nil {
		return
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	entry := storage.AskEntry{
		ID:         uuid.New().String(),
		CreatedAt:  now,
		Channel:    channel,
		Query:      query,
		Answer:     a.Text,
		RecordID:   a.RecordID,
		Confidence: a.Confidence,
		BestScore:  a.BestScore,
		Matched:    a.Matched,
	}
	if err := r.Store.SaveAsk(ctx, entry); err != nil {
		logger.Warn("failed to log ask", "channel", channel, "error", err)
	}

	if a.Matched || !r.Notify {
		return
	}
	u := notify.Unanswered{Query: query, Channel: channel, BestScore: a.BestScore, AskedAt: now}
	if err := notify.Enqueue(ctx, r.Store, u); err != nil {
		logger.Warn("failed to enqueue unanswered notification", "channel", channel, "error", err)
	}
}
