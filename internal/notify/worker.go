package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/qabot/internal/storage"
)

// JobType is the job queue type carrying an Unanswered payload.
const JobType = "notify_unanswered"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	ResetRunningJobs(ctx context.Context, types []string) (int, error)
}

// JobEnqueuer is the producer side of the job queue.
type JobEnqueuer interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Sender delivers a text message. Implemented by *Client.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Unanswered describes a question that fell back to the default answer.
type Unanswered struct {
	Query     string    `json:"query"`
	Channel   string    `json:"channel"`
	BestScore float64   `json:"best_score"`
	AskedAt   time.Time `json:"asked_at"`
}

// Text renders the chat message for u.
func (u Unanswered) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "❓ Câu hỏi chưa được trả lời (%s):\n%s\n", u.Channel, u.Query)
	fmt.Fprintf(&b, "Điểm gần nhất: %.2f. Dạy bot bằng: qabot teach \"%s\" \"<câu trả lời>\"", u.BestScore, u.Query)
	return b.String()
}

// Enqueue schedules a notification for u.
func Enqueue(ctx context.Context, store JobEnqueuer, u Unanswered) error {
	if u.AskedAt.IsZero() {
		u.AskedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	return store.EnqueueJob(ctx, storage.Job{
		ID:          uuid.NewString(),
		Type:        JobType,
		PayloadJSON: string(payload),
	})
}

// Worker delivers notify_unanswered jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	sender Sender
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 1s.
func NewWorker(store JobStore, sender Sender, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:  store,
		sender: sender,
		poll:   pollInterval,
		logger: logger,
	}
}

// Run polls for jobs until ctx is cancelled. Jobs a previous run left
// running are requeued first. It always returns nil so it can be supervised
// by an errgroup without tearing the server down.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.store.ResetRunningJobs(ctx, []string{JobType}); err != nil {
		w.logger.Error("requeueing interrupted jobs", "error", err)
	} else if n > 0 {
		w.logger.Info("requeued interrupted notifications", "count", n)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("notify worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and delivers a single job. It reports whether a job was
// processed, regardless of delivery success.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	// The claimed job must leave the running state even when ctx is
	// cancelled mid-send.
	finishCtx := context.WithoutCancel(ctx)

	if err := w.deliver(ctx, job); err != nil {
		w.logger.Warn("notification failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(finishCtx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(finishCtx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.logger.Debug("notification sent", "job_id", job.ID)
	return true, nil
}

func (w *Worker) deliver(ctx context.Context, job *storage.Job) error {
	var u Unanswered
	if err := json.Unmarshal([]byte(job.PayloadJSON), &u); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	return w.sender.Send(ctx, u.Text())
}
