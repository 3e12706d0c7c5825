package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/qabot/internal/storage"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// resetRunAfter makes a job claimable again right after FailJob's backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID); err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	errFn func(n int) error
}

func (f *fakeSender) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errFn != nil {
		if err := f.errFn(len(f.sent)); err != nil {
			f.sent = append(f.sent, "")
			return err
		}
	}
	f.sent = append(f.sent, text)
	return nil
}

func TestClientSend(t *testing.T) {
	var got message
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	if err := c.Send(context.Background(), "xin chào"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Text != "xin chào" {
		t.Errorf("text = %q, want %q", got.Text, "xin chào")
	}
	if !strings.HasPrefix(contentType, "application/json") {
		t.Errorf("Content-Type = %q", contentType)
	}
}

func TestClientSend_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "space not found", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, 0).Send(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "space not found") {
		t.Errorf("error = %v", err)
	}
}

func TestClientSend_NotConfigured(t *testing.T) {
	c := NewClient("", 0)
	if c.Configured() {
		t.Error("expected Configured() == false")
	}
	if err := c.Send(context.Background(), "hi"); !errors.Is(err, ErrNoWebhook) {
		t.Errorf("expected ErrNoWebhook, got %v", err)
	}
}

func TestClientSend_RateLimitedRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := NewClient(srv.URL, 1)
	if err := c.Send(context.Background(), "first"); err != nil {
		t.Fatalf("first Send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Send(ctx, "second"); err == nil {
		t.Error("expected rate limiter to refuse a second message within the minute")
	}
}

func TestUnansweredText(t *testing.T) {
	u := Unanswered{Query: "giờ mở cửa?", Channel: "webhook", BestScore: 0.12}
	text := u.Text()
	for _, want := range []string{"giờ mở cửa?", "webhook", "0.12"} {
		if !strings.Contains(text, want) {
			t.Errorf("text %q missing %q", text, want)
		}
	}
}

func TestWorker_DeliversAndCompletes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := Enqueue(ctx, store, Unanswered{Query: "ai là giám đốc", Channel: "http"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	sender := &fakeSender{}
	w := NewWorker(store, sender, time.Millisecond, quietLogger)

	done, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("expected a job to be processed")
	}
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0], "ai là giám đốc") {
		t.Errorf("sent = %q", sender.sent)
	}

	done, err = w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if done {
		t.Error("queue should be empty after completion")
	}
}

func TestWorker_RetriesThenFails(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	payload, _ := json.Marshal(Unanswered{Query: "q", Channel: "cli"})
	if err := store.EnqueueJob(ctx, storage.Job{ID: "j-retry", Type: JobType, PayloadJSON: string(payload)}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	sender := &fakeSender{errFn: func(int) error { return errors.New("HTTP 502") }}
	w := NewWorker(store, sender, time.Millisecond, quietLogger)

	for attempt := 1; attempt <= 3; attempt++ {
		done, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("attempt %d: RunOnce: %v", attempt, err)
		}
		if !done {
			t.Fatalf("attempt %d: expected job to be processed", attempt)
		}
		resetRunAfter(t, store, "j-retry")
	}

	j, err := store.GetJob(ctx, "j-retry")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != storage.JobFailed {
		t.Errorf("status = %q, want %q", j.Status, storage.JobFailed)
	}
	if j.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", j.Attempts)
	}
	if j.LastError != "HTTP 502" {
		t.Errorf("last_error = %q", j.LastError)
	}

	done, err := w.RunOnce(ctx)
	if err != nil || done {
		t.Errorf("failed job must not be claimed again: done=%v err=%v", done, err)
	}
}

func TestWorker_BadPayloadFails(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.EnqueueJob(ctx, storage.Job{ID: "j-bad", Type: JobType, PayloadJSON: "{", MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	sender := &fakeSender{}
	w := NewWorker(store, sender, time.Millisecond, quietLogger)
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("nothing should be sent, got %q", sender.sent)
	}
	j, err := store.GetJob(ctx, "j-bad")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != storage.JobFailed {
		t.Errorf("status = %q, want failed", j.Status)
	}
}

func TestWorker_CancelledMidSendRequeues(t *testing.T) {
	store := openTestStore(t)
	if err := store.EnqueueJob(context.Background(), storage.Job{ID: "j-cancel", Type: JobType, PayloadJSON: `{"query":"q"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	}))
	defer srv.Close()

	w := NewWorker(store, NewClient(srv.URL, 0), time.Millisecond, quietLogger)
	done, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("expected the job to be processed")
	}

	j, err := store.GetJob(context.Background(), "j-cancel")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != storage.JobPending {
		t.Errorf("status = %q, want %q", j.Status, storage.JobPending)
	}
	if j.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", j.Attempts)
	}
}

func TestWorker_RunRequeuesInterruptedJobs(t *testing.T) {
	store := openTestStore(t)
	if err := Enqueue(context.Background(), store, Unanswered{Query: "stuck question", Channel: "http"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// A crashed worker left the job claimed.
	if got, err := store.ClaimNextJob(context.Background(), []string{JobType}); err != nil || got == nil {
		t.Fatalf("ClaimNextJob = %+v, %v", got, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sender := &fakeSender{}
	w := NewWorker(store, sender, 5*time.Millisecond, quietLogger)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		sender.mu.Lock()
		n := len(sender.sent)
		sender.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("interrupted job was not delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	sender := &fakeSender{}
	w := NewWorker(store, sender, 5*time.Millisecond, quietLogger)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	if err := Enqueue(context.Background(), store, Unanswered{Query: "late question", Channel: "http"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		sender.mu.Lock()
		n := len(sender.sent)
		sender.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("worker did not deliver the job")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
