package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(i int) QARecord {
	now := time.Date(2026, 1, 2, 3, 4, 5, i, time.UTC)
	return QARecord{
		ID:        fmt.Sprintf("rec-%02d", i),
		Question:  fmt.Sprintf("question %d", i),
		Answer:    fmt.Sprintf("answer %d", i),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TestMigrationsIdempotent runs Open twice on the same directory and checks
// that no migration is applied a second time.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("012_add_things.sql")
	if err != nil {
		t.Fatalf("parseMigrationVersion: %v", err)
	}
	if v != 12 {
		t.Errorf("version = %d, want 12", v)
	}
	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Error("expected error for unnumbered migration")
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_ask_log_created", "idx_ask_log_matched", "idx_jobs_status_run_after"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestInsertAndListRecords_PreservesOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Ids deliberately sort opposite to insertion order.
	recs := []QARecord{testRecord(3), testRecord(1), testRecord(2)}
	if err := s.InsertQARecords(ctx, recs); err != nil {
		t.Fatalf("InsertQARecords: %v", err)
	}

	got, err := s.ListQARecords(ctx)
	if err != nil {
		t.Fatalf("ListQARecords: %v", err)
	}
	if len(got) != len(recs) {
		t.Fatalf("len = %d, want %d", len(got), len(recs))
	}
	for i := range recs {
		if got[i].ID != recs[i].ID {
			t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, recs[i].ID)
		}
		if got[i].Question != recs[i].Question || got[i].Answer != recs[i].Answer {
			t.Errorf("got[%d] = %+v, want %+v", i, got[i], recs[i])
		}
		if !got[i].CreatedAt.Equal(recs[i].CreatedAt) {
			t.Errorf("got[%d].CreatedAt = %v, want %v", i, got[i].CreatedAt, recs[i].CreatedAt)
		}
	}

	n, err := s.CountQARecords(ctx)
	if err != nil {
		t.Fatalf("CountQARecords: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestListRecords_Empty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ListQARecords(context.Background())
	if err != nil {
		t.Fatalf("ListQARecords: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no records, got %d", len(got))
	}
}

func TestInsertRecords_AllOrNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertQARecords(ctx, []QARecord{testRecord(1)}); err != nil {
		t.Fatalf("InsertQARecords: %v", err)
	}

	// The duplicate id in the middle aborts the whole batch.
	err := s.InsertQARecords(ctx, []QARecord{testRecord(2), testRecord(1), testRecord(3)})
	if err == nil {
		t.Fatal("expected duplicate id error")
	}

	n, err := s.CountQARecords(ctx)
	if err != nil {
		t.Fatalf("CountQARecords: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1 after rolled back batch", n)
	}
}

func TestGetRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := testRecord(7)
	if err := s.InsertQARecords(ctx, []QARecord{want}); err != nil {
		t.Fatalf("InsertQARecords: %v", err)
	}

	got, err := s.GetQARecord(ctx, want.ID)
	if err != nil {
		t.Fatalf("GetQARecord: %v", err)
	}
	if got.Question != want.Question {
		t.Errorf("Question = %q, want %q", got.Question, want.Question)
	}

	_, err = s.GetQARecord(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRecord_KeepsPosition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertQARecords(ctx, []QARecord{testRecord(1), testRecord(2), testRecord(3)}); err != nil {
		t.Fatalf("InsertQARecords: %v", err)
	}

	r := testRecord(1)
	r.Question = "edited question"
	r.Answer = "edited answer"
	r.UpdatedAt = r.UpdatedAt.Add(time.Hour)
	if err := s.UpdateQARecord(ctx, r); err != nil {
		t.Fatalf("UpdateQARecord: %v", err)
	}

	got, err := s.ListQARecords(ctx)
	if err != nil {
		t.Fatalf("ListQARecords: %v", err)
	}
	if got[0].ID != r.ID || got[0].Question != "edited question" || got[0].Answer != "edited answer" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if !got[0].UpdatedAt.Equal(r.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got[0].UpdatedAt, r.UpdatedAt)
	}
	if !got[0].CreatedAt.Equal(testRecord(1).CreatedAt) {
		t.Errorf("CreatedAt changed to %v", got[0].CreatedAt)
	}

	missing := testRecord(9)
	if err := s.UpdateQARecord(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertQARecords(ctx, []QARecord{testRecord(1), testRecord(2), testRecord(3)}); err != nil {
		t.Fatalf("InsertQARecords: %v", err)
	}
	if err := s.DeleteQARecord(ctx, "rec-02"); err != nil {
		t.Fatalf("DeleteQARecord: %v", err)
	}

	got, err := s.ListQARecords(ctx)
	if err != nil {
		t.Fatalf("ListQARecords: %v", err)
	}
	if len(got) != 2 || got[0].ID != "rec-01" || got[1].ID != "rec-03" {
		t.Errorf("unexpected records after delete: %+v", got)
	}

	if err := s.DeleteQARecord(ctx, "rec-02"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRecordsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.InsertQARecords(ctx, []QARecord{testRecord(1), testRecord(2)}); err != nil {
		t.Fatalf("InsertQARecords: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.ListQARecords(ctx)
	if err != nil {
		t.Fatalf("ListQARecords: %v", err)
	}
	if len(got) != 2 || got[1].ID != "rec-02" {
		t.Errorf("unexpected records after reopen: %+v", got)
	}
}

func TestSaveAndRecentAsks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []AskEntry{
		{ID: "a1", Channel: "http", Query: "xin chào", Answer: "Chào bạn", RecordID: "rec-01", Confidence: 1, BestScore: 1, Matched: true},
		{ID: "a2", Channel: "webhook", Query: "thời tiết", Answer: "fallback", BestScore: 0.1},
		{ID: "a3", Channel: "cli", Query: "lol", Answer: "fallback"},
	}
	for _, e := range entries {
		if err := s.SaveAsk(ctx, e); err != nil {
			t.Fatalf("SaveAsk %s: %v", e.ID, err)
		}
	}

	all, err := s.RecentAsks(ctx, 10, false)
	if err != nil {
		t.Fatalf("RecentAsks: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].ID != "a3" || all[2].ID != "a1" {
		t.Errorf("expected newest first, got %s..%s", all[0].ID, all[2].ID)
	}
	if !all[2].Matched || all[2].RecordID != "rec-01" {
		t.Errorf("matched entry lost fields: %+v", all[2])
	}
	if all[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should default to now")
	}

	unmatched, err := s.RecentAsks(ctx, 10, true)
	if err != nil {
		t.Fatalf("RecentAsks unmatched: %v", err)
	}
	if len(unmatched) != 2 {
		t.Fatalf("unmatched len = %d, want 2", len(unmatched))
	}
	for _, e := range unmatched {
		if e.Matched {
			t.Errorf("unexpected matched entry %s", e.ID)
		}
	}

	limited, err := s.RecentAsks(ctx, 1, false)
	if err != nil {
		t.Fatalf("RecentAsks limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited len = %d, want 1", len(limited))
	}
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := Job{ID: "j-claim-1", Type: "notify_unanswered", PayloadJSON: `{"query":"q"}`}
	if err := s.EnqueueJob(ctx, job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob(ctx, []string{"notify_unanswered"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-claim-1" {
		t.Errorf("ID = %q, want %q", got.ID, "j-claim-1")
	}
	if got.PayloadJSON != `{"query":"q"}` {
		t.Errorf("PayloadJSON = %q", got.PayloadJSON)
	}
	if got.Status != JobRunning {
		t.Errorf("Status = %q, want %q", got.Status, JobRunning)
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ClaimNextJob(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}

	got, err = s.ClaimNextJob(context.Background(), nil)
	if err != nil || got != nil {
		t.Errorf("expected nil, nil for no types; got %+v, %v", got, err)
	}
}

func TestClaimNextJob_RespectRunAfter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := Job{ID: "j-future", Type: "x", PayloadJSON: `{}`, RunAfter: time.Now().UTC().Add(time.Hour)}
	if err := s.EnqueueJob(ctx, job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob(ctx, []string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for future run_after, got %+v", got)
	}
}

func TestClaimNextJob_TypeFilterAndSkipsRunning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, j := range []Job{
		{ID: "j-a", Type: "a", PayloadJSON: `{}`},
		{ID: "j-b", Type: "b", PayloadJSON: `{}`},
	} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob %s: %v", j.ID, err)
		}
	}

	got, err := s.ClaimNextJob(ctx, []string{"b"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil || got.ID != "j-b" {
		t.Fatalf("expected j-b, got %+v", got)
	}

	got, err = s.ClaimNextJob(ctx, []string{"b"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("running job was claimed twice: %+v", got)
	}
}

func TestResetRunningJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, j := range []Job{
		{ID: "j-stuck", Type: "a", PayloadJSON: `{}`},
		{ID: "j-other", Type: "b", PayloadJSON: `{}`},
	} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob %s: %v", j.ID, err)
		}
	}
	for _, typ := range []string{"a", "b"} {
		if got, err := s.ClaimNextJob(ctx, []string{typ}); err != nil || got == nil {
			t.Fatalf("ClaimNextJob(%s) = %+v, %v", typ, got, err)
		}
	}

	n, err := s.ResetRunningJobs(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("ResetRunningJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("reset %d jobs, want 1", n)
	}

	got, err := s.ClaimNextJob(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil || got.ID != "j-stuck" {
		t.Fatalf("expected j-stuck to be claimable again, got %+v", got)
	}
	if got.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", got.Attempts)
	}

	other, err := s.GetJob(ctx, "j-other")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if other.Status != JobRunning {
		t.Errorf("job of another type was reset: status = %q", other.Status)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j-complete", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob(ctx, "j-complete"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	j, err := s.GetJob(ctx, "j-complete")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != JobCompleted {
		t.Errorf("status = %q, want %q", j.Status, JobCompleted)
	}

	if err := s.CompleteJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFailJob_RetriesWithBackoff(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j-retry", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	before := time.Now().UTC()
	if err := s.FailJob(ctx, "j-retry", "webhook returned 502"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	j, err := s.GetJob(ctx, "j-retry")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", j.Attempts)
	}
	if j.Status != JobPending {
		t.Errorf("status = %q, want %q", j.Status, JobPending)
	}
	if j.LastError != "webhook returned 502" {
		t.Errorf("last_error = %q", j.LastError)
	}
	if !j.RunAfter.After(before) {
		t.Errorf("run_after %v should be after %v", j.RunAfter, before)
	}
}

func TestFailJob_MaxAttemptsReached(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j-fail-max", Type: "x", PayloadJSON: `{}`, MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob(ctx, "j-fail-max", "fatal"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	j, err := s.GetJob(ctx, "j-fail-max")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != JobFailed {
		t.Errorf("status = %q, want %q", j.Status, JobFailed)
	}

	if err := s.FailJob(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
