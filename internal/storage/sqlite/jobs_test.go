package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/timegraph/timegraph/internal/storage"
	"github.com/timegraph/timegraph/pkg/types"
)

func TestEnqueueAndGetJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := store.EnqueueJob(ctx, "some-entity", 3)
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if job.Status != types.JobPending || job.Attempts != 0 {
		t.Errorf("new job = %+v", job)
	}

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.EntityName != "some-entity" || got.MaxAttempts != 3 {
		t.Errorf("job = %+v", got)
	}
}

func TestPendingJobsFIFO(t *testing.T) {
	store, clock := newClockedStore(t, 1_000)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"first", "second", "third"} {
		job, err := store.EnqueueJob(ctx, name, 3)
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		ids = append(ids, job.ID)
		clock.Advance(1_000)
	}

	jobs, err := store.PendingJobs(ctx, 2)
	if err != nil {
		t.Fatalf("PendingJobs failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != ids[0] || jobs[1].ID != ids[1] {
		t.Errorf("jobs not FIFO: got %s, %s", jobs[0].EntityName, jobs[1].EntityName)
	}
}

func TestJobLifecycleTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := store.EnqueueJob(ctx, "entity", 3)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	attempts, err := store.MarkProcessing(ctx, job.ID)
	if err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}

	// A processing job cannot be claimed again.
	if _, err := store.MarkProcessing(ctx, job.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("double claim should fail with ErrNotFound, got %v", err)
	}

	if err := store.MarkCompleted(ctx, job.ID); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != types.JobCompleted || got.ProcessedAt == nil {
		t.Errorf("completed job = %+v", got)
	}
}

func TestRequeuePreservesAttempts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.EnqueueJob(ctx, "entity", 3)

	if _, err := store.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := store.RequeueJob(ctx, job.ID, "provider unavailable"); err != nil {
		t.Fatalf("RequeueJob failed: %v", err)
	}

	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != types.JobPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, requeue must preserve the count", got.Attempts)
	}
	if got.Error != "provider unavailable" {
		t.Errorf("error = %q", got.Error)
	}

	// Second claim increments again.
	attempts, err := store.MarkProcessing(ctx, job.ID)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestMarkFailedIsTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.EnqueueJob(ctx, "entity", 3)
	if _, err := store.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkFailed(ctx, job.ID, "model not found"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != types.JobFailed || !got.Terminal() {
		t.Errorf("job = %+v", got)
	}
	if got.Error != "model not found" {
		t.Errorf("error = %q", got.Error)
	}

	// Failed jobs are not picked up by the batch query.
	jobs, _ := store.PendingJobs(ctx, 10)
	if len(jobs) != 0 {
		t.Errorf("failed job leaked into pending set")
	}
}

func TestResetFailedJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.EnqueueJob(ctx, "entity", 3)
	if _, err := store.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkFailed(ctx, job.ID, "boom"); err != nil {
		t.Fatal(err)
	}

	n, err := store.ResetFailedJobs(ctx)
	if err != nil {
		t.Fatalf("ResetFailedJobs failed: %v", err)
	}
	if n != 1 {
		t.Errorf("reset count = %d, want 1", n)
	}

	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != types.JobPending || got.Attempts != 0 || got.Error != "" || got.ProcessedAt != nil {
		t.Errorf("reset job = %+v", got)
	}
}

func TestCleanupJobsRemovesOnlyOldCompleted(t *testing.T) {
	store, clock := newClockedStore(t, 0)
	ctx := context.Background()

	oldJob, _ := store.EnqueueJob(ctx, "old", 3)
	if _, err := store.MarkProcessing(ctx, oldJob.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkCompleted(ctx, oldJob.ID); err != nil {
		t.Fatal(err)
	}

	oldFailed, _ := store.EnqueueJob(ctx, "old-failed", 3)
	if _, err := store.MarkProcessing(ctx, oldFailed.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkFailed(ctx, oldFailed.ID, "x"); err != nil {
		t.Fatal(err)
	}

	clock.Advance((8 * 24 * time.Hour).Milliseconds())

	recent, _ := store.EnqueueJob(ctx, "recent", 3)
	if _, err := store.MarkProcessing(ctx, recent.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkCompleted(ctx, recent.ID); err != nil {
		t.Fatal(err)
	}

	n, err := store.CleanupJobs(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupJobs failed: %v", err)
	}
	if n != 1 {
		t.Errorf("cleaned = %d, want 1", n)
	}

	// Old completed job is gone; failed job is retained for diagnosis.
	if _, err := store.GetJob(ctx, oldJob.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("old completed job should be gone, err = %v", err)
	}
	if _, err := store.GetJob(ctx, oldFailed.ID); err != nil {
		t.Errorf("failed job should be retained: %v", err)
	}
	if _, err := store.GetJob(ctx, recent.ID); err != nil {
		t.Errorf("recent job should be retained: %v", err)
	}
}

func TestQueueStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	counts, err := store.QueueStatus(ctx)
	if err != nil {
		t.Fatalf("QueueStatus failed: %v", err)
	}
	for _, status := range []types.JobStatus{types.JobPending, types.JobProcessing, types.JobCompleted, types.JobFailed} {
		if counts[status] != 0 {
			t.Errorf("empty queue reported %d %s jobs", counts[status], status)
		}
	}

	if _, err := store.EnqueueJob(ctx, "a", 3); err != nil {
		t.Fatal(err)
	}
	job, _ := store.EnqueueJob(ctx, "b", 3)
	if _, err := store.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	counts, err = store.QueueStatus(ctx)
	if err != nil {
		t.Fatalf("QueueStatus failed: %v", err)
	}
	if counts[types.JobPending] != 1 || counts[types.JobProcessing] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
