package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/timegraph/timegraph/internal/embedding"
	"github.com/timegraph/timegraph/internal/limiter"
	"github.com/timegraph/timegraph/internal/storage"
	"github.com/timegraph/timegraph/internal/storage/sqlite"
	"github.com/timegraph/timegraph/pkg/types"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestJobManager(t *testing.T, store storage.Store, provider embedding.Provider, tokens int) *JobManager {
	t.Helper()
	return NewJobManager(store, provider,
		embedding.NewCache(100, time.Hour),
		limiter.New(tokens, time.Minute),
		JobManagerConfig{})
}

func createEntity(t *testing.T, store storage.Store, e types.Entity) {
	t.Helper()
	if _, err := store.CreateEntities(context.Background(), []types.Entity{e}, ""); err != nil {
		t.Fatalf("create entity failed: %v", err)
	}
}

func TestProcessPendingJobsStoresEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	provider := &embedding.MockProvider{
		Dimensions:  3,
		FixedVector: []float32{0.1, 0.2, 0.3},
	}
	jm := newTestJobManager(t, store, provider, 100)

	createEntity(t, store, types.Entity{Name: "Foo", EntityType: types.EntityFeature})
	job, err := jm.ScheduleEntityEmbedding(ctx, "Foo")
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	result, err := jm.ProcessPendingJobs(ctx)
	if err != nil {
		t.Fatalf("ProcessPendingJobs failed: %v", err)
	}
	if result.Completed != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != types.JobCompleted {
		t.Errorf("job status = %s", got.Status)
	}

	emb, err := store.GetEntityEmbedding(ctx, "Foo")
	if err != nil {
		t.Fatalf("GetEntityEmbedding failed: %v", err)
	}
	want := []float32{0.1, 0.2, 0.3}
	if len(emb.Vector) != len(want) {
		t.Fatalf("vector = %v", emb.Vector)
	}
	for i := range want {
		if math.Abs(float64(emb.Vector[i]-want[i])) > 1e-9 {
			t.Errorf("vector[%d] = %v, want %v", i, emb.Vector[i], want[i])
		}
	}
	if emb.Model != provider.ModelInfo().Name {
		t.Errorf("model = %q", emb.Model)
	}
}

func TestFailingJobExhaustsAttemptsThenParksAsFailed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	provider := &embedding.MockProvider{FailUntilAttempt: 100}
	jm := newTestJobManager(t, store, provider, 100)

	createEntity(t, store, types.Entity{Name: "flaky", EntityType: types.EntityConcept})
	job, err := jm.ScheduleEntityEmbedding(ctx, "flaky")
	if err != nil {
		t.Fatal(err)
	}

	// Two passes requeue with attempts remaining, the third parks the job.
	for pass := 1; pass <= 3; pass++ {
		result, err := jm.ProcessPendingJobs(ctx)
		if err != nil {
			t.Fatalf("pass %d failed: %v", pass, err)
		}
		if pass < 3 && result.Requeued != 1 {
			t.Errorf("pass %d: result = %+v, want one requeue", pass, result)
		}
		if pass == 3 && result.Failed != 1 {
			t.Errorf("pass 3: result = %+v, want one terminal failure", result)
		}
	}

	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != types.JobFailed || got.Attempts != 3 {
		t.Errorf("job = %+v", got)
	}
	if got.Error == "" {
		t.Error("failed job should retain the last error message")
	}

	// Failed jobs never come back on their own.
	result, err := jm.ProcessPendingJobs(ctx)
	if err != nil || result.Claimed != 0 {
		t.Errorf("fourth pass claimed %d jobs, err = %v", result.Claimed, err)
	}
}

func TestRetryFailedJobsResetsAttemptBudget(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	provider := &embedding.MockProvider{Dimensions: 4, FailUntilAttempt: 3}
	jm := newTestJobManager(t, store, provider, 100)

	createEntity(t, store, types.Entity{Name: "recovering", EntityType: types.EntityConcept})
	job, err := jm.ScheduleEntityEmbedding(ctx, "recovering")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := jm.ProcessPendingJobs(ctx); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != types.JobFailed {
		t.Fatalf("job should be failed, got %s", got.Status)
	}

	n, err := jm.RetryFailedJobs(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RetryFailedJobs = %d, %v", n, err)
	}

	// The provider recovers on the fourth call, so the retried job succeeds.
	result, err := jm.ProcessPendingJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Completed != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestCacheMakesReprocessingIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	provider := embedding.NewMockProvider(4)
	jm := newTestJobManager(t, store, provider, 100)

	createEntity(t, store, types.Entity{Name: "stable", EntityType: types.EntityConcept, Observations: []string{"unchanged"}})

	if _, err := jm.ScheduleEntityEmbedding(ctx, "stable"); err != nil {
		t.Fatal(err)
	}
	if _, err := jm.ProcessPendingJobs(ctx); err != nil {
		t.Fatal(err)
	}
	if provider.Calls() != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.Calls())
	}

	// Re-embedding the same content is served from the cache.
	if _, err := jm.ScheduleEntityEmbedding(ctx, "stable"); err != nil {
		t.Fatal(err)
	}
	result, err := jm.ProcessPendingJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Completed != 1 || result.CacheHits != 1 {
		t.Errorf("result = %+v", result)
	}
	if provider.Calls() != 1 {
		t.Errorf("provider calls = %d, cache should have absorbed the second job", provider.Calls())
	}
}

func TestRateLimiterStopsBatchEarly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	provider := embedding.NewMockProvider(4)
	jm := newTestJobManager(t, store, provider, 2)

	for _, name := range []string{"one", "two", "three"} {
		createEntity(t, store, types.Entity{Name: name, EntityType: types.EntityConcept})
		if _, err := jm.ScheduleEntityEmbedding(ctx, name); err != nil {
			t.Fatal(err)
		}
	}

	result, err := jm.ProcessPendingJobs(ctx)
	if err != nil {
		t.Fatalf("ProcessPendingJobs failed: %v", err)
	}
	if !result.RateLimited {
		t.Error("expected the pass to report rate limiting")
	}
	if result.Completed != 2 {
		t.Errorf("completed = %d, want 2", result.Completed)
	}

	// The deferred job is still pending, not stranded in processing.
	counts, err := jm.QueueStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[types.JobPending] != 1 || counts[types.JobProcessing] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestProcessPendingJobsIsSingleFlight(t *testing.T) {
	store := newTestStore(t)
	provider := embedding.NewMockProvider(4)
	jm := newTestJobManager(t, store, provider, 100)

	jm.mu.Lock()
	defer jm.mu.Unlock()

	_, err := jm.ProcessPendingJobs(context.Background())
	if !errors.Is(err, storage.ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
}

func TestProcessJobForDeletedEntityFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	provider := embedding.NewMockProvider(4)
	jm := newTestJobManager(t, store, provider, 100)

	createEntity(t, store, types.Entity{Name: "shortlived", EntityType: types.EntityConcept})
	if _, err := jm.ScheduleEntityEmbedding(ctx, "shortlived"); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteEntities(ctx, []string{"shortlived"}); err != nil {
		t.Fatal(err)
	}

	result, err := jm.ProcessPendingJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Requeued != 1 {
		t.Errorf("result = %+v, want the job requeued on first failure", result)
	}
}

func TestCanonicalText(t *testing.T) {
	e := &types.Entity{
		Name:         "Foo",
		EntityType:   types.EntityFeature,
		Observations: []string{"built in Go", "ships weekly"},
	}
	want := "Foo\nfeature\nbuilt in Go\nships weekly"
	if got := CanonicalText(e); got != want {
		t.Errorf("CanonicalText = %q, want %q", got, want)
	}
}
