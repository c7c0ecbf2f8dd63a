package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/timegraph/timegraph/internal/embedding"
	"github.com/timegraph/timegraph/internal/limiter"
	"github.com/timegraph/timegraph/internal/storage"
	"github.com/timegraph/timegraph/pkg/types"
)

const (
	// DefaultBatchSize is the number of pending jobs a processing pass claims.
	DefaultBatchSize = 10

	// DefaultMaxAttempts is the per-job attempt budget before a job is
	// parked as failed.
	DefaultMaxAttempts = 3

	// DefaultCleanupAge is how long completed jobs are kept before GC.
	DefaultCleanupAge = 7 * 24 * time.Hour
)

// JobManagerConfig tunes the batch processor.
type JobManagerConfig struct {
	BatchSize   int
	MaxAttempts int
	CleanupAge  time.Duration
}

func (c JobManagerConfig) normalize() JobManagerConfig {
	if c.BatchSize < 1 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.CleanupAge <= 0 {
		c.CleanupAge = DefaultCleanupAge
	}
	return c
}

// BatchResult summarizes one processing pass.
type BatchResult struct {
	Claimed     int // jobs pulled from the pending queue
	Completed   int
	Requeued    int // failed with attempts remaining
	Failed      int // failed terminally
	RateLimited bool
	CacheHits   int
}

// JobManager drives the embedding job lifecycle: it claims pending jobs
// FIFO, consults the rate limiter and the content cache, calls the
// provider, and writes vectors back into the temporal store.
//
// Dependencies are injected explicitly; there is no registry. The mutex
// makes processing single-flight: a second ProcessPendingJobs call while
// one is running returns ErrAlreadyProcessing instead of racing the claim
// step.
type JobManager struct {
	store    storage.Store
	provider embedding.Provider
	cache    *embedding.Cache
	bucket   *limiter.TokenBucket
	cfg      JobManagerConfig

	mu sync.Mutex
}

// NewJobManager wires the processor from its collaborators.
func NewJobManager(store storage.Store, provider embedding.Provider, cache *embedding.Cache, bucket *limiter.TokenBucket, cfg JobManagerConfig) *JobManager {
	return &JobManager{
		store:    store,
		provider: provider,
		cache:    cache,
		bucket:   bucket,
		cfg:      cfg.normalize(),
	}
}

// ScheduleEntityEmbedding enqueues an embedding job for the entity. Called
// by the manager after every entity mutation; the actual embedding work
// happens asynchronously on the next processing pass.
func (m *JobManager) ScheduleEntityEmbedding(ctx context.Context, entityName string) (*types.EmbeddingJob, error) {
	return m.store.EnqueueJob(ctx, entityName, m.cfg.MaxAttempts)
}

// ProcessPendingJobs runs one batch: up to BatchSize pending jobs in FIFO
// order. When the rate limiter runs dry the pass stops immediately and the
// remaining jobs stay pending for the next run instead of busy-waiting.
// Failures are isolated per job; one bad job never blocks the batch.
func (m *JobManager) ProcessPendingJobs(ctx context.Context) (*BatchResult, error) {
	if !m.mu.TryLock() {
		return nil, storage.ErrAlreadyProcessing
	}
	defer m.mu.Unlock()

	jobs, err := m.store.PendingJobs(ctx, m.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Claimed: len(jobs)}
	for i := range jobs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		// Gate before doing any work. Out of tokens means stop the whole
		// pass: skipping ahead would break FIFO ordering.
		if !m.bucket.CheckAndConsume() {
			result.RateLimited = true
			result.Claimed = i
			log.Printf("engine: rate limiter exhausted, deferring %d jobs", len(jobs)-i)
			break
		}

		m.processJob(ctx, &jobs[i], result)
	}

	if result.Completed > 0 || result.Failed > 0 || result.Requeued > 0 {
		log.Printf("engine: batch done: %d completed, %d requeued, %d failed",
			result.Completed, result.Requeued, result.Failed)
	}
	return result, nil
}

// processJob runs a single job end to end. A job either fully succeeds or
// fully fails before the processor moves on; in-flight provider calls are
// not cancelled mid-job.
func (m *JobManager) processJob(ctx context.Context, job *types.EmbeddingJob, result *BatchResult) {
	attempts, err := m.store.MarkProcessing(ctx, job.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Claimed by a concurrent processor; not ours anymore.
			return
		}
		log.Printf("engine: failed to claim job %s: %v", job.ID, err)
		return
	}

	vector, model, cacheHit, err := m.embedEntity(ctx, job.EntityName)
	if err == nil {
		err = m.store.UpdateEntityEmbedding(ctx, job.EntityName, types.Embedding{
			Vector: vector,
			Model:  model,
		})
	}

	if err != nil {
		m.finishFailed(ctx, job, attempts, err)
		if attempts >= job.MaxAttempts {
			result.Failed++
		} else {
			result.Requeued++
		}
		return
	}

	if cacheHit {
		result.CacheHits++
	}
	if err := m.store.MarkCompleted(ctx, job.ID); err != nil {
		log.Printf("engine: failed to mark job %s completed: %v", job.ID, err)
		return
	}
	result.Completed++
}

// finishFailed applies the retry policy: back to pending while attempts
// remain, terminal failed once the budget is spent.
func (m *JobManager) finishFailed(ctx context.Context, job *types.EmbeddingJob, attempts int, cause error) {
	if attempts >= job.MaxAttempts {
		if err := m.store.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
			log.Printf("engine: failed to mark job %s failed: %v", job.ID, err)
		}
		log.Printf("engine: job %s for %q failed after %d attempts: %v",
			job.ID, job.EntityName, attempts, cause)
		return
	}

	if err := m.store.RequeueJob(ctx, job.ID, cause.Error()); err != nil {
		log.Printf("engine: failed to requeue job %s: %v", job.ID, err)
		return
	}
	log.Printf("engine: job %s for %q requeued (attempt %d/%d): %v",
		job.ID, job.EntityName, attempts, job.MaxAttempts, cause)
}

// embedEntity resolves the entity's canonical text, consults the cache, and
// calls the provider on a miss.
func (m *JobManager) embedEntity(ctx context.Context, entityName string) (vector []float32, model string, cacheHit bool, err error) {
	entity, err := m.store.GetEntity(ctx, entityName)
	if err != nil {
		return nil, "", false, fmt.Errorf("resolve entity %q: %w", entityName, err)
	}

	text := CanonicalText(entity)
	key := embedding.Key(text)

	if cached, ok := m.cache.Get(key); ok {
		return cached.Vector, cached.Model, true, nil
	}

	vector, err = m.provider.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, "", false, err
	}

	model = m.provider.ModelInfo().Name
	m.cache.Put(key, vector, model)
	return vector, model, false, nil
}

// CanonicalText builds the deterministic text an entity is embedded under:
// name, type and observations, newline-joined. Identical text across
// entities produces identical cache keys.
func CanonicalText(entity *types.Entity) string {
	parts := make([]string, 0, len(entity.Observations)+2)
	parts = append(parts, entity.Name, string(entity.EntityType))
	parts = append(parts, entity.Observations...)
	return strings.Join(parts, "\n")
}

// RetryFailedJobs resets all failed jobs to pending with a fresh attempt
// budget. Explicit operator action.
func (m *JobManager) RetryFailedJobs(ctx context.Context) (int, error) {
	return m.store.ResetFailedJobs(ctx)
}

// CleanupJobs deletes completed jobs older than the configured age.
func (m *JobManager) CleanupJobs(ctx context.Context) (int, error) {
	return m.store.CleanupJobs(ctx, m.cfg.CleanupAge)
}

// QueueStatus returns job counts per status.
func (m *JobManager) QueueStatus(ctx context.Context) (map[types.JobStatus]int, error) {
	return m.store.QueueStatus(ctx)
}
