package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/timegraph/timegraph/internal/storage"
	"github.com/timegraph/timegraph/pkg/types"
)

const jobColumns = `id, entity_name, status, created_at, processed_at, attempts, max_attempts, error`

// scanJob scans one embedding_jobs row.
func scanJob(row interface {
	Scan(dest ...interface{}) error
}) (*types.EmbeddingJob, error) {
	var (
		j           types.EmbeddingJob
		status      string
		processedAt sql.NullInt64
		errMsg      sql.NullString
	)
	err := row.Scan(&j.ID, &j.EntityName, &status, &j.CreatedAt,
		&processedAt, &j.Attempts, &j.MaxAttempts, &errMsg)
	if err != nil {
		return nil, err
	}
	j.Status = types.JobStatus(status)
	if processedAt.Valid {
		j.ProcessedAt = &processedAt.Int64
	}
	if errMsg.Valid {
		j.Error = errMsg.String
	}
	return &j, nil
}

// EnqueueJob inserts a new pending embedding job for the entity.
func (s *Store) EnqueueJob(ctx context.Context, entityName string, maxAttempts int) (*types.EmbeddingJob, error) {
	if entityName == "" {
		return nil, fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}
	if maxAttempts < 1 {
		maxAttempts = 3
	}

	job := &types.EmbeddingJob{
		ID:          uuid.New().String(),
		EntityName:  entityName,
		Status:      types.JobPending,
		CreatedAt:   s.now(),
		MaxAttempts: maxAttempts,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embedding_jobs (id, entity_name, status, created_at, attempts, max_attempts)
		VALUES (?, ?, ?, ?, 0, ?)`,
		job.ID, job.EntityName, string(job.Status), job.CreatedAt, job.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to enqueue job: %w", err)
	}
	return job, nil
}

// PendingJobs returns up to limit pending jobs, FIFO by created_at so the
// oldest job is always processed first.
func (s *Store) PendingJobs(ctx context.Context, limit int) ([]types.EmbeddingJob, error) {
	if limit < 1 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM embedding_jobs
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, string(types.JobPending), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.EmbeddingJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating jobs: %w", err)
	}
	return jobs, nil
}

// MarkProcessing claims a pending job: transitions it to processing and
// increments attempts. The status guard in the WHERE clause makes the claim
// safe even if another processor raced us to it.
func (s *Store) MarkProcessing(ctx context.Context, id string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE embedding_jobs
		SET status = ?, attempts = attempts + 1
		WHERE id = ? AND status = ?`,
		string(types.JobProcessing), id, string(types.JobPending))
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to mark job processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return 0, storage.ErrNotFound
	}

	var attempts int
	if err := s.db.QueryRowContext(ctx,
		`SELECT attempts FROM embedding_jobs WHERE id = ?`, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("sqlite: failed to read attempts: %w", err)
	}
	return attempts, nil
}

// MarkCompleted transitions a job to completed and records processed_at.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	return s.setJobTerminal(ctx, id, types.JobCompleted, "")
}

// MarkFailed transitions a job to terminal failed, retaining the last error
// message for diagnostics, and records processed_at.
func (s *Store) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return s.setJobTerminal(ctx, id, types.JobFailed, errMsg)
}

func (s *Store) setJobTerminal(ctx context.Context, id string, status types.JobStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE embedding_jobs
		SET status = ?, processed_at = ?, error = ?
		WHERE id = ?`,
		string(status), s.now(), nullableString(errMsg), id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to finalize job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RequeueJob returns a processing job to pending, preserving attempts, so a
// future batch retries it.
func (s *Store) RequeueJob(ctx context.Context, id string, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE embedding_jobs
		SET status = ?, error = ?
		WHERE id = ?`,
		string(types.JobPending), nullableString(errMsg), id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to requeue job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ResetFailedJobs resets all failed jobs to pending with attempts = 0.
// This is an explicit operator action, never automatic.
func (s *Store) ResetFailedJobs(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE embedding_jobs
		SET status = ?, attempts = 0, error = NULL, processed_at = NULL
		WHERE status = ?`,
		string(types.JobPending), string(types.JobFailed))
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to reset failed jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	return int(n), nil
}

// CleanupJobs deletes completed jobs older than the threshold to bound
// table growth.
func (s *Store) CleanupJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now() - olderThan.Milliseconds()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM embedding_jobs
		WHERE status = ? AND created_at < ?`,
		string(types.JobCompleted), cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to clean up jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	return int(n), nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*types.EmbeddingJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM embedding_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get job: %w", err)
	}
	return j, nil
}

// QueueStatus returns job counts per status for observability.
func (s *Store) QueueStatus(ctx context.Context) (map[types.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM embedding_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query queue status: %w", err)
	}
	defer rows.Close()

	counts := map[types.JobStatus]int{
		types.JobPending:    0,
		types.JobProcessing: 0,
		types.JobCompleted:  0,
		types.JobFailed:     0,
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan queue status: %w", err)
		}
		counts[types.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating queue status: %w", err)
	}
	return counts, nil
}
