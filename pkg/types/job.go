package types

// JobStatus is the state of an embedding job.
type JobStatus string

// Job lifecycle: pending -> processing -> completed, or back to pending
// while attempts remain, or failed once attempts are exhausted.
const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// EmbeddingJob is a persisted unit of embedding work for one entity.
// Jobs survive process restarts; the batch processor drains them FIFO by
// CreatedAt so old jobs are never starved.
type EmbeddingJob struct {
	ID          string    `json:"id"` // UUID
	EntityName  string    `json:"entity_name"`
	Status      JobStatus `json:"status"`
	CreatedAt   int64     `json:"created_at"`             // epoch milliseconds
	ProcessedAt *int64    `json:"processed_at,omitempty"` // set on terminal transition
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	Error       string    `json:"error,omitempty"` // last failure message
}

// Terminal reports whether the job has reached a terminal status.
func (j *EmbeddingJob) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}
