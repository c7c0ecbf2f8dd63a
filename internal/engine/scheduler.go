package engine

import (
	"context"
	"errors"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/timegraph/timegraph/internal/storage"
)

// SchedulerConfig holds the cron specs for recurring maintenance.
type SchedulerConfig struct {
	// ProcessSpec drives batch processing (default: every minute).
	ProcessSpec string

	// CleanupSpec drives completed-job GC (default: daily at 03:00).
	CleanupSpec string
}

func (c SchedulerConfig) normalize() SchedulerConfig {
	if c.ProcessSpec == "" {
		c.ProcessSpec = "* * * * *"
	}
	if c.CleanupSpec == "" {
		c.CleanupSpec = "0 3 * * *"
	}
	return c
}

// Scheduler runs the job processor and queue GC on a recurring schedule.
// The processor is single-flight, so an overlapping tick is a logged no-op
// rather than a concurrent batch.
type Scheduler struct {
	cron *cron.Cron
	jobs *JobManager
}

// NewScheduler wires the cron entries. Call Start to begin ticking.
func NewScheduler(jobs *JobManager, cfg SchedulerConfig) (*Scheduler, error) {
	cfg = cfg.normalize()
	c := cron.New()

	_, err := c.AddFunc(cfg.ProcessSpec, func() {
		ctx := context.Background()
		if _, err := jobs.ProcessPendingJobs(ctx); err != nil {
			if errors.Is(err, storage.ErrAlreadyProcessing) {
				log.Printf("engine: skipping tick, previous batch still running")
				return
			}
			log.Printf("engine: scheduled batch failed: %v", err)
		}
	})
	if err != nil {
		return nil, err
	}

	_, err = c.AddFunc(cfg.CleanupSpec, func() {
		n, err := jobs.CleanupJobs(context.Background())
		if err != nil {
			log.Printf("engine: scheduled job cleanup failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("engine: cleaned up %d completed jobs", n)
		}
	})
	if err != nil {
		return nil, err
	}

	return &Scheduler{cron: c, jobs: jobs}, nil
}

// Start begins the schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for any running entries to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
