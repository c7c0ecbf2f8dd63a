package engine

import (
	"testing"

	"github.com/timegraph/timegraph/internal/embedding"
)

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	store := newTestStore(t)
	jm := newTestJobManager(t, store, embedding.NewMockProvider(4), 100)

	if _, err := NewScheduler(jm, SchedulerConfig{ProcessSpec: "not a cron spec"}); err == nil {
		t.Error("expected error for malformed process spec")
	}
	if _, err := NewScheduler(jm, SchedulerConfig{CleanupSpec: "* * *"}); err == nil {
		t.Error("expected error for malformed cleanup spec")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	store := newTestStore(t)
	jm := newTestJobManager(t, store, embedding.NewMockProvider(4), 100)

	s, err := NewScheduler(jm, SchedulerConfig{})
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}

	s.Start()
	s.Stop()
}
