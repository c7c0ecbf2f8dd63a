package sqlite

import (
	"testing"
)

// newTestStore creates an in-memory SQLite store for testing. New applies
// the full Schema, so no additional DDL is required in tests.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// fixedClock pins the store's clock to a controllable epoch-ms value so
// tests can place versions at exact timestamps.
type fixedClock struct {
	ms int64
}

func (c *fixedClock) Now() int64 { return c.ms }

func (c *fixedClock) Advance(deltaMs int64) { c.ms += deltaMs }

// newClockedStore returns a test store whose clock starts at startMs.
func newClockedStore(t *testing.T, startMs int64) (*Store, *fixedClock) {
	t.Helper()
	store := newTestStore(t)
	clock := &fixedClock{ms: startMs}
	store.now = clock.Now
	return store, clock
}
