package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/timegraph/timegraph/internal/embedding"
	"github.com/timegraph/timegraph/internal/storage"
	"github.com/timegraph/timegraph/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, *embedding.MockProvider) {
	t.Helper()
	store := newTestStore(t)
	provider := embedding.NewMockProvider(4)
	jm := newTestJobManager(t, store, provider, 100)
	return NewManager(store, jm, provider, DecayConfig{}), provider
}

func TestCreateEntitiesSchedulesEmbeddingJobs(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateEntities(ctx, []types.Entity{
		{Name: "a", EntityType: types.EntityConcept},
		{Name: "b", EntityType: types.EntityConcept},
	}, "tester"); err != nil {
		t.Fatalf("CreateEntities failed: %v", err)
	}

	counts, err := m.QueueStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[types.JobPending] != 2 {
		t.Errorf("pending jobs = %d, want 2", counts[types.JobPending])
	}
}

func TestCreateEntitiesRejectsInvalidInput(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.CreateEntities(context.Background(), []types.Entity{
		{Name: "bad name!", EntityType: types.EntityConcept},
	}, "")
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAddObservationsReschedulesOnlyWhenChanged(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateEntities(ctx, []types.Entity{
		{Name: "a", EntityType: types.EntityConcept, Observations: []string{"known"}},
	}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ProcessPendingJobs(ctx); err != nil {
		t.Fatal(err)
	}

	// Duplicate-only input changes nothing and schedules nothing.
	if _, err := m.AddObservations(ctx, "a", []string{"known"}); err != nil {
		t.Fatal(err)
	}
	counts, _ := m.QueueStatus(ctx)
	if counts[types.JobPending] != 0 {
		t.Errorf("no-op add scheduled %d jobs", counts[types.JobPending])
	}

	added, err := m.AddObservations(ctx, "a", []string{"new fact"})
	if err != nil || len(added) != 1 {
		t.Fatalf("AddObservations = %v, %v", added, err)
	}
	counts, _ = m.QueueStatus(ctx)
	if counts[types.JobPending] != 1 {
		t.Errorf("real add scheduled %d jobs, want 1", counts[types.JobPending])
	}
}

func TestGetDecayedGraphHalvesConfidenceAtHalfLife(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	const createdAt = int64(1_700_000_000_000)

	if _, err := m.CreateEntities(ctx, []types.Entity{
		{Name: "api", EntityType: types.EntityProject},
		{Name: "db", EntityType: types.EntityTool},
	}, ""); err != nil {
		t.Fatal(err)
	}

	conf := 0.9
	if _, err := m.CreateRelations(ctx, []types.Relation{{
		From: "api", To: "db", RelationType: types.RelationUses,
		Confidence: &conf,
		Metadata:   &types.RelationMetadata{CreatedAt: createdAt, UpdatedAt: createdAt},
	}}, ""); err != nil {
		t.Fatal(err)
	}

	// Thirty days later the effective confidence has halved; the stored
	// value is untouched.
	m.now = func() int64 { return createdAt + 30*dayMs }

	decayed, err := m.GetDecayedGraph(ctx)
	if err != nil {
		t.Fatalf("GetDecayedGraph failed: %v", err)
	}
	if len(decayed.Relations) != 1 {
		t.Fatalf("relations = %d", len(decayed.Relations))
	}
	if got := *decayed.Relations[0].Confidence; math.Abs(got-0.45) > 1e-9 {
		t.Errorf("decayed confidence = %v, want 0.45", got)
	}

	stored, err := m.ReadGraph(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := *stored.Relations[0].Confidence; got != 0.9 {
		t.Errorf("stored confidence = %v, decay must never persist", got)
	}
}

func TestUpdateRelationResetsDecayReference(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	const createdAt = int64(1_700_000_000_000)

	if _, err := m.CreateEntities(ctx, []types.Entity{
		{Name: "api", EntityType: types.EntityProject},
		{Name: "db", EntityType: types.EntityTool},
	}, ""); err != nil {
		t.Fatal(err)
	}
	conf := 0.9
	key := types.RelationKey{From: "api", To: "db", RelationType: types.RelationUses}
	if _, err := m.CreateRelations(ctx, []types.Relation{{
		From: "api", To: "db", RelationType: types.RelationUses,
		Confidence: &conf,
		Metadata:   &types.RelationMetadata{CreatedAt: createdAt, UpdatedAt: createdAt},
	}}, ""); err != nil {
		t.Fatal(err)
	}

	// An update 30 days in moves the reference point, so at day 60 only 30
	// days of decay apply.
	touchedAt := createdAt + 30*dayMs
	if _, err := m.UpdateRelation(ctx, key, types.RelationPatch{
		Metadata: &types.RelationMetadata{UpdatedAt: touchedAt},
	}, ""); err != nil {
		t.Fatal(err)
	}

	m.now = func() int64 { return createdAt + 60*dayMs }
	decayed, err := m.GetDecayedGraph(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := *decayed.Relations[0].Confidence; math.Abs(got-0.45) > 1e-9 {
		t.Errorf("decayed confidence = %v, want 0.45 after reference reset", got)
	}
}

func TestSemanticSearchUsesProviderForQuery(t *testing.T) {
	m, provider := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateEntities(ctx, []types.Entity{
		{Name: "target", EntityType: types.EntityConcept, Observations: []string{"vector search"}},
	}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ProcessPendingJobs(ctx); err != nil {
		t.Fatal(err)
	}

	callsBefore := provider.Calls()
	results, err := m.SemanticSearch(ctx, "vector search", storage.SearchOptions{})
	if err != nil {
		t.Fatalf("SemanticSearch failed: %v", err)
	}
	if provider.Calls() != callsBefore+1 {
		t.Error("query should be embedded through the provider")
	}
	if len(results) != 1 || results[0].Entity.Name != "target" {
		t.Errorf("results = %+v", results)
	}
}

func TestSemanticSearchFallsBackWithoutEmbeddings(t *testing.T) {
	m, provider := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateEntities(ctx, []types.Entity{
		{Name: "findable", EntityType: types.EntityConcept, Observations: []string{"substring target"}},
	}, ""); err != nil {
		t.Fatal(err)
	}
	// No jobs processed: the index is empty.

	callsBefore := provider.Calls()
	results, err := m.SemanticSearch(ctx, "substring", storage.SearchOptions{})
	if err != nil {
		t.Fatalf("SemanticSearch failed: %v", err)
	}
	if provider.Calls() != callsBefore {
		t.Error("fallback must not call the provider")
	}
	if len(results) != 1 || results[0].Entity.Name != "findable" {
		t.Errorf("results = %+v", results)
	}
	if results[0].Similarity != 0 {
		t.Errorf("fallback hits carry no similarity score, got %v", results[0].Similarity)
	}
}

func TestGetEntityEmbeddingRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateEntities(ctx, []types.Entity{
		{Name: "node", EntityType: types.EntityConcept},
	}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ProcessPendingJobs(ctx); err != nil {
		t.Fatal(err)
	}

	emb, err := m.GetEntityEmbedding(ctx, "node")
	if err != nil {
		t.Fatalf("GetEntityEmbedding failed: %v", err)
	}
	if len(emb.Vector) != 4 {
		t.Errorf("vector length = %d, want the mock's dimensionality", len(emb.Vector))
	}
}

func TestEntityAndRelationHistoryThroughFacade(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateEntities(ctx, []types.Entity{
		{Name: "versioned", EntityType: types.EntityConcept},
	}, ""); err != nil {
		t.Fatal(err)
	}
	newType := types.EntityDecision
	if _, err := m.UpdateEntity(ctx, "versioned", types.EntityPatch{EntityType: &newType}, ""); err != nil {
		t.Fatal(err)
	}

	history, err := m.GetEntityHistory(ctx, "versioned")
	if err != nil {
		t.Fatalf("GetEntityHistory failed: %v", err)
	}
	if len(history) != 2 || history[1].EntityType != types.EntityDecision {
		t.Errorf("history = %+v", history)
	}
}
