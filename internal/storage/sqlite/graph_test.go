package sqlite

import (
	"context"
	"testing"

	"github.com/timegraph/timegraph/pkg/types"
)

func TestReadGraph(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedEntities(t, store, "a", "b", "c")
	if _, err := store.CreateRelations(ctx, []types.Relation{
		{From: "a", To: "b", RelationType: types.RelationUses},
	}, ""); err != nil {
		t.Fatalf("create relation failed: %v", err)
	}

	graph, err := store.ReadGraph(ctx)
	if err != nil {
		t.Fatalf("ReadGraph failed: %v", err)
	}
	if len(graph.Entities) != 3 {
		t.Errorf("entities = %d, want 3", len(graph.Entities))
	}
	if len(graph.Relations) != 1 {
		t.Errorf("relations = %d, want 1", len(graph.Relations))
	}
}

func TestGetGraphAtTimeHalfOpenBoundaries(t *testing.T) {
	store, clock := newClockedStore(t, 10_000)
	ctx := context.Background()

	seedEntities(t, store, "node")

	clock.Advance(10_000) // close at t=20_000
	newType := types.EntityTool
	if _, err := store.UpdateEntity(ctx, "node", types.EntityPatch{EntityType: &newType}, ""); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	cases := []struct {
		name     string
		ts       int64
		wantType types.EntityType
		wantHit  bool
	}{
		{"before creation", 9_999, "", false},
		{"at validFrom (inclusive)", 10_000, types.EntityConcept, true},
		{"inside first range", 15_000, types.EntityConcept, true},
		{"at boundary, new version wins", 20_000, types.EntityTool, true},
		{"after update", 25_000, types.EntityTool, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			graph, err := store.GetGraphAtTime(ctx, tc.ts)
			if err != nil {
				t.Fatalf("GetGraphAtTime failed: %v", err)
			}
			if !tc.wantHit {
				if len(graph.Entities) != 0 {
					t.Fatalf("expected empty graph at %d, got %d entities", tc.ts, len(graph.Entities))
				}
				return
			}
			if len(graph.Entities) != 1 {
				t.Fatalf("expected 1 entity at %d, got %d", tc.ts, len(graph.Entities))
			}
			if graph.Entities[0].EntityType != tc.wantType {
				t.Errorf("entityType at %d = %q, want %q", tc.ts, graph.Entities[0].EntityType, tc.wantType)
			}
		})
	}
}

func TestGetGraphAtTimeSeesDeletedEntities(t *testing.T) {
	store, clock := newClockedStore(t, 10_000)
	ctx := context.Background()

	seedEntities(t, store, "gone")
	clock.Advance(10_000)
	if err := store.DeleteEntities(ctx, []string{"gone"}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	graph, err := store.GetGraphAtTime(ctx, 15_000)
	if err != nil {
		t.Fatalf("GetGraphAtTime failed: %v", err)
	}
	if len(graph.Entities) != 1 {
		t.Fatalf("deleted entity should be visible before its deletion, got %d", len(graph.Entities))
	}

	graph, err = store.GetGraphAtTime(ctx, 20_000)
	if err != nil {
		t.Fatalf("GetGraphAtTime failed: %v", err)
	}
	if len(graph.Entities) != 0 {
		t.Errorf("deletion timestamp is exclusive of the old version, got %d entities", len(graph.Entities))
	}
}

func TestSearchNodes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateEntities(ctx, []types.Entity{
		{Name: "payments", EntityType: types.EntityProject, Observations: []string{"handles billing"}},
		{Name: "search", EntityType: types.EntityFeature, Observations: []string{"full text"}},
	}, ""); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	graph, err := store.SearchNodes(ctx, "billing")
	if err != nil {
		t.Fatalf("SearchNodes failed: %v", err)
	}
	if len(graph.Entities) != 1 || graph.Entities[0].Name != "payments" {
		t.Errorf("search hit = %+v", graph.Entities)
	}

	// LIKE wildcards in the query are matched literally, not as wildcards.
	graph, err = store.SearchNodes(ctx, "%")
	if err != nil {
		t.Fatalf("SearchNodes failed: %v", err)
	}
	if len(graph.Entities) != 0 {
		t.Errorf("wildcard should be literal, matched %d entities", len(graph.Entities))
	}
}

func TestOpenNodesSkipsUnknownAndFiltersRelations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedEntities(t, store, "a", "b", "c")
	if _, err := store.CreateRelations(ctx, []types.Relation{
		{From: "a", To: "b", RelationType: types.RelationUses},
		{From: "b", To: "c", RelationType: types.RelationUses},
	}, ""); err != nil {
		t.Fatalf("create relations failed: %v", err)
	}

	graph, err := store.OpenNodes(ctx, []string{"a", "b", "ghost"})
	if err != nil {
		t.Fatalf("OpenNodes failed: %v", err)
	}
	if len(graph.Entities) != 2 {
		t.Errorf("entities = %d, want 2", len(graph.Entities))
	}
	// Only a->b qualifies; b->c has an endpoint outside the set.
	if len(graph.Relations) != 1 || graph.Relations[0].To != "b" {
		t.Errorf("relations = %+v", graph.Relations)
	}
}
