package sqlite

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/timegraph/timegraph/internal/storage"
	"github.com/timegraph/timegraph/pkg/types"
)

func TestEmbeddingRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedEntities(t, store, "node")

	emb := types.Embedding{
		Vector:      []float32{0.1, -0.2, 0.3},
		Model:       "test-model",
		LastUpdated: 123_456,
	}
	if err := store.UpdateEntityEmbedding(ctx, "node", emb); err != nil {
		t.Fatalf("UpdateEntityEmbedding failed: %v", err)
	}

	got, err := store.GetEntityEmbedding(ctx, "node")
	if err != nil {
		t.Fatalf("GetEntityEmbedding failed: %v", err)
	}
	if got.Model != "test-model" || got.LastUpdated != 123_456 {
		t.Errorf("metadata mismatch: %+v", got)
	}
	if len(got.Vector) != 3 {
		t.Fatalf("vector length = %d", len(got.Vector))
	}
	for i, v := range emb.Vector {
		if got.Vector[i] != v {
			t.Errorf("vector[%d] = %v, want %v", i, got.Vector[i], v)
		}
	}

	// GetEntity attaches the embedding.
	entity, err := store.GetEntity(ctx, "node")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if entity.Embedding == nil || entity.Embedding.Model != "test-model" {
		t.Errorf("embedding not attached to entity: %+v", entity.Embedding)
	}
}

func TestUpdateEntityEmbeddingUnknownEntity(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateEntityEmbedding(context.Background(), "ghost", types.Embedding{
		Vector: []float32{1}, Model: "m",
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHasEmbeddings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedEntities(t, store, "node")

	has, err := store.HasEmbeddings(ctx)
	if err != nil || has {
		t.Fatalf("expected no embeddings, got %v, %v", has, err)
	}

	if err := store.UpdateEntityEmbedding(ctx, "node", types.Embedding{
		Vector: []float32{1}, Model: "m",
	}); err != nil {
		t.Fatalf("store embedding failed: %v", err)
	}

	has, err = store.HasEmbeddings(ctx)
	if err != nil || !has {
		t.Fatalf("expected embeddings present, got %v, %v", has, err)
	}
}

func TestSemanticSearchOrdersByCosine(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedEntities(t, store, "exact", "close", "opposite")

	put := func(name string, vec []float32) {
		t.Helper()
		if err := store.UpdateEntityEmbedding(ctx, name, types.Embedding{Vector: vec, Model: "m"}); err != nil {
			t.Fatalf("embedding for %s failed: %v", name, err)
		}
	}
	put("exact", []float32{1, 0})
	put("close", []float32{1, 1})
	put("opposite", []float32{-1, 0})

	results, err := store.SemanticSearch(ctx, []float32{1, 0}, storage.SearchOptions{})
	if err != nil {
		t.Fatalf("SemanticSearch failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Entity.Name != "exact" || math.Abs(results[0].Similarity-1.0) > 1e-9 {
		t.Errorf("top hit = %s (%v)", results[0].Entity.Name, results[0].Similarity)
	}
	if results[1].Entity.Name != "close" {
		t.Errorf("second hit = %s", results[1].Entity.Name)
	}
	// Anti-correlated vectors clamp to 0, never negative.
	if results[2].Entity.Name != "opposite" || results[2].Similarity != 0 {
		t.Errorf("opposite hit = %s (%v)", results[2].Entity.Name, results[2].Similarity)
	}
}

func TestSemanticSearchMinSimilarityAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedEntities(t, store, "exact", "orthogonal")

	if err := store.UpdateEntityEmbedding(ctx, "exact", types.Embedding{Vector: []float32{1, 0}, Model: "m"}); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateEntityEmbedding(ctx, "orthogonal", types.Embedding{Vector: []float32{0, 1}, Model: "m"}); err != nil {
		t.Fatal(err)
	}

	results, err := store.SemanticSearch(ctx, []float32{1, 0}, storage.SearchOptions{MinSimilarity: 0.5})
	if err != nil {
		t.Fatalf("SemanticSearch failed: %v", err)
	}
	if len(results) != 1 || results[0].Entity.Name != "exact" {
		t.Errorf("filtered results = %+v", results)
	}

	results, err = store.SemanticSearch(ctx, []float32{1, 0}, storage.SearchOptions{Limit: 1})
	if err != nil {
		t.Fatalf("SemanticSearch failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("limit not applied, got %d results", len(results))
	}
}

func TestSemanticSearchSkipsDeletedEntities(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedEntities(t, store, "alive", "dead")

	for _, name := range []string{"alive", "dead"} {
		if err := store.UpdateEntityEmbedding(ctx, name, types.Embedding{Vector: []float32{1, 0}, Model: "m"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.DeleteEntities(ctx, []string{"dead"}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	results, err := store.SemanticSearch(ctx, []float32{1, 0}, storage.SearchOptions{})
	if err != nil {
		t.Fatalf("SemanticSearch failed: %v", err)
	}
	if len(results) != 1 || results[0].Entity.Name != "alive" {
		t.Errorf("results = %+v", results)
	}
}

func TestVectorSerializationRoundTrip(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3, -4.5, 0}
	out, err := deserializeVector(serializeVector(in), len(in))
	if err != nil {
		t.Fatalf("deserialize failed: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("vector[%d] = %v, want %v", i, out[i], in[i])
		}
	}

	if _, err := deserializeVector([]byte{1, 2, 3}, 1); err == nil {
		t.Error("expected size mismatch error")
	}
}
