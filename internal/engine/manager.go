package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/timegraph/timegraph/internal/embedding"
	"github.com/timegraph/timegraph/internal/storage"
	"github.com/timegraph/timegraph/pkg/types"
)

// Manager is the public face of the knowledge graph. It validates input,
// delegates persistence to the store, schedules embedding work after entity
// mutations, and layers read-time confidence decay and semantic search on
// top of the raw storage operations.
//
// Decay is computed here, never persisted: the same stored relation yields
// different confidences at different read times.
type Manager struct {
	store    storage.Store
	jobs     *JobManager
	provider embedding.Provider
	decay    DecayConfig

	now func() int64
}

// NewManager wires the facade. The provider is used only for embedding
// search queries; entity embeddings go through the job pipeline.
func NewManager(store storage.Store, jobs *JobManager, provider embedding.Provider, decay DecayConfig) *Manager {
	return &Manager{
		store:    store,
		jobs:     jobs,
		provider: provider,
		decay:    decay.normalize(),
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// CreateEntities validates and persists new entities, then schedules an
// embedding job for each one. Scheduling failures are logged, not returned:
// the graph write already committed and the job can be re-enqueued later.
func (m *Manager) CreateEntities(ctx context.Context, entities []types.Entity, changedBy string) ([]types.TemporalEntity, error) {
	for i := range entities {
		if err := entities[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
	}

	created, err := m.store.CreateEntities(ctx, entities, changedBy)
	if err != nil {
		return nil, err
	}

	for i := range created {
		m.scheduleEmbedding(ctx, created[i].Name)
	}
	return created, nil
}

// UpdateEntity applies a patch as a new version and reschedules embedding,
// since the canonical text may have changed.
func (m *Manager) UpdateEntity(ctx context.Context, name string, patch types.EntityPatch, changedBy string) (*types.TemporalEntity, error) {
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	updated, err := m.store.UpdateEntity(ctx, name, patch, changedBy)
	if err != nil {
		return nil, err
	}

	m.scheduleEmbedding(ctx, name)
	return updated, nil
}

// DeleteEntities soft-deletes entities and cascades to their relations.
func (m *Manager) DeleteEntities(ctx context.Context, names []string) error {
	return m.store.DeleteEntities(ctx, names)
}

// AddObservations appends new observations and reschedules embedding when
// anything actually changed.
func (m *Manager) AddObservations(ctx context.Context, name string, observations []string) ([]string, error) {
	for _, obs := range observations {
		if err := types.ValidateObservation(obs); err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
	}

	added, err := m.store.AddObservations(ctx, name, observations)
	if err != nil {
		return nil, err
	}

	if len(added) > 0 {
		m.scheduleEmbedding(ctx, name)
	}
	return added, nil
}

// DeleteObservations removes observations and reschedules embedding.
func (m *Manager) DeleteObservations(ctx context.Context, name string, observations []string) error {
	if err := m.store.DeleteObservations(ctx, name, observations); err != nil {
		return err
	}
	m.scheduleEmbedding(ctx, name)
	return nil
}

// CreateRelations validates and persists new relations.
func (m *Manager) CreateRelations(ctx context.Context, relations []types.Relation, changedBy string) ([]types.TemporalRelation, error) {
	for i := range relations {
		if err := relations[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
	}
	return m.store.CreateRelations(ctx, relations, changedBy)
}

// UpdateRelation applies a patch to the current version of a relation.
func (m *Manager) UpdateRelation(ctx context.Context, key types.RelationKey, patch types.RelationPatch, changedBy string) (*types.TemporalRelation, error) {
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	return m.store.UpdateRelation(ctx, key, patch, changedBy)
}

// DeleteRelations soft-deletes the given relations.
func (m *Manager) DeleteRelations(ctx context.Context, keys []types.RelationKey) error {
	return m.store.DeleteRelations(ctx, keys)
}

// GetRelation returns the current version of a relation.
func (m *Manager) GetRelation(ctx context.Context, key types.RelationKey) (*types.Relation, error) {
	return m.store.GetRelation(ctx, key)
}

// ReadGraph returns the full current graph with stored confidences.
func (m *Manager) ReadGraph(ctx context.Context) (*types.KnowledgeGraph, error) {
	return m.store.ReadGraph(ctx)
}

// SearchNodes runs a literal substring search over current entities.
func (m *Manager) SearchNodes(ctx context.Context, query string) (*types.KnowledgeGraph, error) {
	return m.store.SearchNodes(ctx, query)
}

// OpenNodes returns the named entities and the relations between them.
func (m *Manager) OpenNodes(ctx context.Context, names []string) (*types.KnowledgeGraph, error) {
	return m.store.OpenNodes(ctx, names)
}

// GetEntityHistory returns every version of an entity, oldest first.
func (m *Manager) GetEntityHistory(ctx context.Context, name string) ([]types.TemporalEntity, error) {
	return m.store.GetEntityHistory(ctx, name)
}

// GetRelationHistory returns every version of a relation, oldest first.
func (m *Manager) GetRelationHistory(ctx context.Context, key types.RelationKey) ([]types.TemporalRelation, error) {
	return m.store.GetRelationHistory(ctx, key)
}

// GetGraphAtTime reconstructs the graph as of the given epoch-ms timestamp.
func (m *Manager) GetGraphAtTime(ctx context.Context, ts int64) (*types.KnowledgeGraph, error) {
	return m.store.GetGraphAtTime(ctx, ts)
}

// GetDecayedGraph returns the current graph with relation confidences
// decayed as of now.
func (m *Manager) GetDecayedGraph(ctx context.Context) (*types.KnowledgeGraph, error) {
	graph, err := m.store.ReadGraph(ctx)
	if err != nil {
		return nil, err
	}
	return ApplyDecay(graph, m.now(), m.decay), nil
}

// SemanticSearch embeds the query text and returns the nearest entities by
// cosine similarity. When no embeddings are indexed yet the search degrades
// to a substring match so callers always get an answer.
func (m *Manager) SemanticSearch(ctx context.Context, query string, opts storage.SearchOptions) ([]storage.ScoredEntity, error) {
	indexed, err := m.store.HasEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	if !indexed {
		log.Printf("engine: no embeddings indexed, falling back to substring search for %q", query)
		graph, err := m.store.SearchNodes(ctx, query)
		if err != nil {
			return nil, err
		}
		opts.Normalize()
		scored := make([]storage.ScoredEntity, 0, len(graph.Entities))
		for i := range graph.Entities {
			if len(scored) == opts.Limit {
				break
			}
			scored = append(scored, storage.ScoredEntity{Entity: graph.Entities[i]})
		}
		return scored, nil
	}

	vector, err := m.provider.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return m.store.SemanticSearch(ctx, vector, opts)
}

// SemanticSearchByVector searches with a caller-supplied query vector,
// skipping the provider round-trip.
func (m *Manager) SemanticSearchByVector(ctx context.Context, vector []float32, opts storage.SearchOptions) ([]storage.ScoredEntity, error) {
	return m.store.SemanticSearch(ctx, vector, opts)
}

// GetEntityEmbedding returns the stored embedding for an entity.
func (m *Manager) GetEntityEmbedding(ctx context.Context, name string) (*types.Embedding, error) {
	return m.store.GetEntityEmbedding(ctx, name)
}

// ProcessPendingJobs triggers one embedding batch immediately, outside the
// schedule.
func (m *Manager) ProcessPendingJobs(ctx context.Context) (*BatchResult, error) {
	return m.jobs.ProcessPendingJobs(ctx)
}

// RetryFailedJobs resets failed jobs back to pending.
func (m *Manager) RetryFailedJobs(ctx context.Context) (int, error) {
	return m.jobs.RetryFailedJobs(ctx)
}

// QueueStatus reports embedding job counts per status.
func (m *Manager) QueueStatus(ctx context.Context) (map[types.JobStatus]int, error) {
	return m.jobs.QueueStatus(ctx)
}

func (m *Manager) scheduleEmbedding(ctx context.Context, name string) {
	if _, err := m.jobs.ScheduleEntityEmbedding(ctx, name); err != nil {
		log.Printf("engine: failed to schedule embedding for %q: %v", name, err)
	}
}
