package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/timegraph/timegraph/internal/storage"
	"github.com/timegraph/timegraph/pkg/types"
)

// UpdateEntityEmbedding writes the embedding for the entity's current
// version and refreshes the vector index. No new temporal version is
// created: embeddings are metadata, not graph content.
func (s *Store) UpdateEntityEmbedding(ctx context.Context, name string, emb types.Embedding) error {
	if len(emb.Vector) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}
	if emb.Model == "" {
		return fmt.Errorf("%w: embedding model is required", storage.ErrInvalidInput)
	}

	// The entity must have a current version; embeddings for deleted or
	// unknown entities are rejected rather than silently indexed.
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entity_versions
		WHERE name = ? AND valid_to IS NULL`, name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("sqlite: failed to check entity existence: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: entity %q", storage.ErrNotFound, name)
	}

	lastUpdated := emb.LastUpdated
	if lastUpdated == 0 {
		lastUpdated = s.now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entity_embeddings (entity_name, embedding, dimension, model, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_name) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model = excluded.model,
			updated_at = excluded.updated_at`,
		name, serializeVector(emb.Vector), len(emb.Vector), emb.Model, lastUpdated)
	if err != nil {
		return fmt.Errorf("sqlite: failed to store embedding: %w", err)
	}
	return nil
}

// GetEntityEmbedding returns the stored embedding for the entity.
func (s *Store) GetEntityEmbedding(ctx context.Context, name string) (*types.Embedding, error) {
	var (
		blob        []byte
		dimension   int
		model       string
		lastUpdated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT embedding, dimension, model, updated_at
		FROM entity_embeddings WHERE entity_name = ?`, name).
		Scan(&blob, &dimension, &model, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get embedding: %w", err)
	}

	vector, err := deserializeVector(blob, dimension)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to deserialize embedding: %w", err)
	}
	return &types.Embedding{Vector: vector, Model: model, LastUpdated: lastUpdated}, nil
}

// HasEmbeddings reports whether any embeddings are indexed.
func (s *Store) HasEmbeddings(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entity_embeddings`).Scan(&count); err != nil {
		return false, fmt.Errorf("sqlite: failed to count embeddings: %w", err)
	}
	return count > 0, nil
}

// semanticSearchMaxCandidates caps the number of embeddings loaded into Go
// memory during a search. Candidates are taken in recency order so newly
// embedded entities are always considered. For larger datasets the Postgres
// backend's pgvector index is the right tool.
const semanticSearchMaxCandidates = 10_000

// SemanticSearch ranks current entities by cosine similarity to the query
// vector. Scores are clamped to [0.0, 1.0]; anti-correlated vectors score 0.
func (s *Store) SemanticSearch(ctx context.Context, queryVector []float32, opts storage.SearchOptions) ([]storage.ScoredEntity, error) {
	opts.Normalize()
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("%w: query vector cannot be empty", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.entity_name, e.embedding, e.dimension
		FROM entity_embeddings e
		JOIN entity_versions v ON v.name = e.entity_name AND v.valid_to IS NULL
		ORDER BY e.updated_at DESC
		LIMIT ?`, semanticSearchMaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load embeddings: %w", err)
	}
	defer rows.Close()

	type scored struct {
		name  string
		score float64
	}
	var candidates []scored

	for rows.Next() {
		var (
			name string
			blob []byte
			dim  int
		)
		if err := rows.Scan(&name, &blob, &dim); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan embedding: %w", err)
		}
		vector, err := deserializeVector(blob, dim)
		if err != nil {
			continue // index entry from an older model shape; skip
		}
		sim := cosineSimilarity(queryVector, vector)
		if sim < 0 {
			sim = 0
		}
		if sim >= opts.MinSimilarity {
			candidates = append(candidates, scored{name, sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating embeddings: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	results := make([]storage.ScoredEntity, 0, len(candidates))
	for _, c := range candidates {
		entity, err := s.GetEntity(ctx, c.name)
		if err != nil {
			continue // deleted between queries
		}
		results = append(results, storage.ScoredEntity{Entity: *entity, Similarity: c.score})
	}
	return results, nil
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched dimensions or zero vectors yield 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// serializeVector converts a float32 slice to little-endian bytes.
func serializeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector converts little-endian bytes back to a float32 slice.
// dimension validates the buffer size.
func deserializeVector(buf []byte, dimension int) ([]float32, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}
	if len(buf) != dimension*4 {
		return nil, fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", dimension*4, len(buf))
	}
	vector := make([]float32, dimension)
	for i := 0; i < dimension; i++ {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vector, nil
}
