package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/timegraph/timegraph/internal/storage"
	"github.com/timegraph/timegraph/pkg/types"
)

// UpdateEntityEmbedding writes the embedding for the entity's current
// version. The vector is always stored as little-endian bytes; when pgvector
// is available it is also written to embedding_vec so similarity search can
// use the index.
func (s *Store) UpdateEntityEmbedding(ctx context.Context, name string, emb types.Embedding) error {
	if len(emb.Vector) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}
	if emb.Model == "" {
		return fmt.Errorf("%w: embedding model is required", storage.ErrInvalidInput)
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entity_versions
		WHERE name = $1 AND valid_to IS NULL`, name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: failed to check entity existence: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: entity %q", storage.ErrNotFound, name)
	}

	lastUpdated := emb.LastUpdated
	if lastUpdated == 0 {
		lastUpdated = s.now()
	}

	if s.pgvectorAvailable {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO entity_embeddings (entity_name, embedding, dimension, model, updated_at, embedding_vec)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (entity_name) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				dimension = EXCLUDED.dimension,
				model = EXCLUDED.model,
				updated_at = EXCLUDED.updated_at,
				embedding_vec = EXCLUDED.embedding_vec`,
			name, serializeVector(emb.Vector), len(emb.Vector), emb.Model, lastUpdated,
			pgvector.NewVector(emb.Vector))
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO entity_embeddings (entity_name, embedding, dimension, model, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (entity_name) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				dimension = EXCLUDED.dimension,
				model = EXCLUDED.model,
				updated_at = EXCLUDED.updated_at`,
			name, serializeVector(emb.Vector), len(emb.Vector), emb.Model, lastUpdated)
	}
	if err != nil {
		return fmt.Errorf("postgres: failed to store embedding: %w", err)
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
		FROM entity_embeddings WHERE entity_name = $1`, name).
		Scan(&blob, &dimension, &model, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get embedding: %w", err)
	}

	vector, err := deserializeVector(blob, dimension)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to deserialize embedding: %w", err)
	}
	return &types.Embedding{Vector: vector, Model: model, LastUpdated: lastUpdated}, nil
}

// HasEmbeddings reports whether any embeddings are indexed.
func (s *Store) HasEmbeddings(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entity_embeddings`).Scan(&count); err != nil {
		return false, fmt.Errorf("postgres: failed to count embeddings: %w", err)
	}
	return count > 0, nil
}

// SemanticSearch ranks current entities by cosine similarity to the query
// vector. With pgvector the <=> operator orders by cosine distance using
// the index; without it embeddings are scanned in memory. Scores are
// clamped to [0.0, 1.0].
func (s *Store) SemanticSearch(ctx context.Context, queryVector []float32, opts storage.SearchOptions) ([]storage.ScoredEntity, error) {
	opts.Normalize()
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("%w: query vector cannot be empty", storage.ErrInvalidInput)
	}

	if s.pgvectorAvailable {
		return s.semanticSearchPgvector(ctx, queryVector, opts)
	}
	return s.semanticSearchScan(ctx, queryVector, opts)
}

func (s *Store) semanticSearchPgvector(ctx context.Context, queryVector []float32, opts storage.SearchOptions) ([]storage.ScoredEntity, error) {
	vec := pgvector.NewVector(queryVector)

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.entity_name, 1 - (e.embedding_vec <=> $1) AS similarity
		FROM entity_embeddings e
		JOIN entity_versions v ON v.name = e.entity_name AND v.valid_to IS NULL
		WHERE e.embedding_vec IS NOT NULL
		ORDER BY e.embedding_vec <=> $1
		LIMIT $2`, vec, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search failed: %w", err)
	}
	defer rows.Close()

	var results []storage.ScoredEntity
	for rows.Next() {
		var (
			name string
			sim  float64
		)
		if err := rows.Scan(&name, &sim); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan search hit: %w", err)
		}
		if sim < 0 {
			sim = 0
		}
		if sim < opts.MinSimilarity {
			continue
		}
		entity, err := s.GetEntity(ctx, name)
		if err != nil {
			continue // deleted between queries
		}
		results = append(results, storage.ScoredEntity{Entity: *entity, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating search hits: %w", err)
	}
	return results, nil
}

// semanticSearchMaxCandidates caps the fallback in-memory scan.
const semanticSearchMaxCandidates = 10_000

func (s *Store) semanticSearchScan(ctx context.Context, queryVector []float32, opts storage.SearchOptions) ([]storage.ScoredEntity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.entity_name, e.embedding, e.dimension
		FROM entity_embeddings e
		JOIN entity_versions v ON v.name = e.entity_name AND v.valid_to IS NULL
		ORDER BY e.updated_at DESC
		LIMIT $1`, semanticSearchMaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load embeddings: %w", err)
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
			return nil, fmt.Errorf("postgres: failed to scan embedding: %w", err)
		}
		vector, err := deserializeVector(blob, dim)
		if err != nil {
			continue
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
		return nil, fmt.Errorf("postgres: error iterating embeddings: %w", err)
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
			continue
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
