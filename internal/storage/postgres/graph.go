package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/timegraph/timegraph/pkg/types"
)

// queryEntities runs an entity_versions query and returns the snapshots.
func (s *Store) queryEntities(ctx context.Context, query string, args ...interface{}) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []types.Entity
	for rows.Next() {
		e, err := scanEntityVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan entity: %w", err)
		}
		entities = append(entities, e.Entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating entities: %w", err)
	}
	return entities, nil
}

// queryRelations runs a relation_versions query and returns the snapshots.
func (s *Store) queryRelations(ctx context.Context, query string, args ...interface{}) ([]types.Relation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query relations: %w", err)
	}
	defer rows.Close()

	var relations []types.Relation
	for rows.Next() {
		r, err := scanRelationVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan relation: %w", err)
		}
		relations = append(relations, r.Relation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating relations: %w", err)
	}
	return relations, nil
}

// ReadGraph returns the full current graph.
func (s *Store) ReadGraph(ctx context.Context) (*types.KnowledgeGraph, error) {
	entities, err := s.queryEntities(ctx, `
		SELECT `+entityColumns+` FROM entity_versions
		WHERE valid_to IS NULL ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}

	relations, err := s.queryRelations(ctx, `
		SELECT `+relationColumns+` FROM relation_versions
		WHERE valid_to IS NULL ORDER BY from_name ASC, to_name ASC`)
	if err != nil {
		return nil, err
	}

	return &types.KnowledgeGraph{Entities: entities, Relations: relations}, nil
}

// GetGraphAtTime reconstructs the graph as of the given epoch-ms timestamp.
// Range semantics are half-open: valid_from inclusive, valid_to exclusive.
func (s *Store) GetGraphAtTime(ctx context.Context, ts int64) (*types.KnowledgeGraph, error) {
	entities, err := s.queryEntities(ctx, `
		SELECT `+entityColumns+` FROM entity_versions
		WHERE valid_from <= $1 AND (valid_to IS NULL OR valid_to > $1)
		ORDER BY name ASC`, ts)
	if err != nil {
		return nil, err
	}

	relations, err := s.queryRelations(ctx, `
		SELECT `+relationColumns+` FROM relation_versions
		WHERE valid_from <= $1 AND (valid_to IS NULL OR valid_to > $1)
		ORDER BY from_name ASC, to_name ASC`, ts)
	if err != nil {
		return nil, err
	}

	return &types.KnowledgeGraph{Entities: entities, Relations: relations}, nil
}

// SearchNodes performs a case-insensitive substring search over name, type
// and observations of current entities. Relations are included when both
// endpoints matched.
func (s *Store) SearchNodes(ctx context.Context, query string) (*types.KnowledgeGraph, error) {
	pattern := "%" + escapeLike(query) + "%"

	entities, err := s.queryEntities(ctx, `
		SELECT `+entityColumns+` FROM entity_versions
		WHERE valid_to IS NULL
		  AND (name ILIKE $1
		       OR entity_type ILIKE $1
		       OR observations::text ILIKE $1)
		ORDER BY name ASC`, pattern)
	if err != nil {
		return nil, err
	}

	return s.graphAmong(ctx, entities)
}

// OpenNodes returns the current entities with the given names and the
// relations between them. Unknown names are skipped, not errors.
func (s *Store) OpenNodes(ctx context.Context, names []string) (*types.KnowledgeGraph, error) {
	if len(names) == 0 {
		return &types.KnowledgeGraph{}, nil
	}

	entities, err := s.queryEntities(ctx, `
		SELECT `+entityColumns+` FROM entity_versions
		WHERE valid_to IS NULL AND name = ANY($1)
		ORDER BY name ASC`, pq.Array(names))
	if err != nil {
		return nil, err
	}

	return s.graphAmong(ctx, entities)
}

// graphAmong builds a KnowledgeGraph from the given entities plus the
// current relations whose endpoints are both in the set.
func (s *Store) graphAmong(ctx context.Context, entities []types.Entity) (*types.KnowledgeGraph, error) {
	graph := &types.KnowledgeGraph{Entities: entities}
	if len(entities) == 0 {
		return graph, nil
	}

	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}

	relations, err := s.queryRelations(ctx, `
		SELECT `+relationColumns+` FROM relation_versions
		WHERE valid_to IS NULL AND from_name = ANY($1) AND to_name = ANY($1)`,
		pq.Array(names))
	if err != nil {
		return nil, err
	}
	graph.Relations = relations
	return graph, nil
}

// escapeLike escapes LIKE wildcards so user input is matched literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
