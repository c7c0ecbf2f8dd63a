package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/timegraph/timegraph/internal/storage"
	"github.com/timegraph/timegraph/pkg/types"
)

const entityColumns = `id, name, entity_type, observations, version, created_at, updated_at, valid_from, valid_to, changed_by`

// scanEntityVersion scans one entity_versions row. The row argument works
// for both *sql.Row and *sql.Rows.
func scanEntityVersion(row interface {
	Scan(dest ...interface{}) error
}) (*types.TemporalEntity, error) {
	var (
		e        types.TemporalEntity
		obsJSON  []byte
		validTo  sql.NullInt64
		changed  sql.NullString
		entityTy string
	)

	err := row.Scan(&e.ID, &e.Name, &entityTy, &obsJSON, &e.Version,
		&e.CreatedAt, &e.UpdatedAt, &e.ValidFrom, &validTo, &changed)
	if err != nil {
		return nil, err
	}

	e.EntityType = types.EntityType(entityTy)
	if len(obsJSON) > 0 {
		if err := json.Unmarshal(obsJSON, &e.Observations); err != nil {
			return nil, fmt.Errorf("postgres: failed to unmarshal observations: %w", err)
		}
	}
	if validTo.Valid {
		e.ValidTo = &validTo.Int64
	}
	if changed.Valid {
		e.ChangedBy = changed.String
	}
	return &e, nil
}

// insertEntityVersion writes one version row inside a transaction.
func insertEntityVersion(ctx context.Context, tx *sql.Tx, e *types.TemporalEntity) error {
	obsJSON, err := json.Marshal(e.Observations)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal observations: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entity_versions (`+entityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.Name, string(e.EntityType), string(obsJSON), e.Version,
		e.CreatedAt, e.UpdatedAt, e.ValidFrom, nullableInt64(e.ValidTo), nullableString(e.ChangedBy),
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert entity version: %w", err)
	}
	return nil
}

// currentEntityTx fetches the current version of an entity inside a
// transaction, locking the row so a concurrent close-and-insert waits.
func currentEntityTx(ctx context.Context, tx *sql.Tx, name string) (*types.TemporalEntity, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+entityColumns+` FROM entity_versions
		WHERE name = $1 AND valid_to IS NULL
		FOR UPDATE`, name)

	e, err := scanEntityVersion(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load current entity: %w", err)
	}
	return e, nil
}

// latestEntityVersionTx returns the highest version ever recorded for a
// name, 0 when the name has no history.
func latestEntityVersionTx(ctx context.Context, tx *sql.Tx, name string) (int, error) {
	var v sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM entity_versions WHERE name = $1`, name).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to read latest entity version: %w", err)
	}
	return int(v.Int64), nil
}

// CreateEntities inserts a new version for each entity. A conflict is only
// raised when a current version exists; a previously deleted name is
// re-created and its version numbering resumes after the historical rows.
// The whole batch is one transaction: a conflict or validation failure on
// any input rolls back all of them.
func (s *Store) CreateEntities(ctx context.Context, entities []types.Entity, changedBy string) ([]types.TemporalEntity, error) {
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: no entities given", storage.ErrInvalidInput)
	}
	for i := range entities {
		if err := entities[i].Validate(); err != nil {
			return nil, err
		}
	}

	now := s.now()
	created := make([]types.TemporalEntity, 0, len(entities))

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range entities {
			if _, err := currentEntityTx(ctx, tx, entities[i].Name); err == nil {
				return fmt.Errorf("%w: entity %q", storage.ErrConflict, entities[i].Name)
			} else if err != storage.ErrNotFound {
				return err
			}

			prevVersion, err := latestEntityVersionTx(ctx, tx, entities[i].Name)
			if err != nil {
				return err
			}

			te := types.TemporalEntity{
				Entity:    entities[i],
				ID:        uuid.New().String(),
				Version:   prevVersion + 1,
				CreatedAt: now,
				UpdatedAt: now,
				ValidFrom: now,
				ChangedBy: changedBy,
			}
			te.Embedding = nil // embeddings are written via UpdateEntityEmbedding only

			if err := insertEntityVersion(ctx, tx, &te); err != nil {
				return err
			}
			created = append(created, te)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateEntity closes the current version and inserts the next one with the
// patch merged onto the previous snapshot.
func (s *Store) UpdateEntity(ctx context.Context, name string, patch types.EntityPatch, changedBy string) (*types.TemporalEntity, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var next *types.TemporalEntity
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		prev, err := currentEntityTx(ctx, tx, name)
		if err != nil {
			return err
		}

		now := s.now()
		merged := prev.Entity
		if patch.EntityType != nil {
			merged.EntityType = *patch.EntityType
		}
		if patch.Observations != nil {
			merged.Observations = patch.Observations
		}

		if err := closeEntityVersionTx(ctx, tx, name, now); err != nil {
			return err
		}

		te := types.TemporalEntity{
			Entity:    merged,
			ID:        uuid.New().String(),
			Version:   prev.Version + 1,
			CreatedAt: now,
			UpdatedAt: now,
			ValidFrom: now,
			ChangedBy: changedBy,
		}
		if err := insertEntityVersion(ctx, tx, &te); err != nil {
			return err
		}
		next = &te
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// closeEntityVersionTx sets valid_to on the current version of an entity.
func closeEntityVersionTx(ctx context.Context, tx *sql.Tx, name string, now int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE entity_versions SET valid_to = $1
		WHERE name = $2 AND valid_to IS NULL`, now, name)
	if err != nil {
		return fmt.Errorf("postgres: failed to close entity version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteEntities closes the current version of each named entity and
// cascades to relations referencing the name. All-or-nothing.
func (s *Store) DeleteEntities(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: no names given", storage.ErrInvalidInput)
	}

	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, name := range names {
			if err := closeEntityVersionTx(ctx, tx, name, now); err != nil {
				if err == storage.ErrNotFound {
					return fmt.Errorf("%w: entity %q", storage.ErrNotFound, name)
				}
				return err
			}

			// Cascade: close relations touching the deleted entity.
			if _, err := tx.ExecContext(ctx, `
				UPDATE relation_versions SET valid_to = $1
				WHERE (from_name = $2 OR to_name = $2) AND valid_to IS NULL`,
				now, name); err != nil {
				return fmt.Errorf("postgres: failed to cascade relation close: %w", err)
			}

			// Deleted entities leave the vector index.
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM entity_embeddings WHERE entity_name = $1`, name); err != nil {
				return fmt.Errorf("postgres: failed to drop embedding: %w", err)
			}
		}
		return nil
	})
}

// GetEntity returns the current version of the entity with its embedding
// attached when one exists.
func (s *Store) GetEntity(ctx context.Context, name string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entityColumns+` FROM entity_versions
		WHERE name = $1 AND valid_to IS NULL`, name)

	te, err := scanEntityVersion(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get entity: %w", err)
	}

	emb, err := s.GetEntityEmbedding(ctx, name)
	if err != nil && err != storage.ErrNotFound {
		return nil, err
	}
	te.Entity.Embedding = emb
	return &te.Entity, nil
}

// GetEntityHistory returns all versions of the entity, oldest first.
func (s *Store) GetEntityHistory(ctx context.Context, name string) ([]types.TemporalEntity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entityColumns+` FROM entity_versions
		WHERE name = $1 ORDER BY version ASC`, name)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query entity history: %w", err)
	}
	defer rows.Close()

	var history []types.TemporalEntity
	for rows.Next() {
		e, err := scanEntityVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan entity version: %w", err)
		}
		history = append(history, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating entity history: %w", err)
	}
	if len(history) == 0 {
		return nil, storage.ErrNotFound
	}
	return history, nil
}

// AddObservations appends observations not already present, as a new
// version. Returns only the newly appended observations.
func (s *Store) AddObservations(ctx context.Context, name string, observations []string) ([]string, error) {
	if len(observations) == 0 {
		return nil, fmt.Errorf("%w: no observations given", storage.ErrInvalidInput)
	}
	for _, obs := range observations {
		if err := types.ValidateObservation(obs); err != nil {
			return nil, err
		}
	}

	var added []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		prev, err := currentEntityTx(ctx, tx, name)
		if err != nil {
			return err
		}

		existing := make(map[string]bool, len(prev.Observations))
		for _, obs := range prev.Observations {
			existing[obs] = true
		}
		for _, obs := range observations {
			if !existing[obs] {
				existing[obs] = true
				added = append(added, obs)
			}
		}
		if len(added) == 0 {
			return nil
		}

		now := s.now()
		merged := prev.Entity
		merged.Observations = append(append([]string{}, prev.Observations...), added...)

		if err := closeEntityVersionTx(ctx, tx, name, now); err != nil {
			return err
		}
		return insertEntityVersion(ctx, tx, &types.TemporalEntity{
			Entity:    merged,
			ID:        uuid.New().String(),
			Version:   prev.Version + 1,
			CreatedAt: now,
			UpdatedAt: now,
			ValidFrom: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// DeleteObservations removes matching observations as a new version.
// Unmatched strings are a no-op; when nothing matches, no version is created.
func (s *Store) DeleteObservations(ctx context.Context, name string, observations []string) error {
	if len(observations) == 0 {
		return fmt.Errorf("%w: no observations given", storage.ErrInvalidInput)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		prev, err := currentEntityTx(ctx, tx, name)
		if err != nil {
			return err
		}

		remove := make(map[string]bool, len(observations))
		for _, obs := range observations {
			remove[obs] = true
		}

		var kept []string
		for _, obs := range prev.Observations {
			if !remove[obs] {
				kept = append(kept, obs)
			}
		}
		if len(kept) == len(prev.Observations) {
			return nil
		}

		now := s.now()
		merged := prev.Entity
		merged.Observations = kept

		if err := closeEntityVersionTx(ctx, tx, name, now); err != nil {
			return err
		}
		return insertEntityVersion(ctx, tx, &types.TemporalEntity{
			Entity:    merged,
			ID:        uuid.New().String(),
			Version:   prev.Version + 1,
			CreatedAt: now,
			UpdatedAt: now,
			ValidFrom: now,
		})
	})
}
