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

const relationColumns = `id, from_name, to_name, relation_type, strength, confidence, metadata, version, created_at, updated_at, valid_from, valid_to, changed_by`

// scanRelationVersion scans one relation_versions row.
func scanRelationVersion(row interface {
	Scan(dest ...interface{}) error
}) (*types.TemporalRelation, error) {
	var (
		r        types.TemporalRelation
		relType  string
		strength sql.NullFloat64
		conf     sql.NullFloat64
		mdJSON   []byte
		validTo  sql.NullInt64
		changed  sql.NullString
	)

	err := row.Scan(&r.ID, &r.From, &r.To, &relType, &strength, &conf, &mdJSON,
		&r.Version, &r.CreatedAt, &r.UpdatedAt, &r.ValidFrom, &validTo, &changed)
	if err != nil {
		return nil, err
	}

	r.RelationType = types.RelationType(relType)
	if strength.Valid {
		v := strength.Float64
		r.Strength = &v
	}
	if conf.Valid {
		v := conf.Float64
		r.Confidence = &v
	}
	if len(mdJSON) > 0 {
		var md types.RelationMetadata
		if err := json.Unmarshal(mdJSON, &md); err != nil {
			return nil, fmt.Errorf("postgres: failed to unmarshal relation metadata: %w", err)
		}
		r.Metadata = &md
	}
	if validTo.Valid {
		r.ValidTo = &validTo.Int64
	}
	if changed.Valid {
		r.ChangedBy = changed.String
	}
	return &r, nil
}

// insertRelationVersion writes one version row inside a transaction.
func insertRelationVersion(ctx context.Context, tx *sql.Tx, r *types.TemporalRelation) error {
	var mdJSON sql.NullString
	if r.Metadata != nil {
		b, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: failed to marshal relation metadata: %w", err)
		}
		mdJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO relation_versions (`+relationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.From, r.To, string(r.RelationType),
		nullableFloat(r.Strength), nullableFloat(r.Confidence), mdJSON,
		r.Version, r.CreatedAt, r.UpdatedAt, r.ValidFrom,
		nullableInt64(r.ValidTo), nullableString(r.ChangedBy),
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert relation version: %w", err)
	}
	return nil
}

// currentRelationTx fetches the current version of a relation inside a
// transaction, locking the row.
func currentRelationTx(ctx context.Context, tx *sql.Tx, key types.RelationKey) (*types.TemporalRelation, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+relationColumns+` FROM relation_versions
		WHERE from_name = $1 AND to_name = $2 AND relation_type = $3 AND valid_to IS NULL
		FOR UPDATE`,
		key.From, key.To, string(key.RelationType))

	r, err := scanRelationVersion(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load current relation: %w", err)
	}
	return r, nil
}

// latestRelationVersionTx returns the highest version ever recorded for a
// relation key, 0 when the key has no history.
func latestRelationVersionTx(ctx context.Context, tx *sql.Tx, key types.RelationKey) (int, error) {
	var v sql.NullInt64
	err := tx.QueryRowContext(ctx, `
		SELECT MAX(version) FROM relation_versions
		WHERE from_name = $1 AND to_name = $2 AND relation_type = $3`,
		key.From, key.To, string(key.RelationType)).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to read latest relation version: %w", err)
	}
	return int(v.Int64), nil
}

// CreateRelations inserts a new version for each relation. Endpoints must
// have current versions. A previously deleted relation is re-created with
// version numbering resuming after the historical rows. The batch is
// all-or-nothing.
func (s *Store) CreateRelations(ctx context.Context, relations []types.Relation, changedBy string) ([]types.TemporalRelation, error) {
	if len(relations) == 0 {
		return nil, fmt.Errorf("%w: no relations given", storage.ErrInvalidInput)
	}
	for i := range relations {
		if err := relations[i].Validate(); err != nil {
			return nil, err
		}
	}

	now := s.now()
	created := make([]types.TemporalRelation, 0, len(relations))

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range relations {
			rel := relations[i]

			for _, endpoint := range []string{rel.From, rel.To} {
				if _, err := currentEntityTx(ctx, tx, endpoint); err != nil {
					if err == storage.ErrNotFound {
						return fmt.Errorf("%w: entity %q", storage.ErrNotFound, endpoint)
					}
					return err
				}
			}

			if _, err := currentRelationTx(ctx, tx, rel.Key()); err == nil {
				return fmt.Errorf("%w: relation %s -> %s (%s)",
					storage.ErrConflict, rel.From, rel.To, rel.RelationType)
			} else if err != storage.ErrNotFound {
				return err
			}

			// Normalize metadata timestamps at the storage boundary so the
			// decay reference point is always defined.
			md := types.RelationMetadata{}
			if rel.Metadata != nil {
				md = *rel.Metadata
			}
			if md.CreatedAt == 0 {
				md.CreatedAt = now
			}
			if md.UpdatedAt == 0 {
				md.UpdatedAt = now
			}
			rel.Metadata = &md

			prevVersion, err := latestRelationVersionTx(ctx, tx, rel.Key())
			if err != nil {
				return err
			}

			tr := types.TemporalRelation{
				Relation:  rel,
				ID:        uuid.New().String(),
				Version:   prevVersion + 1,
				CreatedAt: now,
				UpdatedAt: now,
				ValidFrom: now,
				ChangedBy: changedBy,
			}
			if err := insertRelationVersion(ctx, tx, &tr); err != nil {
				return err
			}
			created = append(created, tr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateRelation closes the current version and inserts the next one with
// the patch merged onto the previous snapshot. The new version's
// metadata.updatedAt is bumped unless the patch sets it explicitly.
func (s *Store) UpdateRelation(ctx context.Context, key types.RelationKey, patch types.RelationPatch, changedBy string) (*types.TemporalRelation, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var next *types.TemporalRelation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		prev, err := currentRelationTx(ctx, tx, key)
		if err != nil {
			return err
		}

		now := s.now()
		merged := prev.Relation
		if patch.Strength != nil {
			merged.Strength = patch.Strength
		}
		if patch.Confidence != nil {
			merged.Confidence = patch.Confidence
		}

		md := types.RelationMetadata{}
		if merged.Metadata != nil {
			md = *merged.Metadata
		}
		if pm := patch.Metadata; pm != nil {
			if pm.CreatedAt != 0 {
				md.CreatedAt = pm.CreatedAt
			}
			if pm.UpdatedAt != 0 {
				md.UpdatedAt = pm.UpdatedAt
			} else {
				md.UpdatedAt = now
			}
			if pm.InferredFrom != nil {
				md.InferredFrom = pm.InferredFrom
			}
			if pm.LastAccessed != 0 {
				md.LastAccessed = pm.LastAccessed
			}
		} else {
			md.UpdatedAt = now
		}
		if md.CreatedAt != 0 && md.UpdatedAt < md.CreatedAt {
			return &types.ValidationError{Field: "metadata.updatedAt", Reason: "updatedAt must not precede createdAt"}
		}
		merged.Metadata = &md

		if err := closeRelationVersionTx(ctx, tx, key, now); err != nil {
			return err
		}

		tr := types.TemporalRelation{
			Relation:  merged,
			ID:        uuid.New().String(),
			Version:   prev.Version + 1,
			CreatedAt: now,
			UpdatedAt: now,
			ValidFrom: now,
			ChangedBy: changedBy,
		}
		if err := insertRelationVersion(ctx, tx, &tr); err != nil {
			return err
		}
		next = &tr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// closeRelationVersionTx sets valid_to on the current version of a relation.
func closeRelationVersionTx(ctx context.Context, tx *sql.Tx, key types.RelationKey, now int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE relation_versions SET valid_to = $1
		WHERE from_name = $2 AND to_name = $3 AND relation_type = $4 AND valid_to IS NULL`,
		now, key.From, key.To, string(key.RelationType))
	if err != nil {
		return fmt.Errorf("postgres: failed to close relation version: %w", err)
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

// DeleteRelations closes the current versions of the given relations.
// All-or-nothing: an unknown key rolls back the whole call.
func (s *Store) DeleteRelations(ctx context.Context, keys []types.RelationKey) error {
	if len(keys) == 0 {
		return fmt.Errorf("%w: no relation keys given", storage.ErrInvalidInput)
	}

	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, key := range keys {
			if err := closeRelationVersionTx(ctx, tx, key, now); err != nil {
				if err == storage.ErrNotFound {
					return fmt.Errorf("%w: relation %s -> %s (%s)",
						storage.ErrNotFound, key.From, key.To, key.RelationType)
				}
				return err
			}
		}
		return nil
	})
}

// GetRelation returns the current version of the relation.
func (s *Store) GetRelation(ctx context.Context, key types.RelationKey) (*types.Relation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+relationColumns+` FROM relation_versions
		WHERE from_name = $1 AND to_name = $2 AND relation_type = $3 AND valid_to IS NULL`,
		key.From, key.To, string(key.RelationType))

	r, err := scanRelationVersion(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get relation: %w", err)
	}
	return &r.Relation, nil
}

// GetRelationHistory returns all versions of the relation, oldest first.
func (s *Store) GetRelationHistory(ctx context.Context, key types.RelationKey) ([]types.TemporalRelation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relationColumns+` FROM relation_versions
		WHERE from_name = $1 AND to_name = $2 AND relation_type = $3
		ORDER BY version ASC`,
		key.From, key.To, string(key.RelationType))
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query relation history: %w", err)
	}
	defer rows.Close()

	var history []types.TemporalRelation
	for rows.Next() {
		r, err := scanRelationVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan relation version: %w", err)
		}
		history = append(history, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating relation history: %w", err)
	}
	if len(history) == 0 {
		return nil, storage.ErrNotFound
	}
	return history, nil
}
