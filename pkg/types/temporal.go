package types

// TemporalEntity wraps an entity snapshot with version bookkeeping. For a
// given name, versions are 1-based and strictly increasing; at most one
// version has ValidTo == nil (the current version). Validity ranges are
// half-open: ValidFrom inclusive, ValidTo exclusive.
type TemporalEntity struct {
	Entity

	ID        string `json:"id"`      // stable internal identifier for this version row
	Version   int    `json:"version"` // 1-based, strictly increasing per name
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
	ValidFrom int64  `json:"validFrom"`
	ValidTo   *int64 `json:"validTo,omitempty"` // nil while current
	ChangedBy string `json:"changedBy,omitempty"`
}

// IsCurrent reports whether this version is the live one.
func (e *TemporalEntity) IsCurrent() bool {
	return e.ValidTo == nil
}

// ValidAt reports whether this version was current at the given epoch-ms
// timestamp (ValidFrom inclusive, ValidTo exclusive).
func (e *TemporalEntity) ValidAt(ts int64) bool {
	if ts < e.ValidFrom {
		return false
	}
	return e.ValidTo == nil || ts < *e.ValidTo
}

// TemporalRelation wraps a relation snapshot with version bookkeeping,
// keyed by (from, to, relationType).
type TemporalRelation struct {
	Relation

	ID        string `json:"id"`
	Version   int    `json:"version"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
	ValidFrom int64  `json:"validFrom"`
	ValidTo   *int64 `json:"validTo,omitempty"`
	ChangedBy string `json:"changedBy,omitempty"`
}

// IsCurrent reports whether this version is the live one.
func (r *TemporalRelation) IsCurrent() bool {
	return r.ValidTo == nil
}

// ValidAt reports whether this version was current at the given epoch-ms timestamp.
func (r *TemporalRelation) ValidAt(ts int64) bool {
	if ts < r.ValidFrom {
		return false
	}
	return r.ValidTo == nil || ts < *r.ValidTo
}
