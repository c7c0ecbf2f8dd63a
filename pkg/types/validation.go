package types

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Name constraints: starts with a letter or underscore, continues with
// alphanumerics, underscores or hyphens, at most 200 characters total.
const maxNameLength = 200

// Observations are non-empty and at most 5000 characters (counted in runes).
const maxObservationLength = 5000

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// ValidationError reports a malformed field on an entity or relation.
// Validation failures are surfaced immediately to the caller and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ValidateEntityName checks the entity name pattern and length.
func ValidateEntityName(name string) error {
	if name == "" {
		return &ValidationError{Field: "name", Reason: "name is required"}
	}
	if len(name) > maxNameLength {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("name exceeds %d characters", maxNameLength)}
	}
	if !namePattern.MatchString(name) {
		return &ValidationError{Field: "name", Reason: "name must start with a letter or underscore and contain only alphanumerics, underscores and hyphens"}
	}
	return nil
}

// ValidateObservation checks a single observation's length bounds. Length
// is counted in runes so multi-byte text is not over-counted.
func ValidateObservation(obs string) error {
	if obs == "" {
		return &ValidationError{Field: "observations", Reason: "observation must not be empty"}
	}
	if utf8.RuneCountInString(obs) > maxObservationLength {
		return &ValidationError{Field: "observations", Reason: fmt.Sprintf("observation exceeds %d characters", maxObservationLength)}
	}
	return nil
}

// Validate checks all entity invariants: name pattern, closed type enum,
// observation bounds.
func (e *Entity) Validate() error {
	if err := ValidateEntityName(e.Name); err != nil {
		return err
	}
	if !IsValidEntityType(e.EntityType) {
		return &ValidationError{Field: "entityType", Reason: fmt.Sprintf("unknown entity type %q", e.EntityType)}
	}
	for _, obs := range e.Observations {
		if err := ValidateObservation(obs); err != nil {
			return err
		}
	}
	return nil
}

// validateScore checks a strength or confidence value against [0.0, 1.0].
func validateScore(field string, v *float64) error {
	if v == nil {
		return nil
	}
	if *v < 0.0 || *v > 1.0 {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("%s must be in [0.0, 1.0], got %v", field, *v)}
	}
	return nil
}

// Validate checks all relation invariants: endpoint names, no self-loops,
// closed type enum, score ranges, metadata timestamp ordering.
func (r *Relation) Validate() error {
	if err := ValidateEntityName(r.From); err != nil {
		return &ValidationError{Field: "from", Reason: err.(*ValidationError).Reason}
	}
	if err := ValidateEntityName(r.To); err != nil {
		return &ValidationError{Field: "to", Reason: err.(*ValidationError).Reason}
	}
	if r.From == r.To {
		return &ValidationError{Field: "to", Reason: "self-loops are not allowed (from == to)"}
	}
	if !IsValidRelationType(r.RelationType) {
		return &ValidationError{Field: "relationType", Reason: fmt.Sprintf("unknown relation type %q", r.RelationType)}
	}
	if err := validateScore("strength", r.Strength); err != nil {
		return err
	}
	if err := validateScore("confidence", r.Confidence); err != nil {
		return err
	}
	if md := r.Metadata; md != nil {
		if md.CreatedAt != 0 && md.UpdatedAt != 0 && md.UpdatedAt < md.CreatedAt {
			return &ValidationError{Field: "metadata.updatedAt", Reason: "updatedAt must not precede createdAt"}
		}
	}
	return nil
}

// Validate checks a patch in the same way a full relation would be checked.
func (p *RelationPatch) Validate() error {
	if err := validateScore("strength", p.Strength); err != nil {
		return err
	}
	if err := validateScore("confidence", p.Confidence); err != nil {
		return err
	}
	if md := p.Metadata; md != nil {
		if md.CreatedAt != 0 && md.UpdatedAt != 0 && md.UpdatedAt < md.CreatedAt {
			return &ValidationError{Field: "metadata.updatedAt", Reason: "updatedAt must not precede createdAt"}
		}
	}
	return nil
}

// Validate checks a patch's replacement fields.
func (p *EntityPatch) Validate() error {
	if p.EntityType != nil && !IsValidEntityType(*p.EntityType) {
		return &ValidationError{Field: "entityType", Reason: fmt.Sprintf("unknown entity type %q", *p.EntityType)}
	}
	for _, obs := range p.Observations {
		if err := ValidateObservation(obs); err != nil {
			return err
		}
	}
	return nil
}
