package types

import (
	"strings"
	"testing"
)

func TestValidateEntityName(t *testing.T) {
	valid := []string{"auth-service", "Alice", "_internal", "a", "X9", "snake_case"}
	for _, name := range valid {
		if err := ValidateEntityName(name); err != nil {
			t.Errorf("name %q should be valid: %v", name, err)
		}
	}

	invalid := []string{
		"",
		"9starts-with-digit",
		"-leading-hyphen",
		"has space",
		"has/slash",
		strings.Repeat("a", 201),
	}
	for _, name := range invalid {
		if err := ValidateEntityName(name); err == nil {
			t.Errorf("name %q should be invalid", name)
		}
	}
}

func TestValidateObservation(t *testing.T) {
	if err := ValidateObservation("a fact"); err != nil {
		t.Errorf("valid observation rejected: %v", err)
	}
	if err := ValidateObservation(""); err == nil {
		t.Error("empty observation should be rejected")
	}
	if err := ValidateObservation(strings.Repeat("x", 5001)); err == nil {
		t.Error("oversized observation should be rejected")
	}
	if err := ValidateObservation(strings.Repeat("x", 5000)); err != nil {
		t.Errorf("observation at the limit should pass: %v", err)
	}
	// The bound counts runes, not bytes. 5000 three-byte runes are 15000
	// bytes but still within the limit.
	if err := ValidateObservation(strings.Repeat("日", 5000)); err != nil {
		t.Errorf("multi-byte observation at the limit should pass: %v", err)
	}
	if err := ValidateObservation(strings.Repeat("日", 5001)); err == nil {
		t.Error("multi-byte observation over the limit should be rejected")
	}
}

func TestEntityValidate(t *testing.T) {
	e := Entity{Name: "thing", EntityType: EntityConcept, Observations: []string{"ok"}}
	if err := e.Validate(); err != nil {
		t.Errorf("valid entity rejected: %v", err)
	}

	e.EntityType = "spaceship"
	if err := e.Validate(); err == nil {
		t.Error("unknown entity type should be rejected")
	}
}

func TestRelationValidate(t *testing.T) {
	half := 0.5
	r := Relation{From: "a", To: "b", RelationType: RelationUses, Confidence: &half}
	if err := r.Validate(); err != nil {
		t.Errorf("valid relation rejected: %v", err)
	}

	t.Run("self loop", func(t *testing.T) {
		r := Relation{From: "a", To: "a", RelationType: RelationUses}
		if err := r.Validate(); err == nil {
			t.Error("self-loop should be rejected")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		r := Relation{From: "a", To: "b", RelationType: "married_to"}
		if err := r.Validate(); err == nil {
			t.Error("unknown relation type should be rejected")
		}
	})

	t.Run("score bounds", func(t *testing.T) {
		for _, v := range []float64{-0.1, 1.1} {
			val := v
			r := Relation{From: "a", To: "b", RelationType: RelationUses, Strength: &val}
			if err := r.Validate(); err == nil {
				t.Errorf("strength %v should be rejected", v)
			}
		}
		for _, v := range []float64{0.0, 1.0} {
			val := v
			r := Relation{From: "a", To: "b", RelationType: RelationUses, Strength: &val}
			if err := r.Validate(); err != nil {
				t.Errorf("strength %v should pass: %v", v, err)
			}
		}
	})

	t.Run("metadata ordering", func(t *testing.T) {
		r := Relation{
			From: "a", To: "b", RelationType: RelationUses,
			Metadata: &RelationMetadata{CreatedAt: 200, UpdatedAt: 100},
		}
		if err := r.Validate(); err == nil {
			t.Error("updatedAt before createdAt should be rejected")
		}
	})
}

func TestTemporalEntityValidAt(t *testing.T) {
	closed := int64(200)
	v := TemporalEntity{ValidFrom: 100, ValidTo: &closed}

	cases := []struct {
		ts   int64
		want bool
	}{
		{99, false},
		{100, true}, // validFrom inclusive
		{150, true},
		{200, false}, // validTo exclusive
		{201, false},
	}
	for _, tc := range cases {
		if got := v.ValidAt(tc.ts); got != tc.want {
			t.Errorf("ValidAt(%d) = %v, want %v", tc.ts, got, tc.want)
		}
	}

	current := TemporalEntity{ValidFrom: 100}
	if !current.IsCurrent() || !current.ValidAt(1_000_000) {
		t.Error("open-ended version must be current and valid at any later time")
	}
}
