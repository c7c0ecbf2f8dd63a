// Package types defines the domain model for the temporal knowledge graph:
// entities, relations, their versioned temporal wrappers, embedding jobs,
// and the validation rules enforced at the storage boundary.
package types

// EntityType classifies an entity. The set is closed: creating an entity
// with an unknown type is a validation error.
type EntityType string

// Supported entity types.
const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityProject      EntityType = "project"
	EntityFeature      EntityType = "feature"
	EntityConcept      EntityType = "concept"
	EntityEvent        EntityType = "event"
	EntityLocation     EntityType = "location"
	EntityTool         EntityType = "tool"
	EntityDecision     EntityType = "decision"
)

var validEntityTypes = map[EntityType]bool{
	EntityPerson:       true,
	EntityOrganization: true,
	EntityProject:      true,
	EntityFeature:      true,
	EntityConcept:      true,
	EntityEvent:        true,
	EntityLocation:     true,
	EntityTool:         true,
	EntityDecision:     true,
}

// IsValidEntityType reports whether t is a member of the closed entity type enum.
func IsValidEntityType(t EntityType) bool {
	return validEntityTypes[t]
}

// Embedding is a cached semantic vector for an entity. Embeddings are
// metadata, not graph content: writing one never creates a new temporal
// version of the entity it belongs to.
type Embedding struct {
	Vector      []float32 `json:"vector"`
	Model       string    `json:"model"`
	LastUpdated int64     `json:"lastUpdated"` // epoch milliseconds
}

// Entity is a node in the knowledge graph. Identity is the Name; an entity
// is never mutated in place but superseded by a new temporal version.
type Entity struct {
	Name         string     `json:"name"`
	EntityType   EntityType `json:"entityType"`
	Observations []string   `json:"observations"`
	Embedding    *Embedding `json:"embedding,omitempty"`
}

// EntityPatch describes a partial update to an entity. Nil fields are left
// unchanged; non-nil fields replace the previous value on the new version.
type EntityPatch struct {
	EntityType   *EntityType `json:"entityType,omitempty"`
	Observations []string    `json:"observations,omitempty"`
}
