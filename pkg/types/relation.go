package types

// RelationType classifies a directed edge. The set is closed: creating a
// relation with an unknown type is a validation error.
type RelationType string

// Supported relation types.
const (
	RelationDependsOn    RelationType = "depends_on"
	RelationRelatesTo    RelationType = "relates_to"
	RelationPartOf       RelationType = "part_of"
	RelationCreatedBy    RelationType = "created_by"
	RelationUses         RelationType = "uses"
	RelationImplements   RelationType = "implements"
	RelationSupersedes   RelationType = "supersedes"
	RelationInfluencedBy RelationType = "influenced_by"
)

var validRelationTypes = map[RelationType]bool{
	RelationDependsOn:    true,
	RelationRelatesTo:    true,
	RelationPartOf:       true,
	RelationCreatedBy:    true,
	RelationUses:         true,
	RelationImplements:   true,
	RelationSupersedes:   true,
	RelationInfluencedBy: true,
}

// IsValidRelationType reports whether t is a member of the closed relation type enum.
func IsValidRelationType(t RelationType) bool {
	return validRelationTypes[t]
}

// RelationMetadata carries optional provenance and recency information for a
// relation. UpdatedAt and LastAccessed feed the confidence decay computation:
// the newer of the two is the decay reference point.
type RelationMetadata struct {
	CreatedAt    int64    `json:"createdAt,omitempty"`    // epoch milliseconds
	UpdatedAt    int64    `json:"updatedAt,omitempty"`    // epoch milliseconds, >= CreatedAt
	InferredFrom []string `json:"inferredFrom,omitempty"` // ids of relations this edge was derived from
	LastAccessed int64    `json:"lastAccessed,omitempty"` // epoch milliseconds
}

// Relation is a directed, typed edge between two entities. The natural key
// is (From, To, RelationType). Self-loops (From == To) are invalid.
type Relation struct {
	From         string            `json:"from"`
	To           string            `json:"to"`
	RelationType RelationType      `json:"relationType"`
	Strength     *float64          `json:"strength,omitempty"`   // [0.0, 1.0]
	Confidence   *float64          `json:"confidence,omitempty"` // [0.0, 1.0]
	Metadata     *RelationMetadata `json:"metadata,omitempty"`
}

// Key returns the natural key of the relation.
func (r *Relation) Key() RelationKey {
	return RelationKey{From: r.From, To: r.To, RelationType: r.RelationType}
}

// RelationKey identifies a relation by its natural key.
type RelationKey struct {
	From         string       `json:"from"`
	To           string       `json:"to"`
	RelationType RelationType `json:"relationType"`
}

// RelationPatch describes a partial update to a relation. Nil fields are
// left unchanged on the new version.
type RelationPatch struct {
	Strength   *float64          `json:"strength,omitempty"`
	Confidence *float64          `json:"confidence,omitempty"`
	Metadata   *RelationMetadata `json:"metadata,omitempty"`
}

// KnowledgeGraph is a snapshot of entities and relations, either the current
// graph, a point-in-time reconstruction, or a decayed view.
type KnowledgeGraph struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}
