// Package engine provides confidence decay, the embedding job processor,
// the recurring scheduler, and the knowledge graph manager facade.
package engine

import (
	"math"

	"github.com/timegraph/timegraph/pkg/types"
)

const (
	// DefaultHalfLifeDays is the number of days for a relation's effective
	// confidence to halve without updates or access.
	DefaultHalfLifeDays = 30.0

	// DefaultMinConfidence is the floor below which decayed confidence
	// never drops. Facts fade but are not forgotten without explicit
	// deletion.
	DefaultMinConfidence = 0.1

	msPerDay = 86_400_000.0
)

// DecayConfig holds the decay constants. The zero value is replaced by the
// defaults.
type DecayConfig struct {
	HalfLifeDays  float64
	MinConfidence float64
}

// normalize applies defaults for unset fields.
func (c DecayConfig) normalize() DecayConfig {
	if c.HalfLifeDays <= 0 {
		c.HalfLifeDays = DefaultHalfLifeDays
	}
	if c.MinConfidence < 0 {
		c.MinConfidence = DefaultMinConfidence
	}
	return c
}

// DecayedConfidence computes the effective confidence of a relation at
// nowMs given its base confidence and reference timestamp (both epoch ms):
//
//	max(minConfidence, confidence * exp(-ln2 * ageDays / halfLifeDays))
//
// The result is deterministic and non-increasing in (nowMs - referenceMs).
// It is never persisted: changing the half-life retroactively changes all
// decayed reads with no migration.
func DecayedConfidence(confidence float64, referenceMs, nowMs int64, cfg DecayConfig) float64 {
	cfg = cfg.normalize()

	// The floor applies at age zero too, so a base confidence below the
	// floor never increases as it ages.
	decayed := confidence
	if ageDays := float64(nowMs-referenceMs) / msPerDay; ageDays > 0 {
		decayed = confidence * math.Exp(-math.Ln2*ageDays/cfg.HalfLifeDays)
	}
	if decayed < cfg.MinConfidence {
		return cfg.MinConfidence
	}
	return decayed
}

// decayReference picks the decay reference point for a relation: the newer
// of metadata.updatedAt and metadata.lastAccessed. Reads do not bump
// lastAccessed; it only moves on explicit update.
func decayReference(md *types.RelationMetadata) int64 {
	if md == nil {
		return 0
	}
	ref := md.UpdatedAt
	if md.LastAccessed > ref {
		ref = md.LastAccessed
	}
	return ref
}

// ApplyDecay returns a copy of the graph with every relation's confidence
// replaced by its decayed value at nowMs. Entities and stored relation data
// are untouched; relations without a confidence or reference timestamp pass
// through unchanged.
func ApplyDecay(graph *types.KnowledgeGraph, nowMs int64, cfg DecayConfig) *types.KnowledgeGraph {
	if graph == nil {
		return nil
	}

	out := &types.KnowledgeGraph{
		Entities:  graph.Entities,
		Relations: make([]types.Relation, len(graph.Relations)),
	}

	for i, rel := range graph.Relations {
		if rel.Confidence == nil {
			out.Relations[i] = rel
			continue
		}
		ref := decayReference(rel.Metadata)
		if ref == 0 {
			out.Relations[i] = rel
			continue
		}
		decayed := DecayedConfidence(*rel.Confidence, ref, nowMs, cfg)
		rel.Confidence = &decayed
		out.Relations[i] = rel
	}
	return out
}
