// Package embedding defines the embedding provider boundary and its
// implementations: a deterministic mock, an Ollama HTTP client and an
// OpenAI client, plus the circuit breaker and content-hash cache that sit
// in front of them.
package embedding

import (
	"context"
	"errors"
)

// ErrProvider wraps failures from the embedding provider. The engine treats
// these as opaque: jobs carrying them are retried up to their attempt
// budget, then parked as failed.
var ErrProvider = errors.New("embedding provider error")

// ModelInfo describes the provider's embedding model.
type ModelInfo struct {
	Name       string `json:"name"`
	Dimensions int    `json:"dimensions"`
	Version    string `json:"version"`
}

// Provider turns text into fixed-dimension vectors. Implementations own
// their timeout and failure-isolation policy; callers only see opaque
// errors.
type Provider interface {
	// GenerateEmbedding returns the vector for a single text.
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// GenerateEmbeddings returns vectors for a batch of texts, in order.
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	// ModelInfo returns the model's name, dimensionality and version.
	ModelInfo() ModelInfo
}
