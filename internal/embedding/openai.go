package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

// OpenAIProvider generates embeddings through the OpenAI API (or any
// OpenAI-compatible service via a custom base URL).
type OpenAIProvider struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	breaker    *gobreaker.CircuitBreaker
}

// OpenAIConfig holds OpenAI provider configuration.
type OpenAIConfig struct {
	// APIKey authenticates against the API.
	APIKey string

	// BaseURL overrides the endpoint for OpenAI-compatible services.
	BaseURL string

	// Model is the embedding model (default: text-embedding-3-small).
	Model string

	// Dimensions is the model's vector dimensionality (default: 1536).
	Dimensions int

	// Breaker tunes the circuit breaker.
	Breaker BreakerConfig
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}

	var client *openai.Client
	if cfg.BaseURL != "" {
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = cfg.BaseURL
		client = openai.NewClientWithConfig(clientConfig)
	} else {
		client = openai.NewClient(cfg.APIKey)
	}

	return &OpenAIProvider{
		client:     client,
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		breaker:    newBreaker("openai-embeddings", cfg.Breaker),
	}
}

// GenerateEmbedding returns the vector for a single text.
func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateEmbeddings returns vectors for a batch of texts, in input order.
func (p *OpenAIProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts given", ErrProvider)
	}

	result, err := execBreaker(p.breaker, func() (interface{}, error) {
		resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: texts,
			Model: p.model,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProvider, err)
		}
		if len(resp.Data) != len(texts) {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProvider, len(texts), len(resp.Data))
		}

		vectors := make([][]float32, len(resp.Data))
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(vectors) {
				return nil, fmt.Errorf("%w: embedding index %d out of range", ErrProvider, item.Index)
			}
			vectors[item.Index] = item.Embedding
		}
		return vectors, nil
	})
	if err != nil {
		if err == ErrCircuitOpen {
			return nil, fmt.Errorf("%w: %v", ErrProvider, err)
		}
		return nil, err
	}
	return result.([][]float32), nil
}

// ModelInfo describes the configured OpenAI model.
func (p *OpenAIProvider) ModelInfo() ModelInfo {
	return ModelInfo{Name: string(p.model), Dimensions: p.dimensions, Version: "openai"}
}
