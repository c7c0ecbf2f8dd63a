package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// OllamaProvider generates embeddings via a local Ollama server. All HTTP
// calls go through a circuit breaker, and an outbound rate limiter smooths
// request bursts so a big batch does not stampede the server.
type OllamaProvider struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	outbound   *rate.Limiter
}

// OllamaConfig holds Ollama provider configuration.
type OllamaConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model name (default: nomic-embed-text).
	Model string

	// Dimensions is the model's vector dimensionality (default: 768).
	Dimensions int

	// Timeout is the per-request timeout (default: 30s).
	Timeout time.Duration

	// RequestsPerSecond caps outbound request rate (default: 10).
	RequestsPerSecond float64

	// Breaker tunes the circuit breaker.
	Breaker BreakerConfig
}

// embedRequest is the body for the /api/embed endpoint.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the /api/embed response; embeddings come back in input order.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaProvider creates an Ollama-backed provider.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 768
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}

	return &OllamaProvider{
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: cfg.Timeout},
		breaker:    newBreaker("ollama-embeddings", cfg.Breaker),
		outbound:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

// GenerateEmbedding returns the vector for a single text.
func (p *OllamaProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateEmbeddings returns vectors for a batch of texts, in input order.
func (p *OllamaProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts given", ErrProvider)
	}

	if err := p.outbound.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	result, err := execBreaker(p.breaker, func() (interface{}, error) {
		return p.embed(ctx, texts)
	})
	if err != nil {
		if err == ErrCircuitOpen {
			return nil, fmt.Errorf("%w: %v", ErrProvider, err)
		}
		return nil, err
	}
	return result.([][]float32), nil
}

func (p *OllamaProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %v", ErrProvider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %v", ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: ollama returned %d: %s", ErrProvider, resp.StatusCode, payload)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrProvider, err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProvider, len(texts), len(parsed.Embeddings))
	}
	return parsed.Embeddings, nil
}

// ModelInfo describes the configured Ollama model.
func (p *OllamaProvider) ModelInfo() ModelInfo {
	return ModelInfo{Name: p.model, Dimensions: p.dimensions, Version: "ollama"}
}
