package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// MockProvider is a deterministic in-process provider. The same text always
// yields the same unit-norm vector, derived from a hash of the text, so
// tests can assert on stable values without a network dependency.
//
// FixedVector, when set, is returned for every call instead of the hashed
// vector. FailUntilAttempt makes the first N calls fail, which exercises the
// job retry path.
type MockProvider struct {
	Dimensions       int
	FixedVector      []float32
	FailUntilAttempt int

	mu    sync.Mutex
	calls int
}

// NewMockProvider creates a mock with the given dimensionality (default 8).
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions < 1 {
		dimensions = 8
	}
	return &MockProvider{Dimensions: dimensions}
}

// Calls returns how many embedding calls the mock has served. Cache
// idempotence tests assert on this.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// GenerateEmbedding returns a deterministic vector for the text.
func (m *MockProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()

	if call <= m.FailUntilAttempt {
		return nil, fmt.Errorf("%w: mock failure %d of %d", ErrProvider, call, m.FailUntilAttempt)
	}

	if m.FixedVector != nil {
		out := make([]float32, len(m.FixedVector))
		copy(out, m.FixedVector)
		return out, nil
	}
	return hashVector(text, m.Dimensions), nil
}

// GenerateEmbeddings returns deterministic vectors for each text, in order.
func (m *MockProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, err := m.GenerateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ModelInfo describes the mock model.
func (m *MockProvider) ModelInfo() ModelInfo {
	dim := m.Dimensions
	if m.FixedVector != nil {
		dim = len(m.FixedVector)
	}
	return ModelInfo{Name: "mock-embed", Dimensions: dim, Version: "1"}
}

// hashVector expands a sha256 of the text into a unit-norm vector.
func hashVector(text string, dimensions int) []float32 {
	seed := sha256.Sum256([]byte(text))
	vector := make([]float32, dimensions)

	var norm float64
	for i := range vector {
		// Re-hash the seed with the index to get enough material for any
		// dimensionality.
		var idx [8]byte
		binary.LittleEndian.PutUint64(idx[:], uint64(i))
		h := sha256.Sum256(append(seed[:], idx[:]...))
		bits := binary.LittleEndian.Uint32(h[:4])
		// Map to [-1, 1).
		v := float64(int32(bits)) / float64(math.MaxInt32)
		vector[i] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector
}
