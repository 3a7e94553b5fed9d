// Package mock provides a deterministic embedder for tests.
package mock

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
)

// Embedder maps each distinct word to its own dimension and returns the
// L2-normalized bag of words. Texts sharing words are close in cosine and
// euclidean distance, which is enough to make clustering tests meaningful.
type Embedder struct {
	// EmbedTextFunc overrides the default behavior when set.
	EmbedTextFunc func(ctx context.Context, text string) ([]float32, error)

	dim   int
	mu    sync.Mutex
	vocab map[string]int
	calls atomic.Int64
}

func NewEmbedder(dim int) *Embedder {
	return &Embedder{dim: dim, vocab: make(map[string]int)}
}

func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.EmbedTextFunc != nil {
		return e.EmbedTextFunc(ctx, text)
	}
	return e.Vector(text), nil
}

// Vector is EmbedText without the call accounting.
func (e *Embedder) Vector(text string) []float32 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	vec := make([]float32, e.dim)
	e.mu.Lock()
	for _, w := range words {
		idx, ok := e.vocab[w]
		if !ok {
			idx = len(e.vocab) % e.dim
			e.vocab[w] = idx
		}
		vec[idx]++
	}
	e.mu.Unlock()

	var norm float64
	for _, f := range vec {
		norm += float64(f) * float64(f)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func (e *Embedder) CallCount() int {
	return int(e.calls.Load())
}

// Store is an in-memory embedding store.
type Store struct {
	mu     sync.Mutex
	data   map[string][]float32
	GetErr error
	SetErr error
	Writes int
}

func NewStore() *Store {
	return &Store{data: make(map[string][]float32)}
}

func (s *Store) GetEmbedding(_ context.Context, textHash string) ([]float32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, false, s.GetErr
	}
	v, ok := s.data[textHash]
	return v, ok, nil
}

func (s *Store) SetEmbedding(_ context.Context, textHash string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetErr != nil {
		return s.SetErr
	}
	if _, ok := s.data[textHash]; !ok {
		s.data[textHash] = embedding
		s.Writes++
	}
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
