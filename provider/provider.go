// Package provider declares the text generation and embedding capabilities
// the router, planner and workers depend on.
package provider

import (
	"context"
	"errors"
)

var (
	// ErrProviderUnavailable is returned when a generation backend cannot serve a request.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrEmbeddingUnavailable is returned when an embedding backend cannot serve a request.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by embedders that can embed several texts per call.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Named is implemented by backends that report a model identifier.
type Named interface {
	Name() string
}

// EmbedAll embeds texts, batching when e supports it.
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if b, ok := e.(BatchEmbedder); ok {
		return b.EmbedBatch(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
