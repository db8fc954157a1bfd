// Package embedding provides text embedding with ONNX and a deterministic mock.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable means the embedding provider could not be loaded. This is not
// fatal: the system degrades to keyword-only search.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Embedder produces unit-normalized vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// New creates an embedder for the named provider ("onnx" or "mock"). A
// provider that cannot be constructed is reported as ErrUnavailable so the
// caller can run in degraded mode instead of exiting.
func New(provider, modelPath string, dimensions, maxTokens, cacheSize int) (Embedder, error) {
	switch provider {
	case "mock":
		return NewMockEmbedder(dimensions), nil
	case "onnx", "":
		e, err := NewONNXEmbedder(modelPath, dimensions, maxTokens, cacheSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: onnx, mock)", provider)
	}
}
