package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/AtomicBim/rag-service/internal/ollama"
)

// OllamaEmbedder generates text embeddings using Ollama
type OllamaEmbedder struct {
	client *ollama.Client
	model  string
	retry  RetryConfig
	dim    *dimensionTracker
}

// NewOllamaEmbedder creates a new Ollama embedder
func NewOllamaEmbedder(baseURL, model string, dimension int, timeout time.Duration, retry RetryConfig) *OllamaEmbedder {
	if model == "" {
		model = "nomic-embed-text"
	}

	return &OllamaEmbedder{
		client: ollama.NewClient(baseURL, timeout),
		model:  model,
		retry:  retry,
		dim:    newDimensionTracker(dimension),
	}
}

// Embed generates an embedding for the given text
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingService, ErrEmptyText)
	}

	vec, err := retryWithBackoff(ctx, e.retry, func() ([]float32, error) {
		vec, err := e.client.Embeddings(ctx, &ollama.EmbeddingRequest{
			Model:  e.model,
			Prompt: text,
		})
		if err != nil {
			var apiErr *ollama.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				return nil, permanent(err)
			}
			return nil, err
		}

		if err := e.dim.check(vec); err != nil {
			return nil, err
		}
		return vec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingService, err)
	}

	return vec, nil
}

// Ping checks that the model is pulled
func (e *OllamaEmbedder) Ping(ctx context.Context) error {
	ok, err := e.client.HasModel(ctx, e.model)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingService, err)
	}
	if !ok {
		return fmt.Errorf("%w: model %s is not available", ErrEmbeddingService, e.model)
	}
	return nil
}

func (e *OllamaEmbedder) Dimension() int { return e.dim.get() }
func (e *OllamaEmbedder) Model() string  { return e.model }
func (e *OllamaEmbedder) Close() error   { return nil }
