package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ServiceEmbedder calls the standalone embedding service
type ServiceEmbedder struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryConfig
	dim        *dimensionTracker

	mu    sync.RWMutex
	model string
}

// NewServiceEmbedder creates a client for the service at baseURL
func NewServiceEmbedder(baseURL string, dimension int, timeout time.Duration, retry RetryConfig) *ServiceEmbedder {
	if baseURL == "" {
		baseURL = "http://rag-embedding:8001"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &ServiceEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
		dim:        newDimensionTracker(dimension),
	}
}

type serviceRequest struct {
	Text string `json:"text"`
}

type serviceResponse struct {
	Embedding []float32 `json:"embedding"`
	Dimension int       `json:"dimension"`
	ModelUsed string    `json:"model_used"`
}

type healthResponse struct {
	Status    string `json:"status"`
	ModelUsed string `json:"model_used"`
}

// Embed generates an embedding for the given text
func (e *ServiceEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingService, ErrEmptyText)
	}

	url := e.baseURL + "/create_embedding"

	vec, err := retryWithBackoff(ctx, e.retry, func() ([]float32, error) {
		var result serviceResponse
		if err := doJSON(ctx, e.httpClient, "POST", url, nil, serviceRequest{Text: text}, &result); err != nil {
			return nil, err
		}

		if err := e.dim.check(result.Embedding); err != nil {
			return nil, err
		}

		if result.ModelUsed != "" {
			e.setModel(result.ModelUsed)
		}

		return result.Embedding, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingService, err)
	}

	return vec, nil
}

// Ping checks GET /health reports a healthy service
func (e *ServiceEmbedder) Ping(ctx context.Context) error {
	var result healthResponse
	if err := doJSON(ctx, e.httpClient, "GET", e.baseURL+"/health", nil, nil, &result); err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingService, err)
	}

	if result.Status != "healthy" {
		return fmt.Errorf("%w: service reports status %q", ErrEmbeddingService, result.Status)
	}

	if result.ModelUsed != "" {
		e.setModel(result.ModelUsed)
	}

	return nil
}

func (e *ServiceEmbedder) setModel(model string) {
	e.mu.Lock()
	e.model = model
	e.mu.Unlock()
}

func (e *ServiceEmbedder) Dimension() int {
	return e.dim.get()
}

func (e *ServiceEmbedder) Model() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.model == "" {
		return "service"
	}
	return e.model
}

func (e *ServiceEmbedder) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}
