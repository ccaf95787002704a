package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAIEmbedder calls an OpenAI compatible /embeddings endpoint
type OpenAIEmbedder struct {
	baseURL    string
	model      string
	header     http.Header
	httpClient *http.Client
	retry      RetryConfig
	dim        *dimensionTracker
}

// NewOpenAIEmbedder creates a client; apiKey is required
func NewOpenAIEmbedder(baseURL, model, apiKey string, dimension int, timeout time.Duration, retry RetryConfig) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai provider needs an API key", ErrEmbeddingService)
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-large"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)

	return &OpenAIEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		header:     header,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
		dim:        newDimensionTracker(dimension),
	}, nil
}

type openAIRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed generates an embedding for the given text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingService, ErrEmptyText)
	}

	req := openAIRequest{
		// OpenAI recommends replacing newlines
		Input:      []string{strings.ReplaceAll(text, "\n", " ")},
		Model:      e.model,
		Dimensions: e.dim.get(),
	}

	vec, err := retryWithBackoff(ctx, e.retry, func() ([]float32, error) {
		var result openAIResponse
		if err := doJSON(ctx, e.httpClient, "POST", e.baseURL+"/embeddings", e.header, req, &result); err != nil {
			return nil, err
		}

		if len(result.Data) == 0 {
			return nil, fmt.Errorf("no embedding in response")
		}

		vec := result.Data[0].Embedding
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

// Ping lists models, which needs a valid key
func (e *OpenAIEmbedder) Ping(ctx context.Context) error {
	if err := doJSON(ctx, e.httpClient, "GET", e.baseURL+"/models", e.header, nil, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingService, err)
	}
	return nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.dim.get() }
func (e *OpenAIEmbedder) Model() string  { return e.model }

func (e *OpenAIEmbedder) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}
