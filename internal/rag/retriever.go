// Package rag searches the index and shapes results for answer generation
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/AtomicBim/rag-service/internal/embeddings"
	"github.com/AtomicBim/rag-service/internal/vectorstore"
)

// ErrEmptyQuery is returned for a blank query
var ErrEmptyQuery = errors.New("query cannot be empty")

// Retriever finds indexed chunks by vector similarity
type Retriever struct {
	embedder embeddings.Embedder
	store    vectorstore.Store
	topK     int
	log      *zap.Logger
}

// NewRetriever creates a retriever returning topK results by default
func NewRetriever(embedder embeddings.Embedder, store vectorstore.Store, topK int, log *zap.Logger) *Retriever {
	if topK <= 0 {
		topK = 5 // Default
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Retriever{
		embedder: embedder,
		store:    store,
		topK:     topK,
		log:      log.With(zap.String("component", "retriever")),
	}
}

// Retrieve returns the chunks closest to query, best first. k <= 0 uses
// the retriever default.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]vectorstore.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = r.topK
	}

	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	results, err := r.store.Search(ctx, queryEmbedding, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	r.log.Debug("search complete",
		zap.String("action", "retrieve"),
		zap.Int("k", k),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// RetrieveHybrid narrows a semantic search to results sharing a keyword
// with the query
func (r *Retriever) RetrieveHybrid(ctx context.Context, query string, k int) ([]vectorstore.SearchResult, error) {
	results, err := r.Retrieve(ctx, query, k)
	if err != nil {
		return nil, err
	}

	return filterByKeywords(results, extractKeywords(query)), nil
}

// extractKeywords lowercases query words and drops short words and stop words
func extractKeywords(query string) []string {
	stopWords := map[string]bool{
		"the": true, "and": true, "for": true, "with": true, "are": true,
		"was": true, "were": true, "been": true, "have": true, "has": true,
		"what": true, "which": true, "who": true, "when": true, "where": true,
		"why": true, "how": true, "does": true, "should": true,
		// Russian function words common in regulation queries
		"что": true, "как": true, "для": true, "или": true, "при": true,
		"это": true, "где": true, "кто": true, "какой": true, "какие": true,
	}

	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(query)) {
		word = strings.Trim(word, ".,!?;:\"'()«»")
		if len([]rune(word)) > 2 && !stopWords[word] {
			keywords = append(keywords, word)
		}
	}
	return keywords
}

// filterByKeywords keeps results containing at least one keyword. When
// fewer than half survive the filter, the input is returned unchanged.
func filterByKeywords(results []vectorstore.SearchResult, keywords []string) []vectorstore.SearchResult {
	if len(keywords) == 0 {
		return results
	}

	var filtered []vectorstore.SearchResult
	for _, res := range results {
		content := strings.ToLower(res.Text)
		for _, keyword := range keywords {
			if strings.Contains(content, keyword) {
				filtered = append(filtered, res)
				break
			}
		}
	}

	if len(filtered) < len(results)/2 {
		return results
	}
	return filtered
}
