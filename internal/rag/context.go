package rag

import (
	"fmt"
	"strings"

	"github.com/AtomicBim/rag-service/internal/vectorstore"
)

// ContextItem is one excerpt handed to the answer generator
type ContextItem struct {
	Text string `json:"text"`
	File string `json:"file"`
}

// AnswerRequest is the body accepted by the answer-generation endpoint
type AnswerRequest struct {
	Question string        `json:"question"`
	Context  []ContextItem `json:"context"`
}

// ContextBuilder shapes search results for answer generation
type ContextBuilder struct {
	maxChars int
}

// NewContextBuilder creates a builder that keeps at most maxChars runes of
// excerpt text
func NewContextBuilder(maxChars int) *ContextBuilder {
	if maxChars <= 0 {
		maxChars = 8000 // Default
	}
	return &ContextBuilder{
		maxChars: maxChars,
	}
}

// BuildRequest creates the answer request for question. Excerpts are taken
// in result order until the character budget is spent; the excerpt that
// crosses the budget is truncated.
func (cb *ContextBuilder) BuildRequest(question string, results []vectorstore.SearchResult) AnswerRequest {
	req := AnswerRequest{
		Question: question,
		Context:  make([]ContextItem, 0, len(results)),
	}

	budget := cb.maxChars
	for _, res := range results {
		if budget <= 0 {
			break
		}

		text := []rune(res.Text)
		if len(text) > budget {
			text = text[:budget]
		}
		budget -= len(text)

		req.Context = append(req.Context, ContextItem{
			Text: string(text),
			File: res.SourceFile,
		})
	}

	return req
}

// BuildContext renders results as readable excerpts
func (cb *ContextBuilder) BuildContext(results []vectorstore.SearchResult) string {
	var parts []string

	for i, res := range results {
		parts = append(parts, fmt.Sprintf("### Excerpt %d (%s #%d, score %.3f)", i+1, res.SourceFile, res.ChunkIndex, res.Score))
		parts = append(parts, res.Text)
		parts = append(parts, "")
	}

	context := strings.Join(parts, "\n")

	if runes := []rune(context); len(runes) > cb.maxChars {
		context = string(runes[:cb.maxChars]) + "\n\n[Context truncated...]"
	}

	return context
}

// SourceFiles returns the distinct source files of results in order
func SourceFiles(results []vectorstore.SearchResult) []string {
	seen := make(map[string]bool, len(results))
	files := make([]string, 0, len(results))
	for _, res := range results {
		if !seen[res.SourceFile] {
			seen[res.SourceFile] = true
			files = append(files, res.SourceFile)
		}
	}
	return files
}
