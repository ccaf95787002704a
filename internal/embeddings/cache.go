package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Cached serves repeated texts from an in-memory LRU
type Cached struct {
	Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached wraps e with an LRU of maxLen entries
func NewCached(e Embedder, maxLen int) *Cached {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](10000)
	}
	return &Cached{
		Embedder: e,
		cache:    cache,
	}
}

// cacheKey hashes model and text so providers never share entries
func cacheKey(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.Model(), text)

	if vec, ok := c.cache.Get(key); ok {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}

	vec, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.cache.Add(key, stored)

	return vec, nil
}

// Len returns the number of cached vectors
func (c *Cached) Len() int {
	return c.cache.Len()
}

// RateLimited spaces out requests to the wrapped embedder
type RateLimited struct {
	Embedder
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond requests with a burst of one second's worth
func NewRateLimited(e Embedder, perSecond float64) *RateLimited {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		Embedder: e,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Embedder.Embed(ctx, text)
}
