// Package embedder maps text to fixed-dimension dense vectors, caching by
// input text, per spec §4.4.
package embedder

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/silvertrail/recall/internal/llmclient"
	"github.com/silvertrail/recall/internal/telemetry"
)

// Cache is the decorator point for a persistent cache tier
// (internal/embedder.RedisCache is the optional concrete implementation).
// A Cache must tolerate misses silently.
type Cache interface {
	Get(ctx context.Context, text string) ([]float32, bool)
	Set(ctx context.Context, text string, vec []float32)
}

// Embedder wraps an llmclient.EmbedClient with a lossless in-memory cache
// (any hit skips the remote call, per §4.4) and singleflight-based
// deduplication of concurrent identical misses.
type Embedder struct {
	client llmclient.EmbedClient
	cache  Cache

	mu    sync.RWMutex
	local map[string][]float32
	group singleflight.Group

	calls int
	total llmclient.Usage
}

// New returns an Embedder over client. persistent may be nil, in which
// case only the in-memory tier is used.
func New(client llmclient.EmbedClient, persistent Cache) *Embedder {
	return &Embedder{
		client: client,
		cache:  persistent,
		local:  make(map[string][]float32),
	}
}

// Embed returns the vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns vectors for texts, skipping the remote call entirely
// for any text found in cache and batching the remaining misses into one
// remote call.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var misses []string
	missIdx := make(map[string]int)

	for i, t := range texts {
		if vec, ok := e.lookup(ctx, t); ok {
			out[i] = vec
			continue
		}
		if _, ok := missIdx[t]; !ok {
			missIdx[t] = len(misses)
			misses = append(misses, t)
		}
	}

	if len(misses) > 0 {
		fetched, err := e.fetchDeduped(ctx, misses)
		if err != nil {
			return nil, err
		}
		for i, t := range texts {
			if out[i] != nil {
				continue
			}
			vec := fetched[missIdx[t]]
			out[i] = vec
			e.store(ctx, t, vec)
		}
	}

	return out, nil
}

func (e *Embedder) lookup(ctx context.Context, text string) ([]float32, bool) {
	e.mu.RLock()
	vec, ok := e.local[text]
	e.mu.RUnlock()
	if ok {
		return vec, true
	}
	if e.cache != nil {
		if vec, ok := e.cache.Get(ctx, text); ok {
			e.mu.Lock()
			e.local[text] = vec
			e.mu.Unlock()
			return vec, true
		}
	}
	return nil, false
}

func (e *Embedder) store(ctx context.Context, text string, vec []float32) {
	e.mu.Lock()
	e.local[text] = vec
	e.mu.Unlock()
	if e.cache != nil {
		e.cache.Set(ctx, text, vec)
	}
}

// fetchDeduped collapses concurrent identical-batch misses via
// singleflight so a burst of callers requesting the same uncached text
// only reaches the remote endpoint once.
func (e *Embedder) fetchDeduped(ctx context.Context, texts []string) ([][]float32, error) {
	key := fmt.Sprintf("%v", texts)
	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		spanCtx, span := telemetry.StartSpan(ctx, "embedder.Embed")
		defer span.End()

		vecs, usage, err := e.client.Embed(spanCtx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedder: remote call: %w", err)
		}
		e.mu.Lock()
		e.calls++
		e.total.Add(usage)
		e.mu.Unlock()
		return vecs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([][]float32), nil
}

// Stats returns the accumulated call count and usage counters (§4.4).
func (e *Embedder) Stats() (calls int, usage llmclient.Usage) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.calls, e.total
}
