// Package retriever embeds a query, calls the store, and formats results,
// per spec §4.6.
package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/silvertrail/recall/internal/embedder"
	"github.com/silvertrail/recall/internal/store"
)

// Retriever binds an Embedder and a FactStore.
type Retriever struct {
	Embedder *embedder.Embedder
	Store    store.FactStore
}

// New returns a Retriever over emb and s.
func New(emb *embedder.Embedder, s store.FactStore) *Retriever {
	return &Retriever{Embedder: emb, Store: s}
}

// Retrieve embeds queryText, searches the store, and formats each result
// on its own line as "<timeStamp> <weekday> <memory>", preserving search
// order. An empty result set yields an empty string.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, k int, filters store.Filters) (string, error) {
	vec, err := r.Embedder.Embed(ctx, queryText)
	if err != nil {
		return "", fmt.Errorf("retriever: embed query: %w", err)
	}

	hits, err := r.Store.Search(ctx, vec, k, filters)
	if err != nil {
		return "", fmt.Errorf("retriever: search: %w", err)
	}

	var b strings.Builder
	for i, hit := range hits {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s %s", hit.Payload.TimeStamp.Format("2006-01-02T15:04:05Z07:00"), hit.Payload.Weekday, hit.Payload.Memory)
	}
	return b.String(), nil
}
