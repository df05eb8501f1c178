package retriever

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silvertrail/recall/internal/embedder"
	"github.com/silvertrail/recall/internal/llmclient"
	"github.com/silvertrail/recall/internal/store"
)

type stubEmbed struct{}

func (stubEmbed) Embed(_ context.Context, texts []string) ([][]float32, llmclient.Usage, error) {
	vecs := make([][]float32, len(texts))
	for i := range vecs {
		vecs[i] = []float32{1, 0, 0}
	}
	return vecs, llmclient.Usage{}, nil
}

func TestRetrieve_FormatsHitAsLine(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r1 := &store.FactRecord{ID: uuid.New(), Memory: "User's name is Alice.", Embedding: []float32{1, 0, 0}}
	require.NoError(t, s.Insert(ctx, r1))

	ret := New(embedder.New(stubEmbed{}, nil), s)
	out, err := ret.Retrieve(ctx, "name", 5, store.Filters{})
	require.NoError(t, err)
	assert.Contains(t, out, "User's name is Alice.")
}

func TestRetrieve_EmptyStoreYieldsEmptyString(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	ret := New(embedder.New(stubEmbed{}, nil), s)
	out, err := ret.Retrieve(ctx, "anything", 5, store.Filters{})
	require.NoError(t, err)
	assert.Empty(t, out)
}
