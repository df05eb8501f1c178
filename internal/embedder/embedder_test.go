package embedder

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silvertrail/recall/internal/llmclient"
)

type fakeEmbedClient struct {
	calls int32
}

func (f *fakeEmbedClient) Embed(_ context.Context, texts []string) ([][]float32, llmclient.Usage, error) {
	atomic.AddInt32(&f.calls, 1)
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = []float32{float32(len(t)), 0, 0}
	}
	return vecs, llmclient.Usage{TotalTokens: len(texts)}, nil
}

func TestEmbed_CacheHitSkipsRemoteCall(t *testing.T) {
	client := &fakeEmbedClient{}
	e := New(client, nil)

	v1, err := e.Embed(context.Background(), "x")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "x")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&client.calls))
}

func TestEmbedBatch_DedupesWithinOneCall(t *testing.T) {
	client := &fakeEmbedClient{}
	e := New(client, nil)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, vecs[0], vecs[1])
	assert.NotEqual(t, vecs[0], vecs[2])
	assert.Equal(t, int32(1), atomic.LoadInt32(&client.calls))
}

func TestStats_AccumulatesUsage(t *testing.T) {
	client := &fakeEmbedClient{}
	e := New(client, nil)

	_, _ = e.Embed(context.Background(), "hello")
	calls, usage := e.Stats()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, usage.TotalTokens)
}
