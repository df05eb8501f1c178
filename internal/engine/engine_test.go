package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silvertrail/recall/internal/buffer"
	"github.com/silvertrail/recall/internal/config"
	"github.com/silvertrail/recall/internal/consolidator"
	"github.com/silvertrail/recall/internal/embedder"
	"github.com/silvertrail/recall/internal/extractor"
	"github.com/silvertrail/recall/internal/llmclient"
	"github.com/silvertrail/recall/internal/normalizer"
	"github.com/silvertrail/recall/internal/retriever"
	"github.com/silvertrail/recall/internal/store"
)

type scriptedChat struct {
	reply      string
	lastUser   string
	lastSystem string
}

func (s *scriptedChat) Chat(_ context.Context, system, user string, _ int) (string, llmclient.Usage, error) {
	s.lastSystem, s.lastUser = system, user
	return s.reply, llmclient.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}, nil
}

type stubEmbed struct{ dim int }

func (s stubEmbed) Embed(_ context.Context, texts []string) ([][]float32, llmclient.Usage, error) {
	vecs := make([][]float32, len(texts))
	for i := range vecs {
		v := make([]float32, s.dim)
		v[0] = 1
		vecs[i] = v
	}
	return vecs, llmclient.Usage{TotalTokens: len(texts)}, nil
}

func newTestEngine(t *testing.T, filter config.RoleFilter, chat *scriptedChat) (*Engine, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	emb := embedder.New(stubEmbed{dim: 3}, nil)
	ex := extractor.New(chat, filter)
	ret := retriever.New(emb, s)
	con := consolidator.New(s, chat, emb.Embed, consolidator.DefaultConfig())
	e := New(normalizer.New(), buffer.New(1, 0), ex, emb, s, ret, con)
	return e, s
}

func TestScenario1_SingleTurnInsert(t *testing.T) {
	chat := &scriptedChat{reply: `{"data":[{"source_id":0,"fact":"User's name is Alice."}]}`}
	e, s := newTestEngine(t, config.RoleFilterUserOnly, chat)
	ctx := context.Background()

	result, err := e.AddMemory(ctx, []normalizer.RawMessage{
		{Role: "user", Content: "My name is Alice.", TimeStamp: "2024/01/15 (Mon) 10:00"},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FactsCreated)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out, err := e.Retrieve(ctx, "name", 5, store.Filters{})
	require.NoError(t, err)
	assert.Contains(t, out, "User's name is Alice.")
}

func TestScenario2_RoleFilterOnlySendsUserLines(t *testing.T) {
	chat := &scriptedChat{reply: `{"data":[]}`}
	e, _ := newTestEngine(t, config.RoleFilterUserOnly, chat)
	ctx := context.Background()

	_, err := e.AddMemory(ctx, []normalizer.RawMessage{
		{Role: "user", Content: "hi there", TimeStamp: "2024/01/15 (Mon) 10:00", SpeakerName: "user"},
		{Role: "assistant", Content: "hello back", TimeStamp: "2024/01/15 (Mon) 10:00", SpeakerName: "bot"},
	}, true)
	require.NoError(t, err)
	assert.Contains(t, chat.lastUser, "hi there")
	assert.NotContains(t, chat.lastUser, "hello back")
}

func TestScenario3_ConsolidationMerge(t *testing.T) {
	chat := &scriptedChat{reply: `{"action":"update","new_memory":"merged"}`}
	e, s := newTestEngine(t, config.RoleFilterHybrid, chat)
	ctx := context.Background()

	older := &store.FactRecord{ID: uuid.New(), Memory: "A", OriginalMemory: "A", FloatTimeStamp: 100, Embedding: []float32{1, 0, 0}}
	newer := &store.FactRecord{ID: uuid.New(), Memory: "B", OriginalMemory: "B", FloatTimeStamp: 200, Embedding: []float32{0.99, 0.14, 0}}
	require.NoError(t, s.Insert(ctx, older))
	require.NoError(t, s.Insert(ctx, newer))

	require.NoError(t, e.ConstructUpdateQueueAllEntries(ctx))
	require.NoError(t, e.OfflineUpdateAllEntries(ctx))

	gotNewer, err := s.Get(ctx, newer.ID)
	require.NoError(t, err)
	gotOlder, err := s.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "merged", gotNewer.Memory)
	assert.Equal(t, "A", gotOlder.Memory)
}

func TestScenario4_ConsolidationDelete(t *testing.T) {
	chat := &scriptedChat{reply: `{"action":"delete"}`}
	e, s := newTestEngine(t, config.RoleFilterHybrid, chat)
	ctx := context.Background()

	older := &store.FactRecord{ID: uuid.New(), Memory: "A", OriginalMemory: "A", FloatTimeStamp: 100, Embedding: []float32{1, 0, 0}}
	newer := &store.FactRecord{ID: uuid.New(), Memory: "B", OriginalMemory: "B", FloatTimeStamp: 200, Embedding: []float32{0.99, 0.14, 0}}
	require.NoError(t, s.Insert(ctx, older))
	require.NoError(t, s.Insert(ctx, newer))

	require.NoError(t, e.ConstructUpdateQueueAllEntries(ctx))
	require.NoError(t, e.OfflineUpdateAllEntries(ctx))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	gotOlder, err := s.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", gotOlder.Memory)
}

func TestScenario5_FilterOnRange(t *testing.T) {
	chat := &scriptedChat{}
	e, s := newTestEngine(t, config.RoleFilterHybrid, chat)
	ctx := context.Background()

	for _, ts := range []float64{100, 200, 300} {
		require.NoError(t, s.Insert(ctx, &store.FactRecord{ID: uuid.New(), Memory: fmt.Sprintf("m-%v", ts), FloatTimeStamp: ts, Embedding: []float32{1, 0, 0}}))
	}

	gte, lte := 150.0, 250.0
	out, err := e.Retrieve(ctx, "q", 10, store.Filters{FloatTimeStampGTE: &gte, FloatTimeStampLTE: &lte})
	require.NoError(t, err)
	assert.Contains(t, out, "m-200")
	assert.NotContains(t, out, "m-100")
	assert.NotContains(t, out, "m-300")
}

func TestScenario6_EmbedCacheHit(t *testing.T) {
	chat := &scriptedChat{}
	e, _ := newTestEngine(t, config.RoleFilterHybrid, chat)
	ctx := context.Background()

	v1, err := e.Embedder.Embed(ctx, "x")
	require.NoError(t, err)
	v2, err := e.Embedder.Embed(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	calls, _ := e.Embedder.Stats()
	assert.Equal(t, 1, calls)
}
