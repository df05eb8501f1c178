package consolidator

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silvertrail/recall/internal/llmclient"
	"github.com/silvertrail/recall/internal/store"
)

type fixtureChat struct {
	reply string
}

func (f *fixtureChat) Chat(_ context.Context, _, _ string, _ int) (string, llmclient.Usage, error) {
	return f.reply, llmclient.Usage{TotalTokens: 1}, nil
}

func seedAAndB(t *testing.T, s *store.MemoryStore) (older, newer *store.FactRecord) {
	t.Helper()
	ctx := context.Background()
	older = &store.FactRecord{ID: uuid.New(), Memory: "A", OriginalMemory: "A", FloatTimeStamp: 100, Embedding: []float32{1, 0, 0}}
	newer = &store.FactRecord{ID: uuid.New(), Memory: "B", OriginalMemory: "B", FloatTimeStamp: 200, Embedding: []float32{0.99, 0.14, 0}}
	require.NoError(t, s.Insert(ctx, older))
	require.NoError(t, s.Insert(ctx, newer))
	return older, newer
}

func TestPhase1_SelfExclusionAndTemporalDirectionality(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	older, newer := seedAAndB(t, s)

	c := New(s, &fixtureChat{}, nil, Config{TopK: 5, KeepTopN: 5, ScoreThreshold: 0.9})
	require.NoError(t, c.ConstructUpdateQueueAllEntries(ctx))

	gotNewer, err := s.Get(ctx, newer.ID)
	require.NoError(t, err)
	gotOlder, err := s.Get(ctx, older.ID)
	require.NoError(t, err)

	assert.True(t, containsCandidate(gotNewer.UpdateQueue, older.ID))
	assert.False(t, containsCandidate(gotOlder.UpdateQueue, newer.ID))
	for _, q := range gotNewer.UpdateQueue {
		assert.NotEqual(t, newer.ID, q.CandidateID, "no record should reference itself")
	}
}

func TestPhase2_UpdateMergesOlderIntoNewer(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	older, newer := seedAAndB(t, s)

	c := New(s, &fixtureChat{reply: `{"action":"update","new_memory":"merged"}`}, nil, Config{TopK: 5, KeepTopN: 5, ScoreThreshold: 0.9})
	require.NoError(t, c.ConstructUpdateQueueAllEntries(ctx))
	_, err := c.OfflineUpdateAllEntries(ctx)
	require.NoError(t, err)

	gotNewer, err := s.Get(ctx, newer.ID)
	require.NoError(t, err)
	gotOlder, err := s.Get(ctx, older.ID)
	require.NoError(t, err)

	assert.Equal(t, "merged", gotNewer.Memory)
	assert.Equal(t, "A", gotOlder.Memory)
}

func TestPhase2_DeleteRemovesTargetOnly(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	older, newer := seedAAndB(t, s)
	_ = newer

	c := New(s, &fixtureChat{reply: `{"action":"delete"}`}, nil, Config{TopK: 5, KeepTopN: 5, ScoreThreshold: 0.9})
	require.NoError(t, c.ConstructUpdateQueueAllEntries(ctx))
	_, err := c.OfflineUpdateAllEntries(ctx)
	require.NoError(t, err)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	gotOlder, err := s.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", gotOlder.Memory)
}

func TestPhase2_IdempotentWithIgnoreFixture(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedAAndB(t, s)

	c := New(s, &fixtureChat{reply: `{"action":"ignore"}`}, nil, Config{TopK: 5, KeepTopN: 5, ScoreThreshold: 0.9})
	require.NoError(t, c.ConstructUpdateQueueAllEntries(ctx))

	before, err := s.GetAll(ctx, false)
	require.NoError(t, err)
	_, err = c.OfflineUpdateAllEntries(ctx)
	require.NoError(t, err)
	_, err = c.OfflineUpdateAllEntries(ctx)
	require.NoError(t, err)
	after, err := s.GetAll(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, snapshotMemories(before), snapshotMemories(after))
}

func containsCandidate(q []store.QueueEntry, id uuid.UUID) bool {
	for _, e := range q {
		if e.CandidateID == id {
			return true
		}
	}
	return false
}

func snapshotMemories(records []*store.FactRecord) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		out[r.ID.String()] = r.Memory
	}
	return out
}
