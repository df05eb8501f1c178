package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/silvertrail/recall/internal/normalizer"
)

func msgs(n int) []normalizer.NormalizedMessage {
	out := make([]normalizer.NormalizedMessage, n)
	for i := range out {
		out[i] = normalizer.NormalizedMessage{Content: "hello world", SequenceNumber: 999}
	}
	return out
}

func TestPush_MessageThreshold(t *testing.T) {
	b := New(3, 0)
	assert.False(t, b.Push(msgs(2)))
	assert.True(t, b.Push(msgs(1)))
	assert.Equal(t, 3, b.Len())
}

func TestPush_RenumbersSequenceAcrossCalls(t *testing.T) {
	b := New(10, 0)
	b.Push(msgs(2))
	b.Push(msgs(2))
	flushed := b.Flush()
	for i, m := range flushed {
		assert.Equal(t, i, m.SequenceNumber)
	}
}

func TestFlush_ResetsState(t *testing.T) {
	b := New(2, 0)
	b.Push(msgs(2))
	first := b.Flush()
	assert.Len(t, first, 2)
	assert.Equal(t, 0, b.Len())

	b.Push(msgs(1))
	second := b.Flush()
	assert.Equal(t, 0, second[0].SequenceNumber)
}

func TestPush_TokenThreshold(t *testing.T) {
	b := New(100, 3)
	assert.True(t, b.Push(msgs(1)))
}
