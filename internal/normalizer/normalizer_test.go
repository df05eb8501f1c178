package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_BumpsSharedMarker(t *testing.T) {
	n := New()
	msgs := []RawMessage{
		{Role: "user", Content: "hi", TimeStamp: "2024/01/15 (Mon) 10:00"},
		{Role: "assistant", Content: "hello", TimeStamp: "2024/01/15 (Mon) 10:00"},
		{Role: "user", Content: "bye", TimeStamp: "2024/01/15 (Mon) 10:00"},
	}

	out, err := n.Normalize(msgs)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.True(t, out[1].TimeStamp.After(out[0].TimeStamp))
	assert.Equal(t, BumpOffset, out[1].TimeStamp.Sub(out[0].TimeStamp))
	assert.Equal(t, BumpOffset, out[2].TimeStamp.Sub(out[1].TimeStamp))
	assert.Equal(t, "Mon", out[0].Weekday)
	assert.Equal(t, []int{0, 1, 2}, []int{out[0].SequenceNumber, out[1].SequenceNumber, out[2].SequenceNumber})
}

func TestNormalize_SequenceContinuesAcrossCalls(t *testing.T) {
	n := New()
	first, err := n.Normalize([]RawMessage{{Role: "user", Content: "a", TimeStamp: "2024/01/15 (Mon) 10:00"}})
	require.NoError(t, err)
	second, err := n.Normalize([]RawMessage{{Role: "user", Content: "b", TimeStamp: "2024/01/16 (Tue) 11:00"}})
	require.NoError(t, err)

	assert.Equal(t, 0, first[0].SequenceNumber)
	assert.Equal(t, 1, second[0].SequenceNumber)
}

func TestNormalize_PermissiveFallback(t *testing.T) {
	n := New()
	out, err := n.Normalize([]RawMessage{{Role: "user", Content: "a", TimeStamp: "2024-01-15T10:00:00Z"}})
	require.NoError(t, err)
	assert.Equal(t, "Mon", out[0].Weekday)
}

func TestNormalize_RejectsBatchOnUnparseableMarker(t *testing.T) {
	n := New()
	_, err := n.Normalize([]RawMessage{
		{Role: "user", Content: "a", TimeStamp: "2024/01/15 (Mon) 10:00"},
		{Role: "user", Content: "b", TimeStamp: "not a date"},
	})
	var invalid *InvalidMessageError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 1, invalid.Index)
}

func TestNormalize_MissingTimeStamp(t *testing.T) {
	n := New()
	_, err := n.Normalize([]RawMessage{{Role: "user", Content: "a"}})
	require.Error(t, err)
}
