package extractor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silvertrail/recall/internal/config"
	"github.com/silvertrail/recall/internal/llmclient"
	"github.com/silvertrail/recall/internal/normalizer"
)

type fakeChat struct {
	reply      string
	lastSystem string
	lastUser   string
	err        error
}

func (f *fakeChat) Chat(_ context.Context, system, user string, _ int) (string, llmclient.Usage, error) {
	f.lastSystem, f.lastUser = system, user
	if f.err != nil {
		return "", llmclient.Usage{}, f.err
	}
	return f.reply, llmclient.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, nil
}

func segment(msgs ...normalizer.NormalizedMessage) Segment {
	return Segment{Topic: 1, Messages: msgs}
}

func TestExtractSegment_ObjectForm(t *testing.T) {
	chat := &fakeChat{reply: `{"data":[{"source_id":0,"fact":"User's name is Alice."}]}`}
	e := New(chat, config.RoleFilterHybrid)

	result, err := e.ExtractSegment(context.Background(), segment(
		normalizer.NormalizedMessage{Role: "user", Content: "My name is Alice.", SpeakerName: "user", TimeStamp: time.Now(), SequenceNumber: 0},
	))
	require.NoError(t, err)
	require.Len(t, result.Facts, 1)
	assert.Equal(t, 0, result.Facts[0].SourceID)
	assert.Equal(t, "User's name is Alice.", result.Facts[0].Fact)
	assert.Equal(t, 15, result.Usage.TotalTokens)
}

func TestExtractSegment_BareArrayAndCodeFence(t *testing.T) {
	chat := &fakeChat{reply: "```json\n[{\"source_id\":0,\"fact\":\"x\"}]\n```"}
	e := New(chat, config.RoleFilterHybrid)

	result, err := e.ExtractSegment(context.Background(), segment(
		normalizer.NormalizedMessage{Role: "user", Content: "x", TimeStamp: time.Now()},
	))
	require.NoError(t, err)
	require.Len(t, result.Facts, 1)
}

func TestExtractSegment_RoleFilterExcludesAssistant(t *testing.T) {
	chat := &fakeChat{reply: `{"data":[]}`}
	e := New(chat, config.RoleFilterUserOnly)

	_, err := e.ExtractSegment(context.Background(), segment(
		normalizer.NormalizedMessage{Role: "user", Content: "hi", SpeakerName: "user", TimeStamp: time.Now()},
		normalizer.NormalizedMessage{Role: "assistant", Content: "hello", SpeakerName: "bot", TimeStamp: time.Now()},
	))
	require.NoError(t, err)
	assert.Contains(t, chat.lastUser, "hi")
	assert.NotContains(t, chat.lastUser, "hello")
}

func TestExtractSegment_UpstreamUnavailableYieldsError(t *testing.T) {
	chat := &fakeChat{err: assert.AnError}
	e := New(chat, config.RoleFilterHybrid)

	result, err := e.ExtractSegment(context.Background(), segment())
	require.Error(t, err)
	assert.Empty(t, result.Facts)
}

func TestExtractSegment_MalformedJSONYieldsError(t *testing.T) {
	chat := &fakeChat{reply: "not json"}
	e := New(chat, config.RoleFilterHybrid)

	result, err := e.ExtractSegment(context.Background(), segment())
	require.Error(t, err)
	assert.Empty(t, result.Facts)
}
