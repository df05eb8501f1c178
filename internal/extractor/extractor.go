// Package extractor sends buffered messages to an LLM using a fixed
// prompt and parses the JSON reply into (source_id, fact) pairs, per spec
// §4.3.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/silvertrail/recall/internal/config"
	"github.com/silvertrail/recall/internal/llmclient"
	"github.com/silvertrail/recall/internal/normalizer"
	"github.com/silvertrail/recall/internal/telemetry"
)

// ExtractedFact is one (source_id, fact) pair parsed from the LLM reply.
type ExtractedFact struct {
	SourceID int
	Fact     string
}

// Segment is an ordered list of normalized messages to extract from,
// paired with a topic index used purely for the user-prompt label (topic
// segmentation itself is a stub per spec §9 — one segment per flush).
type Segment struct {
	Topic    int
	Messages []normalizer.NormalizedMessage
}

// Extractor renders segments to text and calls the chat collaborator.
type Extractor struct {
	Client     llmclient.ChatClient
	RoleFilter config.RoleFilter
}

// New returns an Extractor using client and the given role filter policy.
func New(client llmclient.ChatClient, filter config.RoleFilter) *Extractor {
	return &Extractor{Client: client, RoleFilter: filter}
}

func (e *Extractor) keep(role string) bool {
	switch e.RoleFilter {
	case config.RoleFilterUserOnly:
		return role == "user"
	case config.RoleFilterAssistantOnly:
		return role == "assistant"
	default:
		return true
	}
}

// Result carries the extracted facts plus the raw prompt/reply pair, kept
// for the Engine's per-call audit trail (§4.8 addMemory return value).
type Result struct {
	Facts  []ExtractedFact
	Prompt string
	Reply  string
	Usage  llmclient.Usage
}

// ExtractSegment runs steps 1-6 of §4.3 for one segment. A network, parse,
// or schema error yields zero facts and a non-nil error; the caller (the
// Engine, which extracts one segment per flush) treats this as a zero-fact
// result and does not abort the addMemory operation.
func (e *Extractor) ExtractSegment(ctx context.Context, seg Segment) (Result, error) {
	kept := make([]normalizer.NormalizedMessage, 0, len(seg.Messages))
	for _, m := range seg.Messages {
		if e.keep(m.Role) {
			kept = append(kept, m)
		}
	}

	rendered := render(kept)
	userPrompt := fmt.Sprintf("--- Topic %d ---\n%s", seg.Topic, rendered)

	spanCtx, span := telemetry.StartSpan(ctx, "extractor.ExtractSegment")
	defer span.End()

	content, usage, err := e.Client.Chat(spanCtx, extractionPrompt, userPrompt, 0)
	if err != nil {
		log.Warn().Err(err).Int("topic", seg.Topic).Msg("extractor: chat call failed")
		return Result{Prompt: userPrompt, Usage: usage}, fmt.Errorf("extractor: chat call: %w", err)
	}

	facts, err := parseReply(content)
	if err != nil {
		log.Warn().Err(err).Int("topic", seg.Topic).Msg("extractor: reply parse failed")
		return Result{Prompt: userPrompt, Reply: content, Usage: usage}, fmt.Errorf("extractor: parse reply: %w", err)
	}

	return Result{Facts: facts, Prompt: userPrompt, Reply: content, Usage: usage}, nil
}

// render formats kept messages one per line using the fixed format of
// §4.3 step 2.
func render(msgs []normalizer.NormalizedMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		sourceID := m.SequenceNumber / 2
		fmt.Fprintf(&b, "[%s, %s] %d.%s: %s\n",
			m.TimeStamp.Format(time.RFC3339), m.Weekday, sourceID, m.SpeakerName, m.Content)
	}
	return b.String()
}

// replyEnvelope matches the object form {"data": [...]}.
type replyEnvelope struct {
	Data []rawFact `json:"data"`
}

type rawFact struct {
	SourceID int    `json:"source_id"`
	Fact     string `json:"fact"`
}

// parseReply strips a surrounding code fence and accepts either the
// object-with-data form or a bare array (§4.3 step 5).
func parseReply(content string) ([]ExtractedFact, error) {
	trimmed := StripCodeFence(content)

	var raws []rawFact
	var env replyEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err == nil && env.Data != nil {
		raws = env.Data
	} else if err := json.Unmarshal([]byte(trimmed), &raws); err != nil {
		return nil, fmt.Errorf("unrecognized reply shape: %w", err)
	}

	out := make([]ExtractedFact, 0, len(raws))
	for _, r := range raws {
		out = append(out, ExtractedFact{SourceID: r.SourceID, Fact: r.Fact})
	}
	return out, nil
}

// StripCodeFence removes a surrounding ```...``` or ```json...``` fence if
// present, grounded on the teacher-adjacent util.StripCodeFence pattern.
// Exported so sibling packages whose LLM replies follow the same
// convention (internal/consolidator) can reuse it instead of duplicating it.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx != -1 && !strings.HasPrefix(strings.TrimSpace(s[:idx]), "{") && !strings.HasPrefix(strings.TrimSpace(s[:idx]), "[") {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
