// Package buffer holds normalized messages until an extraction trigger
// fires, per spec §4.2.
package buffer

import "github.com/silvertrail/recall/internal/normalizer"

// DefaultMessageThreshold is the default "≥10 messages" trigger named in
// spec §4.8.
const DefaultMessageThreshold = 10

// tokensPerContent estimates token cost the way the teacher's tokenizer
// does (len(runes)/4 + 1), not a bare ceil(len/4).
func tokensPerContent(content string) int {
	return len([]rune(content))/4 + 1
}

// ShortTermBuffer is a single-producer, single-consumer FIFO with a
// message-count and token-budget trigger.
type ShortTermBuffer struct {
	MessageThreshold int
	TokenThreshold   int

	messages []normalizer.NormalizedMessage
	tokens   int
	nextSeq  int
}

// New returns a buffer with the given thresholds. A zero TokenThreshold
// disables the token trigger; MessageThreshold defaults to
// DefaultMessageThreshold when zero.
func New(messageThreshold, tokenThreshold int) *ShortTermBuffer {
	if messageThreshold == 0 {
		messageThreshold = DefaultMessageThreshold
	}
	return &ShortTermBuffer{MessageThreshold: messageThreshold, TokenThreshold: tokenThreshold}
}

// Push appends msgs, re-stamping their SequenceNumber so it runs
// contiguously over the exact segment Flush will later return — this
// guarantees the extractor's floor(sequenceNumber/2) source ids never
// collide across multiple Push calls feeding one flush. It reports whether
// the buffer has reached a trigger threshold.
func (b *ShortTermBuffer) Push(msgs []normalizer.NormalizedMessage) (ready bool) {
	for _, m := range msgs {
		m.SequenceNumber = b.nextSeq
		b.nextSeq++
		b.tokens += tokensPerContent(m.Content)
		b.messages = append(b.messages, m)
	}
	return b.ready()
}

func (b *ShortTermBuffer) ready() bool {
	if len(b.messages) >= b.MessageThreshold {
		return true
	}
	if b.TokenThreshold > 0 && b.tokens >= b.TokenThreshold {
		return true
	}
	return false
}

// Len reports the number of buffered messages.
func (b *ShortTermBuffer) Len() int { return len(b.messages) }

// Flush empties the buffer and returns its contents, resetting the
// sequence counter for the next segment.
func (b *ShortTermBuffer) Flush() []normalizer.NormalizedMessage {
	out := b.messages
	b.messages = nil
	b.tokens = 0
	b.nextSeq = 0
	return out
}
