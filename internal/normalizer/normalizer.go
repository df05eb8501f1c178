// Package normalizer turns raw dialog messages into a strictly ordered,
// timestamp-bumped sequence per spec §4.1.
package normalizer

import (
	"fmt"
	"regexp"
	"time"

	"github.com/araddon/dateparse"
)

// BumpOffset is the fixed offset applied to messages sharing a session
// marker, guaranteeing a strict total order.
const BumpOffset = 500 * time.Millisecond

// RawMessage is one dialog turn as delivered by the host.
type RawMessage struct {
	Role        string
	Content     string
	TimeStamp   string // session marker, e.g. "2024/01/15 (Mon) 10:00"
	SpeakerID   string
	SpeakerName string
}

// NormalizedMessage is a RawMessage after timestamp parsing, bumping, and
// sequencing.
type NormalizedMessage struct {
	Role           string
	Content        string
	SpeakerID      string
	SpeakerName    string
	SessionTime    string // the original marker, kept for debugging
	TimeStamp      time.Time
	FloatTimeStamp float64
	Weekday        string
	SequenceNumber int
}

// InvalidMessageError reports a message that could not be normalized; the
// whole batch is rejected when this is returned (spec §4.1 Failure).
type InvalidMessageError struct {
	Index int
	Msg   RawMessage
	Err   error
}

func (e *InvalidMessageError) Error() string {
	return fmt.Sprintf("normalizer: message %d: %v", e.Index, e.Err)
}

func (e *InvalidMessageError) Unwrap() error { return e.Err }

// markerGrammar matches "YYYY[/-]MM[/-]DD (weekday) HH:MM[:SS]".
var markerGrammar = regexp.MustCompile(
	`^\s*(\d{4})[/-](\d{2})[/-](\d{2})\s*\((\w+)\)\s*(\d{2}):(\d{2})(?::(\d{2}))?\s*$`,
)

// Normalizer maintains the per-session-marker cursor across calls, so
// repeated calls sharing a marker continue bumping from where the last
// call left off.
type Normalizer struct {
	cursor map[string]time.Time
	next   int
}

// New returns a Normalizer with an empty cursor and sequence counter.
func New() *Normalizer {
	return &Normalizer{cursor: make(map[string]time.Time)}
}

// Normalize parses and bumps msgs in order, assigning sequence numbers that
// continue from any prior call on this Normalizer.
func (n *Normalizer) Normalize(msgs []RawMessage) ([]NormalizedMessage, error) {
	out := make([]NormalizedMessage, 0, len(msgs))
	for i, m := range msgs {
		if m.TimeStamp == "" {
			return nil, &InvalidMessageError{Index: i, Msg: m, Err: fmt.Errorf("missing timeStamp")}
		}
		instant, weekday, err := parseMarker(m.TimeStamp)
		if err != nil {
			return nil, &InvalidMessageError{Index: i, Msg: m, Err: err}
		}

		bumped := instant
		if prev, ok := n.cursor[m.TimeStamp]; ok {
			bumped = prev.Add(BumpOffset)
		}
		n.cursor[m.TimeStamp] = bumped

		out = append(out, NormalizedMessage{
			Role:           m.Role,
			Content:        m.Content,
			SpeakerID:      m.SpeakerID,
			SpeakerName:    m.SpeakerName,
			SessionTime:    m.TimeStamp,
			TimeStamp:      bumped,
			FloatTimeStamp: float64(bumped.UnixNano()) / 1e9,
			Weekday:        weekday,
			SequenceNumber: n.next,
		})
		n.next++
	}
	return out, nil
}

// parseMarker parses the primary grammar first, falling back to a
// permissive ISO parse (grounded on github.com/araddon/dateparse).
func parseMarker(marker string) (time.Time, string, error) {
	if m := markerGrammar.FindStringSubmatch(marker); m != nil {
		layout := "2006-01-02 15:04:05"
		datePart := fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])
		timePart := m[5] + ":" + m[6]
		if m[7] != "" {
			timePart += ":" + m[7]
		} else {
			timePart += ":00"
		}
		t, err := time.ParseInLocation(layout, datePart+" "+timePart, time.UTC)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("malformed marker %q: %w", marker, err)
		}
		return t, m[4], nil
	}

	t, err := dateparse.ParseAny(marker)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("unparseable marker %q: %w", marker, err)
	}
	return t, weekdayCode(t.Weekday()), nil
}

func weekdayCode(d time.Weekday) string {
	return d.String()[:3]
}
