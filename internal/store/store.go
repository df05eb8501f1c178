// Package store persists FactRecords with their vectors and exposes CRUD
// plus vector similarity search with metadata filters, per spec §3 and §4.5.
package store

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
)

// QueueEntry is one candidate in a record's updateQueue, populated by
// consolidation phase 1 and consumed by phase 2.
type QueueEntry struct {
	CandidateID uuid.UUID `json:"id"`
	Score       float64   `json:"score"`
}

// FactRecord is the single persistent entity of spec §3.
type FactRecord struct {
	ID             uuid.UUID
	TimeStamp      time.Time
	FloatTimeStamp float64
	Weekday        string
	Memory         string
	OriginalMemory string
	SpeakerID      string
	SpeakerName    string
	Category       string
	Subcategory    string
	MemoryClass    string
	TopicSummary   string
	TopicID        *int
	HitTime        int64
	UpdateQueue    []QueueEntry
	Embedding      []float32
}

// Filters is the AND-combined predicate grammar of §4.5.
type Filters struct {
	FloatTimeStampGTE *float64
	FloatTimeStampLTE *float64
	SpeakerID         *string
	Category          *string
}

// Matches reports whether r satisfies every predicate set in f.
func (f Filters) Matches(r *FactRecord) bool {
	if f.FloatTimeStampGTE != nil && r.FloatTimeStamp < *f.FloatTimeStampGTE {
		return false
	}
	if f.FloatTimeStampLTE != nil && r.FloatTimeStamp > *f.FloatTimeStampLTE {
		return false
	}
	if f.SpeakerID != nil && r.SpeakerID != *f.SpeakerID {
		return false
	}
	if f.Category != nil && r.Category != *f.Category {
		return false
	}
	return true
}

// SearchResult is one hit returned by Search.
type SearchResult struct {
	ID      uuid.UUID
	Score   float64
	Payload *FactRecord
}

// PartialUpdate carries the fields permitted to mutate by Update (§4.5):
// originalMemory and identity fields are immutable and therefore absent
// here by construction.
type PartialUpdate struct {
	Memory      *string
	Category    *string
	Subcategory *string
	HitTime     *int64
	UpdateQueue []QueueEntry
	Embedding   []float32
}

// FactStore is the capability interface collapsing the source's
// factory-style backend selection (spec §9 design note) into one
// interface per collaborator.
type FactStore interface {
	Insert(ctx context.Context, record *FactRecord) error
	Get(ctx context.Context, id uuid.UUID) (*FactRecord, error)
	GetAll(ctx context.Context, includeEmbedding bool) ([]*FactRecord, error)
	Update(ctx context.Context, id uuid.UUID, patch PartialUpdate) error
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context) (int, error)
	Search(ctx context.Context, queryVector []float32, k int, filters Filters) ([]SearchResult, error)
}

// CosineSimilarity computes (a·b)/(‖a‖·‖b‖), returning 0 when either norm
// is 0, per §4.5.
func CosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
