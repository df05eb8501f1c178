package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/silvertrail/recall/internal/telemetry"
)

// MemoryStore is an in-process brute-force FactStore, used by the test
// suite and by cmd/recallctl when no database is configured. It is the
// reference implementation §8's testable properties are checked against.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*FactRecord
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*FactRecord)}
}

func clone(r *FactRecord) *FactRecord {
	cp := *r
	cp.Embedding = append([]float32(nil), r.Embedding...)
	cp.UpdateQueue = append([]QueueEntry(nil), r.UpdateQueue...)
	return &cp
}

// Insert upserts by id (idempotent in id, per §4.5).
func (s *MemoryStore) Insert(ctx context.Context, record *FactRecord) error {
	_, span := telemetry.StartSpan(ctx, "store.Insert")
	defer span.End()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = clone(record)
	return nil
}

// Get returns a single record including its embedding.
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*FactRecord, error) {
	_, span := telemetry.StartSpan(ctx, "store.Get")
	defer span.End()
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("store: record %s not found", id)
	}
	return clone(r), nil
}

// GetAll performs a full scan; order is unspecified.
func (s *MemoryStore) GetAll(ctx context.Context, includeEmbedding bool) ([]*FactRecord, error) {
	_, span := telemetry.StartSpan(ctx, "store.GetAll")
	defer span.End()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*FactRecord, 0, len(s.records))
	for _, r := range s.records {
		cp := clone(r)
		if !includeEmbedding {
			cp.Embedding = nil
		}
		out = append(out, cp)
	}
	return out, nil
}

// Update applies a field-level patch; originalMemory and identity fields
// are immutable by construction (PartialUpdate carries no such field).
func (s *MemoryStore) Update(ctx context.Context, id uuid.UUID, patch PartialUpdate) error {
	_, span := telemetry.StartSpan(ctx, "store.Update")
	defer span.End()
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("store: record %s not found", id)
	}
	if patch.Memory != nil {
		r.Memory = *patch.Memory
	}
	if patch.Category != nil {
		r.Category = *patch.Category
	}
	if patch.Subcategory != nil {
		r.Subcategory = *patch.Subcategory
	}
	if patch.HitTime != nil {
		r.HitTime = *patch.HitTime
	}
	if patch.UpdateQueue != nil {
		r.UpdateQueue = patch.UpdateQueue
	}
	if patch.Embedding != nil {
		r.Embedding = patch.Embedding
	}
	return nil
}

// Delete hard-removes id; deleting an absent id is a no-op (idempotent,
// matching the consolidator's resumability requirement in §7).
func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, span := telemetry.StartSpan(ctx, "store.Delete")
	defer span.End()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// Count returns the total record count.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	_, span := telemetry.StartSpan(ctx, "store.Count")
	defer span.End()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Search returns the top-k hits by cosine similarity descending, ties
// broken by ascending record ID string compare (a deterministic but
// arbitrary secondary key, per §4.5 and the Open Question decision in
// DESIGN.md on same-timestamp tie tolerance).
func (s *MemoryStore) Search(ctx context.Context, queryVector []float32, k int, filters Filters) ([]SearchResult, error) {
	_, span := telemetry.StartSpan(ctx, "store.Search")
	defer span.End()
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]SearchResult, 0, len(s.records))
	for _, r := range s.records {
		if !filters.Matches(r) {
			continue
		}
		hits = append(hits, SearchResult{
			ID:      r.ID,
			Score:   CosineSimilarity(queryVector, r.Embedding),
			Payload: clone(r),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID.String() < hits[j].ID.String()
	})

	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
