// Package engine binds the Normalizer, Buffer, Extractor, Embedder, Fact
// Store, Retriever, and Consolidator into the five public operations of
// spec §4.8.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/silvertrail/recall/internal/buffer"
	"github.com/silvertrail/recall/internal/consolidator"
	"github.com/silvertrail/recall/internal/embedder"
	"github.com/silvertrail/recall/internal/extractor"
	"github.com/silvertrail/recall/internal/llmclient"
	"github.com/silvertrail/recall/internal/normalizer"
	"github.com/silvertrail/recall/internal/retriever"
	"github.com/silvertrail/recall/internal/store"
)

// counterSet accumulates one collaborator's running totals (§4.8
// getTokenStatistics).
type counterSet struct {
	Calls            int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func (c *counterSet) add(u llmclient.Usage) {
	c.Calls++
	c.PromptTokens += u.PromptTokens
	c.CompletionTokens += u.CompletionTokens
	c.TotalTokens += u.TotalTokens
}

// TokenStatistics is the return shape of getTokenStatistics (§4.8 op 5).
type TokenStatistics struct {
	AddMemory counterSet
	Update    counterSet
	Embedding struct {
		Calls  int
		Tokens int
	}
}

// AddMemoryResult is addMemory's return value (§4.8 op 1): counts plus the
// raw prompts/responses for audit.
type AddMemoryResult struct {
	FactsCreated int
	Prompts      []string
	Responses    []string
}

// AuditSink receives best-effort, non-aborting audit writes (§4.8
// [ADDED]); the Engine calls them only when its Audit field is non-nil.
type AuditSink interface {
	RecordConsolidationDecision(ctx context.Context, targetID uuid.UUID, action string, sourceIDs []uuid.UUID) error
	RecordTokenUsage(ctx context.Context, operation string, usage llmclient.Usage) error
}

// SnapshotStore is the optional export/import collaborator (component K).
type SnapshotStore interface {
	Export(ctx context.Context, records []*store.FactRecord) error
	Import(ctx context.Context) ([]*store.FactRecord, error)
}

// Engine is the caller-owned facade; there is no package-level singleton
// (spec §9 design note on global mutable state).
type Engine struct {
	Normalizer   *normalizer.Normalizer
	Buffer       *buffer.ShortTermBuffer
	Extractor    *extractor.Extractor
	Embedder     *embedder.Embedder
	Store        store.FactStore
	Retriever    *retriever.Retriever
	Consolidator *consolidator.Consolidator

	Audit    AuditSink
	Snapshot SnapshotStore

	mu    sync.Mutex
	stats TokenStatistics
}

// New wires the required collaborators. Audit and Snapshot may be left
// nil; their absence never changes the core data flow.
func New(n *normalizer.Normalizer, b *buffer.ShortTermBuffer, ex *extractor.Extractor, emb *embedder.Embedder, s store.FactStore, ret *retriever.Retriever, con *consolidator.Consolidator) *Engine {
	return &Engine{Normalizer: n, Buffer: b, Extractor: ex, Embedder: emb, Store: s, Retriever: ret, Consolidator: con}
}

// AddMemory is §4.8 op 1: normalize → buffer → (on trigger) extract,
// synthesize, embed, insert.
func (e *Engine) AddMemory(ctx context.Context, msgs []normalizer.RawMessage, forceExtract bool) (AddMemoryResult, error) {
	normalized, err := e.Normalizer.Normalize(msgs)
	if err != nil {
		return AddMemoryResult{}, fmt.Errorf("engine: %w: %v", ErrInvalidInput, err)
	}

	ready := e.Buffer.Push(normalized)
	if !ready && !forceExtract {
		return AddMemoryResult{}, nil
	}
	if e.Buffer.Len() == 0 {
		return AddMemoryResult{}, nil
	}

	segmentMsgs := e.Buffer.Flush()
	result, err := e.Extractor.ExtractSegment(ctx, extractor.Segment{Topic: 0, Messages: segmentMsgs})

	e.mu.Lock()
	e.stats.AddMemory.add(result.Usage)
	e.mu.Unlock()
	e.auditUsage(ctx, "addMemory", result.Usage)

	if err != nil {
		// Upstream-unavailable/malformed: zero facts, operation does not
		// abort (spec §7 kinds 2-3).
		return AddMemoryResult{Prompts: []string{result.Prompt}, Responses: []string{result.Reply}}, nil
	}

	created, err := e.synthesizeAndStore(ctx, result.Facts, segmentMsgs)
	if err != nil {
		return AddMemoryResult{}, fmt.Errorf("engine: %w: %v", ErrStoreFailure, err)
	}

	return AddMemoryResult{
		FactsCreated: created,
		Prompts:      []string{result.Prompt},
		Responses:    []string{result.Reply},
	}, nil
}

// synthesizeAndStore implements the FactRecord synthesis rule of §4.8.
func (e *Engine) synthesizeAndStore(ctx context.Context, facts []extractor.ExtractedFact, segment []normalizer.NormalizedMessage) (int, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	bySourceID := make(map[int]normalizer.NormalizedMessage, len(segment))
	for _, m := range segment {
		bySourceID[m.SequenceNumber/2] = m
	}

	texts := make([]string, len(facts))
	for i, f := range facts {
		texts[i] = f.Fact
	}
	vectors, err := e.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		log.Warn().Err(err).Msg("engine: embedding failed for new facts")
		return 0, fmt.Errorf("embed new facts: %w", err)
	}
	if calls, usage := e.Embedder.Stats(); calls > 0 {
		e.mu.Lock()
		e.stats.Embedding.Calls = calls
		e.stats.Embedding.Tokens = usage.TotalTokens
		e.mu.Unlock()
	}

	now := time.Now().UTC()
	created := 0
	for i, f := range facts {
		r := &store.FactRecord{
			ID:             uuid.New(),
			Memory:         f.Fact,
			OriginalMemory: f.Fact,
			HitTime:        0,
			Embedding:      vectors[i],
		}
		if m, ok := bySourceID[f.SourceID]; ok {
			r.TimeStamp = m.TimeStamp
			r.FloatTimeStamp = m.FloatTimeStamp
			r.Weekday = m.Weekday
			r.SpeakerID = m.SpeakerID
			r.SpeakerName = m.SpeakerName
		} else {
			r.TimeStamp = now
			r.FloatTimeStamp = float64(now.UnixNano()) / 1e9
		}

		if err := e.Store.Insert(ctx, r); err != nil {
			log.Warn().Err(err).Str("fact", f.Fact).Msg("engine: insert failed")
			return created, fmt.Errorf("insert fact: %w", err)
		}
		created++
	}
	return created, nil
}

func (e *Engine) auditUsage(ctx context.Context, operation string, usage llmclient.Usage) {
	if e.Audit == nil {
		return
	}
	if err := e.Audit.RecordTokenUsage(ctx, operation, usage); err != nil {
		log.Warn().Err(err).Str("operation", operation).Msg("engine: audit write failed, ignoring")
	}
}

// Retrieve is §4.8 op 2 / §4.6.
func (e *Engine) Retrieve(ctx context.Context, query string, k int, filters store.Filters) (string, error) {
	out, err := e.Retriever.Retrieve(ctx, query, k, filters)
	if err != nil {
		return "", fmt.Errorf("engine: %w: %v", ErrUpstreamUnavailable, err)
	}
	return out, nil
}

// ConstructUpdateQueueAllEntries is §4.8 op 3 / §4.7 phase 1.
func (e *Engine) ConstructUpdateQueueAllEntries(ctx context.Context) error {
	if err := e.Consolidator.ConstructUpdateQueueAllEntries(ctx); err != nil {
		return fmt.Errorf("engine: %w: %v", ErrStoreFailure, err)
	}
	return nil
}

// OfflineUpdateAllEntries is §4.8 op 4 / §4.7 phase 2.
func (e *Engine) OfflineUpdateAllEntries(ctx context.Context) error {
	if e.Audit != nil {
		e.Consolidator.OnDecision = func(targetID uuid.UUID, action string, sourceIDs []uuid.UUID) {
			if err := e.Audit.RecordConsolidationDecision(ctx, targetID, action, sourceIDs); err != nil {
				log.Warn().Err(err).Str("target", targetID.String()).Msg("engine: audit decision write failed, ignoring")
			}
		}
	}

	usage, err := e.Consolidator.OfflineUpdateAllEntries(ctx)
	e.mu.Lock()
	e.stats.Update.add(usage)
	e.mu.Unlock()
	e.auditUsage(ctx, "update", usage)
	if err != nil {
		return fmt.Errorf("engine: %w: %v", ErrStoreFailure, err)
	}
	return nil
}

// GetTokenStatistics is §4.8 op 5. Every read is also appended to the
// audit sink as a zero-usage "getTokenStatistics" event marking that the
// read happened, mirroring the best-effort, non-aborting pattern of
// auditUsage elsewhere.
func (e *Engine) GetTokenStatistics(ctx context.Context) TokenStatistics {
	e.mu.Lock()
	stats := e.stats
	e.mu.Unlock()

	e.auditUsage(ctx, "getTokenStatistics", llmclient.Usage{})

	return stats
}

// TakeSnapshot and Restore are optional wiring (component K); they
// participate in no correctness property and are no-ops when Snapshot is
// unconfigured.
func (e *Engine) TakeSnapshot(ctx context.Context) error {
	if e.Snapshot == nil {
		return nil
	}
	records, err := e.Store.GetAll(ctx, true)
	if err != nil {
		return fmt.Errorf("engine: snapshot load: %w", err)
	}
	return e.Snapshot.Export(ctx, records)
}

func (e *Engine) Restore(ctx context.Context) error {
	if e.Snapshot == nil {
		return nil
	}
	records, err := e.Snapshot.Import(ctx)
	if err != nil {
		return fmt.Errorf("engine: snapshot import: %w", err)
	}
	for _, r := range records {
		if err := e.Store.Insert(ctx, r); err != nil {
			return fmt.Errorf("engine: snapshot restore insert: %w", err)
		}
	}
	return nil
}
