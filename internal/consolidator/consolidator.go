// Package consolidator implements the offline two-phase procedure that
// builds per-fact candidate queues and then decides update/delete/ignore
// actions via an LLM, per spec §4.7.
package consolidator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/silvertrail/recall/internal/extractor"
	"github.com/silvertrail/recall/internal/llmclient"
	"github.com/silvertrail/recall/internal/store"
	"github.com/silvertrail/recall/internal/telemetry"
)

// Config carries the two-phase procedure's tunables, with spec-default
// values.
type Config struct {
	TopK           int
	KeepTopN       int
	ScoreThreshold float64
	// RecomputeEmbeddingOnUpdate resolves the spec §9 Open Question on
	// embedding staleness: false (the default) matches the source's
	// behavior of never recomputing an embedding after a phase-2 update.
	RecomputeEmbeddingOnUpdate bool
}

// DefaultConfig returns the spec's stated defaults (topK=20, keepTopN=10,
// scoreThreshold=0.9).
func DefaultConfig() Config {
	return Config{TopK: 20, KeepTopN: 10, ScoreThreshold: 0.9, RecomputeEmbeddingOnUpdate: false}
}

// Consolidator binds the fact store, the chat collaborator, and an
// embedder used only when RecomputeEmbeddingOnUpdate is enabled.
type Consolidator struct {
	Store  store.FactStore
	Client llmclient.ChatClient
	Embed  func(ctx context.Context, text string) ([]float32, error)
	Config Config

	// OnDecision, when set, is invoked after every applied phase-2
	// decision (§4.8 [ADDED] audit wiring). It must tolerate being
	// called with a best-effort semantics — errors are the caller's
	// concern, not the consolidator's.
	OnDecision func(targetID uuid.UUID, action string, sourceIDs []uuid.UUID)
}

// New returns a Consolidator. embed may be nil when
// cfg.RecomputeEmbeddingOnUpdate is false.
func New(s store.FactStore, client llmclient.ChatClient, embed func(context.Context, string) ([]float32, error), cfg Config) *Consolidator {
	return &Consolidator{Store: s, Client: client, Embed: embed, Config: cfg}
}

// ConstructUpdateQueueAllEntries is phase 1. It loads every record with its
// embedding and, for each, searches for older-or-equal similar records,
// excluding self-matches, truncates to KeepTopN, and writes the queue back.
// Scores are comparable across records because nothing mutates any
// record's embedding or floatTimeStamp during this phase — only the
// updateQueue field itself is written.
func (c *Consolidator) ConstructUpdateQueueAllEntries(ctx context.Context) error {
	records, err := c.Store.GetAll(ctx, true)
	if err != nil {
		return fmt.Errorf("consolidator: phase1 load: %w", err)
	}

	for _, r := range records {
		lte := r.FloatTimeStamp
		hits, err := c.Store.Search(ctx, r.Embedding, c.Config.TopK, store.Filters{FloatTimeStampLTE: &lte})
		if err != nil {
			log.Warn().Err(err).Str("id", r.ID.String()).Msg("consolidator: phase1 search failed")
			continue
		}

		queue := make([]store.QueueEntry, 0, c.Config.KeepTopN)
		for _, hit := range hits {
			if hit.ID == r.ID {
				continue
			}
			queue = append(queue, store.QueueEntry{CandidateID: hit.ID, Score: hit.Score})
			if len(queue) == c.Config.KeepTopN {
				break
			}
		}

		if err := c.Store.Update(ctx, r.ID, store.PartialUpdate{UpdateQueue: queue}); err != nil {
			log.Warn().Err(err).Str("id", r.ID.String()).Msg("consolidator: phase1 write-back failed")
		}
	}
	return nil
}

// decision is the parsed §4.7 phase 2 step 5 reply.
type decision struct {
	Action    string `json:"action"`
	NewMemory string `json:"new_memory"`
}

// OfflineUpdateAllEntries is phase 2. It reloads every record and, for each
// one, resolves its own updateQueue entries (filtered by ScoreThreshold)
// into the source records that matched it, then asks the LLM to
// update/delete/ignore. Targets are processed in reload order; a failure
// on one target is logged and the next proceeds.
func (c *Consolidator) OfflineUpdateAllEntries(ctx context.Context) (llmclient.Usage, error) {
	records, err := c.Store.GetAll(ctx, false)
	if err != nil {
		return llmclient.Usage{}, fmt.Errorf("consolidator: phase2 load: %w", err)
	}

	byID := make(map[uuid.UUID]*store.FactRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	var total llmclient.Usage
	for _, t := range records {
		var sources []*store.FactRecord
		for _, entry := range t.UpdateQueue {
			if entry.Score < c.Config.ScoreThreshold {
				continue
			}
			if candidate, ok := byID[entry.CandidateID]; ok {
				sources = append(sources, candidate)
			}
		}
		if len(sources) == 0 {
			continue
		}

		d, usage, err := c.decide(ctx, t, sources)
		total.Add(usage)
		if err != nil {
			log.Warn().Err(err).Str("target", t.ID.String()).Msg("consolidator: phase2 decision failed, treating as ignore")
			continue
		}

		if err := c.apply(ctx, t, d); err != nil {
			log.Warn().Err(err).Str("target", t.ID.String()).Msg("consolidator: phase2 apply failed")
			continue
		}

		if c.OnDecision != nil {
			sourceIDs := make([]uuid.UUID, len(sources))
			for i, s := range sources {
				sourceIDs[i] = s.ID
			}
			c.OnDecision(t.ID, d.Action, sourceIDs)
		}
	}
	return total, nil
}

func (c *Consolidator) decide(ctx context.Context, target *store.FactRecord, sources []*store.FactRecord) (decision, llmclient.Usage, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Target memory:\n%s\n\nCandidate memories:\n", target.Memory)
	for _, s := range sources {
		fmt.Fprintf(&b, "- %s\n", s.Memory)
	}

	spanCtx, span := telemetry.StartSpan(ctx, "consolidator.decide")
	defer span.End()

	content, usage, err := c.Client.Chat(spanCtx, updateDecisionPrompt, b.String(), 0)
	if err != nil {
		return decision{Action: "ignore"}, usage, fmt.Errorf("consolidator: chat call: %w", err)
	}

	var d decision
	if err := json.Unmarshal([]byte(extractor.StripCodeFence(content)), &d); err != nil {
		return decision{Action: "ignore"}, usage, fmt.Errorf("consolidator: parse decision: %w", err)
	}
	if d.Action != "update" && d.Action != "delete" && d.Action != "ignore" {
		d.Action = "ignore"
	}
	return d, usage, nil
}

func (c *Consolidator) apply(ctx context.Context, target *store.FactRecord, d decision) error {
	switch d.Action {
	case "delete":
		return c.Store.Delete(ctx, target.ID)
	case "update":
		if d.NewMemory == "" {
			return nil
		}
		patch := store.PartialUpdate{Memory: &d.NewMemory}
		if c.Config.RecomputeEmbeddingOnUpdate && c.Embed != nil {
			vec, err := c.Embed(ctx, d.NewMemory)
			if err != nil {
				log.Warn().Err(err).Msg("consolidator: embedding recompute failed, keeping stale vector")
			} else {
				patch.Embedding = vec
			}
		}
		return c.Store.Update(ctx, target.ID, patch)
	default:
		return nil
	}
}
