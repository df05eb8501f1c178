// Package audit provides an optional ClickHouse-backed append-only log of
// consolidation decisions and token-usage counters, grounded on the
// teacher's internal/agentd/clickhouse_schema.go
// (ensureClickHouseTables bootstrap pattern).
package audit

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/silvertrail/recall/internal/llmclient"
)

// ClickHouseSink implements engine.AuditSink.
type ClickHouseSink struct {
	conn clickhouse.Conn
}

// NewClickHouseSink parses dsn, connects, and ensures both audit tables
// exist.
func NewClickHouseSink(ctx context.Context, dsn string) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: parse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}

	s := &ClickHouseSink{conn: conn}
	if err := s.ensureTables(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ClickHouseSink) ensureTables(ctx context.Context) error {
	if err := s.conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS consolidation_events (
  target_id  String,
  action     String,
  source_ids Array(String),
  decided_at DateTime DEFAULT now()
) ENGINE = MergeTree() ORDER BY decided_at`); err != nil {
		return fmt.Errorf("audit: ensure consolidation_events: %w", err)
	}

	if err := s.conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS token_usage_events (
  operation         String,
  prompt_tokens     UInt32,
  completion_tokens UInt32,
  total_tokens      UInt32,
  recorded_at       DateTime DEFAULT now()
) ENGINE = MergeTree() ORDER BY recorded_at`); err != nil {
		return fmt.Errorf("audit: ensure token_usage_events: %w", err)
	}
	return nil
}

// RecordConsolidationDecision appends one row per phase-2 action taken.
func (s *ClickHouseSink) RecordConsolidationDecision(ctx context.Context, targetID uuid.UUID, action string, sourceIDs []uuid.UUID) error {
	ids := make([]string, len(sourceIDs))
	for i, id := range sourceIDs {
		ids[i] = id.String()
	}
	err := s.conn.Exec(ctx, `INSERT INTO consolidation_events (target_id, action, source_ids) VALUES (?, ?, ?)`,
		targetID.String(), action, ids)
	if err != nil {
		log.Warn().Err(err).Msg("audit: consolidation decision write failed")
		return fmt.Errorf("audit: insert consolidation event: %w", err)
	}
	return nil
}

// RecordTokenUsage appends one usage row per operation call.
func (s *ClickHouseSink) RecordTokenUsage(ctx context.Context, operation string, usage llmclient.Usage) error {
	err := s.conn.Exec(ctx, `INSERT INTO token_usage_events (operation, prompt_tokens, completion_tokens, total_tokens) VALUES (?, ?, ?, ?)`,
		operation, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
	if err != nil {
		log.Warn().Err(err).Msg("audit: token usage write failed")
		return fmt.Errorf("audit: insert token usage event: %w", err)
	}
	return nil
}

// Close releases the ClickHouse connection.
func (s *ClickHouseSink) Close() error { return s.conn.Close() }
