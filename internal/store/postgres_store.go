package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/silvertrail/recall/internal/telemetry"
)

// PostgresStore is a pgvector-backed FactStore, grounded on the teacher's
// agentic_memory.go / internal/agents/memory.go (EnsureAgenticMemoryTable,
// SearchAgenticMemories's brute-force `ORDER BY embedding <-> $1`).
type PostgresStore struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPostgresStore connects to connString and ensures the schema exists
// for the given embedding dimension.
func NewPostgresStore(ctx context.Context, connString string, dimension int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	s := &PostgresStore{pool: pool, dimension: dimension}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

// ensureSchema creates the memories table and its floatTimeStamp index if
// they do not already exist. The columns follow spec §6, except that
// embedding is a pgvector vector(dimension) column and createdAt is a
// TIMESTAMPTZ.
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("postgres store: enable pgvector: %w", err)
	}

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS memories (
  id              TEXT PRIMARY KEY,
  "timeStamp"     TEXT NOT NULL,
  "floatTimeStamp" REAL NOT NULL,
  weekday         TEXT,
  category        TEXT,
  subcategory     TEXT,
  "memoryClass"   TEXT,
  memory          TEXT NOT NULL,
  "originalMemory" TEXT,
  "compressedMemory" TEXT,
  "topicId"       INTEGER,
  "topicSummary"  TEXT,
  "speakerId"     TEXT,
  "speakerName"   TEXT,
  "hitTime"       INTEGER DEFAULT 0,
  "updateQueue"   TEXT,
  embedding       vector(%d) NOT NULL,
  "createdAt"     TIMESTAMPTZ DEFAULT now()
)`, s.dimension)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres store: ensure schema: %w", err)
	}

	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS memories_float_ts_idx ON memories ("floatTimeStamp")`)
	if err != nil {
		return fmt.Errorf("postgres store: ensure index: %w", err)
	}
	return nil
}

func toPgvector(vec []float32) pgvector.Vector { return pgvector.NewVector(vec) }

func (s *PostgresStore) Insert(ctx context.Context, r *FactRecord) error {
	ctx, span := telemetry.StartSpan(ctx, "store.Insert")
	defer span.End()
	if len(r.Embedding) != s.dimension {
		return fmt.Errorf("postgres store: %w: got %d want %d", ErrDimensionMismatch, len(r.Embedding), s.dimension)
	}
	queueJSON, err := json.Marshal(r.UpdateQueue)
	if err != nil {
		return fmt.Errorf("postgres store: marshal updateQueue: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO memories (id, "timeStamp", "floatTimeStamp", weekday, category, subcategory, "memoryClass",
  memory, "originalMemory", "topicId", "topicSummary", "speakerId", "speakerName", "hitTime", "updateQueue", embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
  "timeStamp"=$2, "floatTimeStamp"=$3, weekday=$4, category=$5, subcategory=$6, "memoryClass"=$7,
  memory=$8, "originalMemory"=$9, "topicId"=$10, "topicSummary"=$11, "speakerId"=$12, "speakerName"=$13,
  "hitTime"=$14, "updateQueue"=$15, embedding=$16
`, r.ID.String(), r.TimeStamp.Format(timeLayout), r.FloatTimeStamp, r.Weekday, r.Category, r.Subcategory,
		r.MemoryClass, r.Memory, r.OriginalMemory, r.TopicID, r.TopicSummary, r.SpeakerID, r.SpeakerName,
		r.HitTime, string(queueJSON), toPgvector(r.Embedding))
	if err != nil {
		return fmt.Errorf("postgres store: insert: %w", err)
	}
	return nil
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func (s *PostgresStore) scanRow(row pgx.Row, includeEmbedding bool) (*FactRecord, error) {
	var (
		r         FactRecord
		idStr     string
		tsStr     string
		queueJSON string
		vec       pgvector.Vector
	)
	err := row.Scan(&idStr, &tsStr, &r.FloatTimeStamp, &r.Weekday, &r.Category, &r.Subcategory, &r.MemoryClass,
		&r.Memory, &r.OriginalMemory, &r.TopicID, &r.TopicSummary, &r.SpeakerID, &r.SpeakerName, &r.HitTime,
		&queueJSON, &vec)
	if err != nil {
		return nil, err
	}
	r.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse id: %w", err)
	}
	r.TimeStamp, err = parseTimeLayout(tsStr)
	if err != nil {
		return nil, err
	}
	if queueJSON != "" {
		if err := json.Unmarshal([]byte(queueJSON), &r.UpdateQueue); err != nil {
			return nil, fmt.Errorf("postgres store: unmarshal updateQueue: %w", err)
		}
	}
	if includeEmbedding {
		r.Embedding = vec.Slice()
	}
	return &r, nil
}

const selectColumns = `id, "timeStamp", "floatTimeStamp", weekday, category, subcategory, "memoryClass",
  memory, "originalMemory", "topicId", "topicSummary", "speakerId", "speakerName", "hitTime", "updateQueue", embedding`

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*FactRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.Get")
	defer span.End()
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM memories WHERE id=$1`, id.String())
	r, err := s.scanRow(row, true)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) GetAll(ctx context.Context, includeEmbedding bool) ([]*FactRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.GetAll")
	defer span.End()
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM memories`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get all: %w", err)
	}
	defer rows.Close()

	var out []*FactRecord
	for rows.Next() {
		r, err := s.scanRow(rows, includeEmbedding)
		if err != nil {
			return nil, fmt.Errorf("postgres store: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, id uuid.UUID, patch PartialUpdate) error {
	ctx, span := telemetry.StartSpan(ctx, "store.Update")
	defer span.End()
	sets := make([]string, 0, 5)
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Memory != nil {
		sets = append(sets, "memory="+arg(*patch.Memory))
	}
	if patch.Category != nil {
		sets = append(sets, "category="+arg(*patch.Category))
	}
	if patch.Subcategory != nil {
		sets = append(sets, "subcategory="+arg(*patch.Subcategory))
	}
	if patch.HitTime != nil {
		sets = append(sets, `"hitTime"=`+arg(*patch.HitTime))
	}
	if patch.UpdateQueue != nil {
		queueJSON, err := json.Marshal(patch.UpdateQueue)
		if err != nil {
			return fmt.Errorf("postgres store: marshal updateQueue: %w", err)
		}
		sets = append(sets, `"updateQueue"=`+arg(string(queueJSON)))
	}
	if patch.Embedding != nil {
		sets = append(sets, "embedding="+arg(toPgvector(patch.Embedding)))
	}
	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE memories SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += fmt.Sprintf(" WHERE id=$%d", len(args)+1)
	args = append(args, id.String())

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres store: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: record %s not found", id)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := telemetry.StartSpan(ctx, "store.Delete")
	defer span.End()
	_, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id=$1`, id.String())
	if err != nil {
		return fmt.Errorf("postgres store: delete: %w", err)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.Count")
	defer span.End()
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: count: %w", err)
	}
	return n, nil
}

// Search orders by pgvector's cosine-distance operator (ORDER BY
// embedding <=> $1, which is 1 - cosine similarity) and returns
// 1 - distance as Score, so the returned Score matches §4.5's contract.
func (s *PostgresStore) Search(ctx context.Context, queryVector []float32, k int, filters Filters) ([]SearchResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.Search")
	defer span.End()
	where := []string{}
	args := []any{toPgvector(queryVector)}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filters.FloatTimeStampGTE != nil {
		where = append(where, `"floatTimeStamp" >= `+arg(*filters.FloatTimeStampGTE))
	}
	if filters.FloatTimeStampLTE != nil {
		where = append(where, `"floatTimeStamp" <= `+arg(*filters.FloatTimeStampLTE))
	}
	if filters.SpeakerID != nil {
		where = append(where, `"speakerId" = `+arg(*filters.SpeakerID))
	}
	if filters.Category != nil {
		where = append(where, `category = `+arg(*filters.Category))
	}

	query := `SELECT ` + selectColumns + `, 1 - (embedding <=> $1) AS score FROM memories`
	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT %d", k)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var score float64
		r, err := s.scanRowWithScore(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("postgres store: scan search row: %w", err)
		}
		out = append(out, SearchResult{ID: r.ID, Score: score, Payload: r})
	}
	return out, rows.Err()
}

func (s *PostgresStore) scanRowWithScore(rows pgx.Rows, score *float64) (*FactRecord, error) {
	var (
		r         FactRecord
		idStr     string
		tsStr     string
		queueJSON string
		vec       pgvector.Vector
	)
	err := rows.Scan(&idStr, &tsStr, &r.FloatTimeStamp, &r.Weekday, &r.Category, &r.Subcategory, &r.MemoryClass,
		&r.Memory, &r.OriginalMemory, &r.TopicID, &r.TopicSummary, &r.SpeakerID, &r.SpeakerName, &r.HitTime,
		&queueJSON, &vec, score)
	if err != nil {
		return nil, err
	}
	r.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	r.TimeStamp, err = parseTimeLayout(tsStr)
	if err != nil {
		return nil, err
	}
	if queueJSON != "" {
		if err := json.Unmarshal([]byte(queueJSON), &r.UpdateQueue); err != nil {
			return nil, err
		}
	}
	r.Embedding = vec.Slice()
	return &r, nil
}
