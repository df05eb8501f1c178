package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/silvertrail/recall/internal/telemetry"
)

// QdrantStore is a native-vector-index FactStore backend, grounded
// near-verbatim on the teacher's internal/persistence/databases/qdrant_vector.go
// (collection bootstrap, deterministic point-ID derivation, payload
// metadata, filter translation).
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantStore parses dsn ("host:port?api_key=...", TLS implied by
// "https://" scheme) and ensures the collection exists with cosine
// distance, matching spec §4.5's "native vector index" alternative.
func NewQdrantStore(ctx context.Context, dsn, collection string, dimension int) (*QdrantStore, error) {
	host, port, apiKey, useTLS, err := parseQdrantDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("qdrant store: parse dsn: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant store: connect: %w", err)
	}

	s := &QdrantStore{client: client, collection: collection, dimension: dimension}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func parseQdrantDSN(dsn string) (host string, port int, apiKey string, useTLS bool, err error) {
	if !strings.Contains(dsn, "://") {
		dsn = "qdrant://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", 0, "", false, err
	}
	host = u.Hostname()
	port = 6334
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, "", false, fmt.Errorf("invalid port %q: %w", p, err)
		}
	}
	apiKey = u.Query().Get("api_key")
	useTLS = u.Scheme == "https" || u.Scheme == "qdrants"
	return host, port, apiKey, useTLS, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("qdrant store: collection exists: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant store: create collection: %w", err)
	}
	return nil
}

// pointID derives a deterministic UUID point id from the fact's own id, so
// repeated Insert calls for the same record upsert the same point.
func pointID(id uuid.UUID) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id.String())).String())
}

func recordPayload(r *FactRecord) map[string]*qdrant.Value {
	payload := map[string]any{
		"_original_id":   r.ID.String(),
		"timeStamp":      r.TimeStamp.Format(timeLayout),
		"floatTimeStamp": r.FloatTimeStamp,
		"weekday":        r.Weekday,
		"memory":         r.Memory,
		"originalMemory": r.OriginalMemory,
		"speakerId":      r.SpeakerID,
		"speakerName":    r.SpeakerName,
		"category":       r.Category,
		"subcategory":    r.Subcategory,
		"hitTime":        r.HitTime,
	}
	return qdrant.NewValueMap(payload)
}

func (s *QdrantStore) Insert(ctx context.Context, r *FactRecord) error {
	ctx, span := telemetry.StartSpan(ctx, "store.Insert")
	defer span.End()
	if len(r.Embedding) != s.dimension {
		return fmt.Errorf("qdrant store: %w: got %d want %d", ErrDimensionMismatch, len(r.Embedding), s.dimension)
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      pointID(r.ID),
			Vectors: qdrant.NewVectorsDense(r.Embedding),
			Payload: recordPayload(r),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant store: upsert: %w", err)
	}
	return nil
}

func payloadToRecord(id uuid.UUID, payload map[string]*qdrant.Value, vec []float32) (*FactRecord, error) {
	ts, err := parseTimeLayout(payload["timeStamp"].GetStringValue())
	if err != nil {
		return nil, err
	}
	return &FactRecord{
		ID:             id,
		TimeStamp:      ts,
		FloatTimeStamp: payload["floatTimeStamp"].GetDoubleValue(),
		Weekday:        payload["weekday"].GetStringValue(),
		Memory:         payload["memory"].GetStringValue(),
		OriginalMemory: payload["originalMemory"].GetStringValue(),
		SpeakerID:      payload["speakerId"].GetStringValue(),
		SpeakerName:    payload["speakerName"].GetStringValue(),
		Category:       payload["category"].GetStringValue(),
		Subcategory:    payload["subcategory"].GetStringValue(),
		HitTime:        payload["hitTime"].GetIntegerValue(),
		Embedding:      vec,
	}, nil
}

func (s *QdrantStore) Get(ctx context.Context, id uuid.UUID) (*FactRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.Get")
	defer span.End()
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{pointID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant store: get: %w", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("qdrant store: record %s not found", id)
	}
	return payloadToRecord(id, points[0].Payload, points[0].Vectors.GetVector().GetData())
}

func (s *QdrantStore) GetAll(ctx context.Context, includeEmbedding bool) ([]*FactRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.GetAll")
	defer span.End()
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(includeEmbedding),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant store: scroll: %w", err)
	}

	out := make([]*FactRecord, 0, len(points))
	for _, p := range points {
		id, err := uuid.Parse(p.Payload["_original_id"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("qdrant store: parse original id: %w", err)
		}
		var vec []float32
		if includeEmbedding {
			vec = p.Vectors.GetVector().GetData()
		}
		r, err := payloadToRecord(id, p.Payload, vec)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *QdrantStore) Update(ctx context.Context, id uuid.UUID, patch PartialUpdate) error {
	ctx, span := telemetry.StartSpan(ctx, "store.Update")
	defer span.End()
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if patch.Memory != nil {
		existing.Memory = *patch.Memory
	}
	if patch.Category != nil {
		existing.Category = *patch.Category
	}
	if patch.Subcategory != nil {
		existing.Subcategory = *patch.Subcategory
	}
	if patch.HitTime != nil {
		existing.HitTime = *patch.HitTime
	}
	if patch.UpdateQueue != nil {
		existing.UpdateQueue = patch.UpdateQueue
	}
	if patch.Embedding != nil {
		existing.Embedding = patch.Embedding
	}
	return s.Insert(ctx, existing)
}

func (s *QdrantStore) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := telemetry.StartSpan(ctx, "store.Delete")
	defer span.End()
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(pointID(id)),
	})
	if err != nil {
		return fmt.Errorf("qdrant store: delete: %w", err)
	}
	return nil
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.Count")
	defer span.End()
	n, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: s.collection})
	if err != nil {
		return 0, fmt.Errorf("qdrant store: count: %w", err)
	}
	return int(n), nil
}

func buildFilter(filters Filters) *qdrant.Filter {
	var must []*qdrant.Condition
	if filters.SpeakerID != nil {
		must = append(must, qdrant.NewMatch("speakerId", *filters.SpeakerID))
	}
	if filters.Category != nil {
		must = append(must, qdrant.NewMatch("category", *filters.Category))
	}
	if filters.FloatTimeStampGTE != nil || filters.FloatTimeStampLTE != nil {
		rng := &qdrant.Range{}
		if filters.FloatTimeStampGTE != nil {
			rng.Gte = filters.FloatTimeStampGTE
		}
		if filters.FloatTimeStampLTE != nil {
			rng.Lte = filters.FloatTimeStampLTE
		}
		must = append(must, qdrant.NewRange("floatTimeStamp", rng))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// Search queries the native vector index; Qdrant's cosine-distance score
// already matches §4.5's score contract (collection configured with
// Distance_Cosine).
func (s *QdrantStore) Search(ctx context.Context, queryVector []float32, k int, filters Filters) ([]SearchResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.Search")
	defer span.End()
	limit := uint64(k)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(queryVector),
		Limit:          &limit,
		Filter:         buildFilter(filters),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant store: query: %w", err)
	}

	out := make([]SearchResult, 0, len(points))
	for _, hit := range points {
		id, err := uuid.Parse(hit.Payload["_original_id"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("qdrant store: parse original id: %w", err)
		}
		r, err := payloadToRecord(id, hit.Payload, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, SearchResult{ID: id, Score: float64(hit.Score), Payload: r})
	}
	return out, nil
}
