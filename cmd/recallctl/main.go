// Command recallctl drives the memory engine against a file-backed
// transcript, grounded on the teacher's cmd/embedctl/main.go (flag-based
// config override, config.Load, log.Fatalf on setup errors).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"

	"github.com/silvertrail/recall/internal/audit"
	"github.com/silvertrail/recall/internal/buffer"
	"github.com/silvertrail/recall/internal/config"
	"github.com/silvertrail/recall/internal/consolidator"
	"github.com/silvertrail/recall/internal/embedder"
	"github.com/silvertrail/recall/internal/engine"
	"github.com/silvertrail/recall/internal/extractor"
	"github.com/silvertrail/recall/internal/llmclient"
	"github.com/silvertrail/recall/internal/normalizer"
	"github.com/silvertrail/recall/internal/retriever"
	"github.com/silvertrail/recall/internal/snapshot"
	"github.com/silvertrail/recall/internal/store"
	"github.com/silvertrail/recall/internal/telemetry"
)

func main() {
	var (
		configPath   = flag.String("config", "config.yaml", "path to config.yaml")
		transcript   = flag.String("transcript", "", "path to a JSON array of messages to feed to addMemory")
		query        = flag.String("retrieve", "", "run a retrieve query instead of (or after) ingesting a transcript")
		k            = flag.Int("k", 5, "number of memories to retrieve")
		consolidate  = flag.Bool("consolidate", false, "run the offline two-phase consolidation procedure")
		forceExtract = flag.Bool("force", true, "force extraction even if the buffer threshold has not been reached")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		pterm.Error.Printf("load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		pterm.Error.Printf("telemetry setup: %v\n", err)
		os.Exit(1)
	}
	defer shutdown(ctx)

	e, err := buildEngine(ctx, cfg)
	if err != nil {
		pterm.Error.Printf("build engine: %v\n", err)
		os.Exit(1)
	}

	if *transcript != "" {
		msgs, err := loadTranscript(*transcript)
		if err != nil {
			pterm.Error.Printf("load transcript: %v\n", err)
			os.Exit(1)
		}
		result, err := e.AddMemory(ctx, msgs, *forceExtract)
		if err != nil {
			pterm.Error.Printf("addMemory: %v\n", err)
			os.Exit(1)
		}
		pterm.Success.Printf("ingested %d messages, created %d facts\n", len(msgs), result.FactsCreated)
	}

	if *consolidate {
		if err := e.ConstructUpdateQueueAllEntries(ctx); err != nil {
			pterm.Error.Printf("constructUpdateQueueAllEntries: %v\n", err)
			os.Exit(1)
		}
		if err := e.OfflineUpdateAllEntries(ctx); err != nil {
			pterm.Error.Printf("offlineUpdateAllEntries: %v\n", err)
			os.Exit(1)
		}
		pterm.Success.Println("consolidation pass complete")
	}

	if *query != "" {
		out, err := e.Retrieve(ctx, *query, *k, store.Filters{})
		if err != nil {
			pterm.Error.Printf("retrieve: %v\n", err)
			os.Exit(1)
		}
		if out == "" {
			pterm.Info.Println("no memories found")
		} else {
			fmt.Println(out)
		}
	}

	stats := e.GetTokenStatistics(ctx)
	pterm.Info.Printf("token usage: addMemory calls=%d tokens=%d, update calls=%d tokens=%d, embedding calls=%d tokens=%d\n",
		stats.AddMemory.Calls, stats.AddMemory.TotalTokens,
		stats.Update.Calls, stats.Update.TotalTokens,
		stats.Embedding.Calls, stats.Embedding.Tokens)

	if err := e.TakeSnapshot(ctx); err != nil {
		pterm.Warning.Printf("snapshot failed, ignoring: %v\n", err)
	}
}

// loadTranscript reads a JSON array of {"role","content","timeStamp",
// "speakerId","speakerName"} objects into normalizer.RawMessages.
func loadTranscript(path string) ([]normalizer.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var raw []struct {
		Role        string `json:"role"`
		Content     string `json:"content"`
		TimeStamp   string `json:"timeStamp"`
		SpeakerID   string `json:"speakerId"`
		SpeakerName string `json:"speakerName"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	msgs := make([]normalizer.RawMessage, len(raw))
	for i, r := range raw {
		msgs[i] = normalizer.RawMessage{
			Role:        r.Role,
			Content:     r.Content,
			TimeStamp:   r.TimeStamp,
			SpeakerID:   r.SpeakerID,
			SpeakerName: r.SpeakerName,
		}
	}
	return msgs, nil
}

// buildEngine wires every collaborator named in cfg, leaving Audit and
// Snapshot nil when their respective backends are disabled.
func buildEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, error) {
	chat, err := buildChatClient(cfg.LLM)
	if err != nil {
		return nil, err
	}

	embedClient := llmclient.NewOpenAIClient(cfg.Embedder.APIKey, cfg.Embedder.BaseURL, "", cfg.Embedder.Model, cfg.Embedder.Dimensions)

	var cache embedder.Cache
	if cfg.Redis.Enabled {
		redisCache, err := embedder.NewRedisCache(cfg.Redis, 24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		cache = redisCache
	}
	emb := embedder.New(embedClient, cache)

	factStore, err := buildStore(ctx, cfg.Store, cfg.Embedder.Dimensions)
	if err != nil {
		return nil, err
	}

	con := consolidator.New(factStore, chat, emb.Embed, consolidator.Config{
		TopK:                       cfg.Consolidate.TopK,
		KeepTopN:                   cfg.Consolidate.KeepTopN,
		ScoreThreshold:             cfg.Consolidate.ScoreThreshold,
		RecomputeEmbeddingOnUpdate: cfg.Consolidate.RecomputeEmbeddingOnUpdate,
	})

	e := engine.New(
		normalizer.New(),
		buffer.New(buffer.DefaultMessageThreshold, 0),
		extractor.New(chat, cfg.MessagesUse),
		emb,
		factStore,
		retriever.New(emb, factStore),
		con,
	)

	if cfg.ClickHouse.Enabled {
		sink, err := audit.NewClickHouseSink(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return nil, fmt.Errorf("clickhouse audit sink: %w", err)
		}
		e.Audit = sink
	}

	if cfg.S3.Enabled {
		snap, err := snapshot.NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("s3 snapshot store: %w", err)
		}
		e.Snapshot = snap
	}

	return e, nil
}

func buildChatClient(cfg config.LLMConfig) (llmclient.ChatClient, error) {
	switch cfg.Backend {
	case "anthropic":
		return llmclient.NewAnthropicClient(cfg.APIKey, cfg.Model), nil
	case "", "openai":
		return llmclient.NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, "", 0), nil
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
}

func buildStore(ctx context.Context, cfg config.StoreConfig, dimension int) (store.FactStore, error) {
	switch cfg.Backend {
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.ConnectionString, dimension)
	case "qdrant":
		return store.NewQdrantStore(ctx, cfg.ConnectionString, cfg.Collection, dimension)
	case "", "memory":
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
