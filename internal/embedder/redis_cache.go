package embedder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/silvertrail/recall/internal/config"
)

// RedisCache persists the text→vector cache across process restarts,
// grounded on the teacher's internal/skills/redis_cache.go
// (RedisSkillsCache, Get/Set-with-TTL shape). A nil *RedisCache (returned
// when Redis is disabled in config) is never constructed; callers pass a
// nil Cache interface value instead, so the Embedder's core contract never
// depends on Redis being present.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache returns nil, nil when cfg.Enabled is false.
func NewRedisCache(cfg config.RedisConfig, ttl time.Duration) (*RedisCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, text string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, cacheKey(text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Msg("embedder: redis cache get failed")
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		log.Warn().Err(err).Msg("embedder: redis cache payload corrupt")
		return nil, false
	}
	return vec, true
}

func (c *RedisCache) Set(ctx context.Context, text string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(text), raw, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("embedder: redis cache set failed")
	}
}

func cacheKey(text string) string {
	return "recall:embed:" + text
}
