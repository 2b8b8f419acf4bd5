package visits

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/arogya-health/clinic-platform/pkg/common/logger"
	"github.com/arogya-health/clinic-platform/pkg/common/models"
	"github.com/redis/go-redis/v9"
)

// RedisStatsCache caches branch statistics in Redis with a TTL. Cache
// failures degrade to recomputation, never to request failure.
type RedisStatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStatsCache(client *redis.Client, ttl time.Duration) *RedisStatsCache {
	return &RedisStatsCache{client: client, ttl: ttl}
}

func (c *RedisStatsCache) Get(ctx context.Context, key string) (models.VisitStatistics, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Log.WithError(err).Warn("Statistics cache read failed")
		}
		return models.VisitStatistics{}, false
	}
	var stats models.VisitStatistics
	if err := json.Unmarshal(data, &stats); err != nil {
		return models.VisitStatistics{}, false
	}
	return stats, true
}

func (c *RedisStatsCache) Set(ctx context.Context, key string, stats models.VisitStatistics) {
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logger.Log.WithError(err).Warn("Statistics cache write failed")
	}
}
