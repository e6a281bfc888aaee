package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/streetintel/streetintel-backend/internal/logger"
)

const heatmapKeyPrefix = "heatmap:"

// Cache is the optional read-through cache for heatmap responses. Callers
// hold a nil Cache when redis is not configured and skip it.
type Cache interface {
	GetHeatmap(ctx context.Context, key string) ([]byte, bool)
	SetHeatmap(ctx context.Context, key string, payload []byte, ttl time.Duration)
	// InvalidateHeatmap drops every cached heatmap; enrichment writes call it
	// best-effort so fresh scores show up within one request.
	InvalidateHeatmap(ctx context.Context)
	Close() error
}

type cache struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewCache(log *logger.Logger) (Cache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &cache{
		log: log.With("service", "RedisCache"),
		rdb: rdb,
	}, nil
}

func (c *cache) GetHeatmap(ctx context.Context, key string) ([]byte, bool) {
	raw, err := c.rdb.Get(ctx, heatmapKeyPrefix+key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("heatmap cache read failed", "error", err)
		}
		return nil, false
	}
	return raw, true
}

func (c *cache) SetHeatmap(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if err := c.rdb.Set(ctx, heatmapKeyPrefix+key, payload, ttl).Err(); err != nil {
		c.log.Warn("heatmap cache write failed", "error", err)
	}
}

func (c *cache) InvalidateHeatmap(ctx context.Context) {
	iter := c.rdb.Scan(ctx, 0, heatmapKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.Warn("heatmap cache scan failed", "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("heatmap cache invalidation failed", "error", err)
	}
}

func (c *cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
