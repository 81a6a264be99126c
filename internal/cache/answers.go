package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/teamscope/teamscope/internal/config"
	"github.com/teamscope/teamscope/internal/models"
)

// AnswerCache keeps recent query answers in Redis. Keys include the
// embedding model version: a version bump invalidates every cached
// answer implicitly, matching the staleness rule for the index itself.
type AnswerCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Entry
}

// New connects to Redis and verifies the connection.
func New(cfg config.CacheConfig) (*AnswerCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s:%d: %w", cfg.RedisHost, cfg.RedisPort, err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &AnswerCache{
		client: client,
		ttl:    ttl,
		log:    logrus.WithField("component", "answer_cache"),
	}, nil
}

func cacheKey(query, modelVersion string) string {
	sum := sha256.Sum256([]byte(modelVersion + "\x00" + query))
	return "tscope:answer:" + hex.EncodeToString(sum[:16])
}

// Get returns a cached response, or nil on miss. Cache failures are
// soft: a broken cache degrades to recomputing, never to an error.
func (c *AnswerCache) Get(ctx context.Context, query, modelVersion string) *models.QueryResponse {
	data, err := c.client.Get(ctx, cacheKey(query, modelVersion)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		c.log.WithError(err).Debug("Answer cache read failed")
		return nil
	}

	var resp models.QueryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.log.WithError(err).Debug("Discarding unreadable cached answer")
		return nil
	}
	return &resp
}

// Put stores a response. Only fully generated answers are cached;
// degraded and insufficient answers should be recomputed next time.
func (c *AnswerCache) Put(ctx context.Context, query, modelVersion string, resp models.QueryResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(query, modelVersion), data, c.ttl).Err(); err != nil {
		c.log.WithError(err).Debug("Answer cache write failed")
	}
}

// Close closes the Redis connection.
func (c *AnswerCache) Close() error {
	return c.client.Close()
}
