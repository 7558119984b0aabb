package velocity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"velo/internal/constants"
	"velo/internal/logger"
	"velo/pkg/metrics"
)

// ResultCache is a read-through cache over calculate results. Identical
// requests against an unchanged data set are bit-identical, so results
// stay valid until ingest moves on; the TTL bounds that staleness
// window. Cache failures degrade to computing, never to a failed
// request.
type ResultCache interface {
	Get(ctx context.Context, tenant string, req *CalculateRequest) (*CalculateResult, bool)
	Set(ctx context.Context, tenant string, req *CalculateRequest, result *CalculateResult)
}

type RedisResultCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewRedisResultCache(client *redis.Client, ttl time.Duration, log logger.Logger) *RedisResultCache {
	return &RedisResultCache{client: client, ttl: ttl, logger: log}
}

// cacheKey hashes the canonical JSON encoding of the request. Map keys
// marshal sorted, so equal requests always collide on the same key.
func cacheKey(tenant string, req *CalculateRequest) (string, error) {
	raw, err := json.Marshal(struct {
		Tenant  string            `json:"tenant"`
		Request *CalculateRequest `json:"request"`
	}{Tenant: tenant, Request: req})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return constants.CacheKeyPrefixCalc + hex.EncodeToString(sum[:]), nil
}

func (c *RedisResultCache) Get(ctx context.Context, tenant string, req *CalculateRequest) (*CalculateResult, bool) {
	key, err := cacheKey(tenant, req)
	if err != nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.IncCacheRequest("miss")
		return nil, false
	}
	if err != nil {
		metrics.IncCacheRequest("error")
		c.logger.WarnwCtx(ctx, "Result cache read failed", "error", err)
		return nil, false
	}

	var result CalculateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		metrics.IncCacheRequest("error")
		c.logger.WarnwCtx(ctx, "Result cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	metrics.IncCacheRequest("hit")
	return &result, true
}

func (c *RedisResultCache) Set(ctx context.Context, tenant string, req *CalculateRequest, result *CalculateResult) {
	key, err := cacheKey(tenant, req)
	if err != nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.WarnwCtx(ctx, "Result cache write failed", "error", err)
	}
}
