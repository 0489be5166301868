package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fieldservice-server/models"
)

const fixKeyPrefix = "fieldservice:fix:"

// RedisFixCache shares the last persisted fix between server replicas so the
// throttle holds no matter which replica receives a sample.
type RedisFixCache struct {
	rc  *redis.Client
	ttl time.Duration
}

// NewRedisClient connects to redis and pings it.
func NewRedisClient(addr, password string, db int, dialTimeout time.Duration) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	rc := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: dialTimeout,
		PoolSize:    10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect error: %w", err)
	}
	return rc, nil
}

// NewRedisFixCache creates a RedisFixCache whose entries expire after ttl.
func NewRedisFixCache(rc *redis.Client, ttl time.Duration) *RedisFixCache {
	return &RedisFixCache{rc: rc, ttl: ttl}
}

func fixKey(jobID string) string {
	return fixKeyPrefix + jobID
}

// Last returns the cached fix for jobID, or nil on a miss.
func (c *RedisFixCache) Last(ctx context.Context, jobID string) (*models.Location, error) {
	raw, err := c.rc.Get(ctx, fixKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fix: %w", err)
	}
	var fix models.Location
	if err := json.Unmarshal(raw, &fix); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fix: %w", err)
	}
	return &fix, nil
}

// Remember stores fix as the last persisted fix of jobID.
func (c *RedisFixCache) Remember(ctx context.Context, jobID string, fix models.Location) error {
	raw, err := json.Marshal(fix)
	if err != nil {
		return fmt.Errorf("failed to marshal fix: %w", err)
	}
	if err := c.rc.Set(ctx, fixKey(jobID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set fix: %w", err)
	}
	return nil
}

// Forget drops the cached fix of jobID.
func (c *RedisFixCache) Forget(ctx context.Context, jobID string) error {
	return c.rc.Del(ctx, fixKey(jobID)).Err()
}
