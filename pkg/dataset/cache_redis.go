package dataset

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/golang/snappy"
	redis "github.com/redis/go-redis/v9"

	"github.com/zhengshuai-xiao/DSync/internal"
)

// redisCache keys entry records in a Redis hash scoped to one operation:
// dsync:cache:<opID> -> { index -> snappy(gob(record)) }. Useful when the
// operation may be resumed from another host sharing the Redis instance.
type redisCache struct {
	ctx context.Context
	rdb redis.UniversalClient
	key string
}

func NewRedisCache(ctx context.Context, rdb redis.UniversalClient, opID string) ManifestCache {
	return &redisCache{ctx: ctx, rdb: rdb, key: "dsync:cache:" + opID}
}

// NewRedisCacheFromAddr dials addr ("host:port[/db]") and returns a cache
// bound to it.
func NewRedisCacheFromAddr(ctx context.Context, addr, opID string) (ManifestCache, error) {
	opt, err := redis.ParseURL("redis://" + addr)
	if err != nil {
		return nil, fmt.Errorf("redis parse %s: %w", addr, err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis %s: %w", addr, err)
	}
	return NewRedisCache(ctx, rdb, opID), nil
}

func (c *redisCache) Put(index int, e *ManifestEntry) error {
	field := strconv.Itoa(index)
	raw, err := internal.Serialize(e.Record())
	if err != nil {
		return err
	}
	ok, err := c.rdb.HSetNX(c.ctx, c.key, field, snappy.Encode(nil, raw)).Result()
	if err != nil {
		return fmt.Errorf("failed to write cache record %d: %w", index, err)
	}
	if !ok {
		return fmt.Errorf("manifest cache index %d written twice", index)
	}
	return nil
}

func (c *redisCache) Get(index int) (*ManifestEntry, error) {
	data, err := c.rdb.HGet(c.ctx, c.key, strconv.Itoa(index)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read cache record %d: %w", index, err)
	}
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("corrupted cache record %d: %w", index, err)
	}
	var rec EntryRecord
	if err := internal.Deserialize(raw, &rec); err != nil {
		return nil, fmt.Errorf("cache record %d: %w", index, err)
	}
	return rec.Entry(), nil
}

func (c *redisCache) Indexes() ([]int, error) {
	fields, err := c.rdb.HKeys(c.ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache records: %w", err)
	}
	idx := make([]int, 0, len(fields))
	for _, f := range fields {
		i, perr := strconv.Atoi(f)
		if perr != nil {
			continue
		}
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx, nil
}

func (c *redisCache) Len() int {
	n, err := c.rdb.HLen(c.ctx, c.key).Result()
	if err != nil {
		logger.Warnf("failed to read cache length: %v", err)
		return 0
	}
	return int(n)
}

func (c *redisCache) Clear() error {
	if err := c.rdb.Del(c.ctx, c.key).Err(); err != nil {
		return fmt.Errorf("failed to clear cache key %s: %w", c.key, err)
	}
	return nil
}
