package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opinionmkt/opiniond/internal/domain"
)

const opinionTTL = 5 * time.Minute

// OpinionCache implements domain.OpinionCache using Redis hashes with JSON-
// serialized opinion snapshots.
//
// Key schema:
//
//	opinion:{id} - hash with field "data" containing JSON
type OpinionCache struct {
	rdb *redis.Client
}

// NewOpinionCache creates an OpinionCache backed by the given Client.
func NewOpinionCache(c *Client) *OpinionCache {
	return &OpinionCache{rdb: c.Underlying()}
}

func opinionKey(id uint64) string {
	return "opinion:" + strconv.FormatUint(id, 10)
}

// Set stores an opinion snapshot with a 5-minute TTL.
func (oc *OpinionCache) Set(ctx context.Context, o domain.Opinion) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("redis: marshal opinion %d: %w", o.ID, err)
	}

	key := opinionKey(o.ID)
	pipe := oc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, opinionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set opinion %d: %w", o.ID, err)
	}
	return nil
}

// Get retrieves an opinion snapshot by id. It returns domain.ErrNotFound
// when the key does not exist.
func (oc *OpinionCache) Get(ctx context.Context, id uint64) (domain.Opinion, error) {
	data, err := oc.rdb.HGet(ctx, opinionKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Opinion{}, domain.ErrNotFound
		}
		return domain.Opinion{}, fmt.Errorf("redis: get opinion %d: %w", id, err)
	}

	var o domain.Opinion
	if err := json.Unmarshal(data, &o); err != nil {
		return domain.Opinion{}, fmt.Errorf("redis: unmarshal opinion %d: %w", id, err)
	}
	return o, nil
}

// Invalidate removes an opinion snapshot from the cache.
func (oc *OpinionCache) Invalidate(ctx context.Context, id uint64) error {
	if err := oc.rdb.Del(ctx, opinionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate opinion %d: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.OpinionCache = (*OpinionCache)(nil)
