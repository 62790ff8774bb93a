package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/revision-engine/internal/revision"
	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
)

const (
	headKeyPrefix        = "revisions:head:"
	headGenerationPrefix = "revisions:headgen:"
)

// Revision head kinds stored in the cache.
const (
	HeadLatest    = "latest"
	HeadPublished = "published"
)

// HeadKey is the cache key of an entity's latest or latest-published revision.
func HeadKey(ref revision.EntityRef, kind string) string {
	return headKeyPrefix + kind + ":" + ref.Type + ":" + ref.ID
}

// HeadGenerationKey counts invalidations of ref's cached heads.
func HeadGenerationKey(ref revision.EntityRef) string {
	return headGenerationPrefix + ref.Type + ":" + ref.ID
}

// bumpAndDrop advances the head generation before dropping the entries, so a
// reader that loaded under an older generation cannot write its result back.
var bumpAndDrop = redis.NewScript(`
redis.call('INCR', KEYS[1])
redis.call('DEL', KEYS[2], KEYS[3])
return 1
`)

// setIfGeneration stores the head only while the generation is unchanged.
var setIfGeneration = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// CacheRepository is a JSON read-through cache on Redis. A nil client turns
// every read into a miss and every write into a no-op.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

// Get unmarshals the cached value into dest or returns ErrCacheMiss.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// HeadGeneration returns the invalidation generation of ref's heads. A ref
// that was never invalidated is at generation zero.
func (r *CacheRepository) HeadGeneration(ctx context.Context, ref revision.EntityRef) (int64, error) {
	if r.client == nil {
		return 0, appErrors.ErrCacheMiss
	}
	gen, err := r.client.Get(ctx, HeadGenerationKey(ref)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis head generation %s: %w", ref, err)
	}
	return gen, nil
}

// SetHead caches value as the kind head of ref unless the heads were
// invalidated after generation was read. It reports whether value was stored.
func (r *CacheRepository) SetHead(ctx context.Context, ref revision.EntityRef, kind string, generation int64, value interface{}, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal cached head of %s: %w", ref, err)
	}
	keys := []string{HeadKey(ref, kind), HeadGenerationKey(ref)}
	stored, err := setIfGeneration.Run(ctx, r.client, keys, strconv.FormatInt(generation, 10), payload, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis set head %s: %w", ref, err)
	}
	return stored == 1, nil
}

// InvalidateHeads drops both cached heads of ref and advances its generation.
// Failures are logged since the entries expire on their own.
func (r *CacheRepository) InvalidateHeads(ctx context.Context, ref revision.EntityRef) {
	if r.client == nil {
		return
	}
	keys := []string{HeadGenerationKey(ref), HeadKey(ref, HeadLatest), HeadKey(ref, HeadPublished)}
	if err := bumpAndDrop.Run(ctx, r.client, keys).Err(); err != nil {
		r.logger.Warn("failed to invalidate revision heads", zap.String("entity", ref.String()), zap.Error(err))
	}
}

// Publish sends payload on a pub/sub channel.
func (r *CacheRepository) Publish(ctx context.Context, channel string, payload []byte) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
