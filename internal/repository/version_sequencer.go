package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/revision-engine/internal/revision"
)

const sequenceKeyPrefix = "revisions:seq:"

// raiseAndIncr lifts the counter to at least the ledger head before
// incrementing, so a lost or stale counter can never hand out a used version.
var raiseAndIncr = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if current < floor then
  redis.call('SET', KEYS[1], floor)
end
return redis.call('INCR', KEYS[1])
`)

type ledgerHead interface {
	LockEntity(ctx context.Context, ref revision.EntityRef) error
	MaxVersion(ctx context.Context, ref revision.EntityRef) (int64, error)
}

// RedisVersionSequencer hands out versions from an atomic Redis counter per
// entity. The ledger's entity lock is still taken so the previous revision is
// read only after earlier writers of the entity committed. Rolled back units
// leave gaps; versions are never reused.
type RedisVersionSequencer struct {
	client *redis.Client
	ledger ledgerHead
}

// NewRedisVersionSequencer constructs the sequencer.
func NewRedisVersionSequencer(client *redis.Client, ledger ledgerHead) *RedisVersionSequencer {
	return &RedisVersionSequencer{client: client, ledger: ledger}
}

// NextVersion returns the next version for ref.
func (s *RedisVersionSequencer) NextVersion(ctx context.Context, ref revision.EntityRef) (int64, error) {
	if s.client == nil {
		return 0, fmt.Errorf("redis sequencer requires a redis client")
	}
	if err := s.ledger.LockEntity(ctx, ref); err != nil {
		return 0, err
	}
	head, err := s.ledger.MaxVersion(ctx, ref)
	if err != nil {
		return 0, err
	}
	version, err := raiseAndIncr.Run(ctx, s.client, []string{sequenceKey(ref)}, head).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis next version %s: %w", ref, err)
	}
	return version, nil
}

func sequenceKey(ref revision.EntityRef) string {
	return sequenceKeyPrefix + ref.Type + ":" + ref.ID
}
