package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/revision-engine/internal/revision"
)

type ledgerHeadStub struct {
	head    int64
	lockErr error
}

func (s ledgerHeadStub) LockEntity(ctx context.Context, ref revision.EntityRef) error {
	return s.lockErr
}

func (s ledgerHeadStub) MaxVersion(ctx context.Context, ref revision.EntityRef) (int64, error) {
	return s.head, nil
}

func newSequencerRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mini, client
}

func TestRedisVersionSequencerStartsAfterLedgerHead(t *testing.T) {
	_, client := newSequencerRedis(t)
	seq := NewRedisVersionSequencer(client, ledgerHeadStub{head: 7})
	ref := revision.Ref("page", "p1")

	first, err := seq.NextVersion(context.Background(), ref)
	require.NoError(t, err)
	second, err := seq.NextVersion(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, int64(8), first)
	assert.Equal(t, int64(9), second)

	other, err := NewRedisVersionSequencer(client, ledgerHeadStub{}).NextVersion(context.Background(), revision.Ref("page", "p2"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)
}

func TestRedisVersionSequencerRecoversFromLostCounter(t *testing.T) {
	mini, client := newSequencerRedis(t)
	ref := revision.Ref("setting", "site_name")
	seq := NewRedisVersionSequencer(client, ledgerHeadStub{head: 4})

	_, err := seq.NextVersion(context.Background(), ref)
	require.NoError(t, err)
	mini.FlushAll()

	next, err := seq.NextVersion(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, int64(5), next)
}

func TestRedisVersionSequencerConcurrentCallersGetUniqueVersions(t *testing.T) {
	_, client := newSequencerRedis(t)
	seq := NewRedisVersionSequencer(client, ledgerHeadStub{})
	ref := revision.Ref("page", "hot")

	var (
		mu   sync.Mutex
		seen = map[int64]bool{}
	)
	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			version, err := seq.NextVersion(context.Background(), ref)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[version], "version %d handed out twice", version)
			seen[version] = true
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, seen, 32)
}

type recordingHead struct {
	mu    sync.Mutex
	calls []string
}

func (h *recordingHead) LockEntity(ctx context.Context, ref revision.EntityRef) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "lock "+ref.String())
	return nil
}

func (h *recordingHead) MaxVersion(ctx context.Context, ref revision.EntityRef) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "max "+ref.String())
	return 0, nil
}

func TestRedisVersionSequencerLocksEntityBeforeReadingHead(t *testing.T) {
	_, client := newSequencerRedis(t)
	head := &recordingHead{}
	ref := revision.Ref("page", "p1")

	version, err := NewRedisVersionSequencer(client, head).NextVersion(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, []string{"lock page#p1", "max page#p1"}, head.calls)
}

func TestRedisVersionSequencerSurfacesLockErrors(t *testing.T) {
	mini, client := newSequencerRedis(t)
	ref := revision.Ref("page", "p1")
	lockErr := errors.New("no transaction")

	_, err := NewRedisVersionSequencer(client, ledgerHeadStub{lockErr: lockErr}).NextVersion(context.Background(), ref)
	require.ErrorIs(t, err, lockErr)
	assert.False(t, mini.Exists(sequenceKey(ref)))
}
