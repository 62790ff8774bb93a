package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/revision-engine/internal/revision"
	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
)

// CacheRepository abstracts persistence for cached revision heads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	HeadGeneration(ctx context.Context, ref revision.EntityRef) (int64, error)
	SetHead(ctx context.Context, ref revision.EntityRef, kind string, generation int64, value interface{}, ttl time.Duration) (bool, error)
	InvalidateHeads(ctx context.Context, ref revision.EntityRef)
}

// CacheService wraps the cache repository with metrics. A disabled service
// misses every lookup.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get reports whether key was found and decoded into dest. Backend errors
// are logged and treated as a miss.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) bool {
	if !s.Enabled() {
		return false
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}
	return err == nil
}

// HeadGeneration reads the invalidation generation of ref's heads before a
// ledger load. ok is false when the result must not be cached.
func (s *CacheService) HeadGeneration(ctx context.Context, ref revision.EntityRef) (generation int64, ok bool) {
	if !s.Enabled() {
		return 0, false
	}
	generation, err := s.repo.HeadGeneration(ctx, ref)
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("cache generation read failed", zap.String("entity", ref.String()), zap.Error(err))
		}
		return 0, false
	}
	return generation, true
}

// SetHead caches a head loaded under generation; zero ttl uses the default.
// A head invalidated in the meantime is not written back.
func (s *CacheService) SetHead(ctx context.Context, ref revision.EntityRef, kind string, generation int64, value interface{}, ttl time.Duration) {
	if !s.Enabled() {
		return
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	stored, err := s.repo.SetHead(ctx, ref, kind, generation, value, ttl)
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("entity", ref.String()), zap.String("head", kind), zap.Error(err))
		return
	}
	if !stored {
		s.logger.Debug("stale head not cached", zap.String("entity", ref.String()), zap.String("head", kind))
	}
}

// InvalidateHeads drops the cached head revisions of ref.
func (s *CacheService) InvalidateHeads(ctx context.Context, ref revision.EntityRef) {
	if !s.Enabled() {
		return
	}
	s.repo.InvalidateHeads(ctx, ref)
}
