package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

// Cache key prefixes for course reads.
const (
	courseListCachePrefix    = "courses:list:"
	courseSummaryCachePrefix = "courses:summary:"
	courseReviewsCachePrefix = "courses:reviews:"
	courseSessionsCacheKey   = "courses:sessions"
)

// Generation counters live outside the courses: prefix so catalogue
// invalidation never resets them.
const (
	generationPrefix    = "cachegen:"
	catalogueGeneration = generationPrefix + "catalogue"
	listGeneration      = generationPrefix + "list"
)

// sharedLoadTimeout bounds a load that every caller of one key waits on.
const sharedLoadTimeout = 30 * time.Second

func courseGeneration(code string) string {
	return generationPrefix + "course:" + code
}

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Incr(ctx context.Context, key string) (int64, error)
}

// CacheService orchestrates cache operations and related metrics.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
	group      singleflight.Group
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

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordCacheOperation(false, duration)
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return false, nil
		}
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	s.metrics.RecordCacheOperation(true, duration)
	return true, nil
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Invalidate removes cached values for the provided pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	return nil
}

// InvalidateCourse retires every cached read that can include the course.
// Bumping the generations first means a load still in flight stores its
// result under a key no later read asks for.
func (s *CacheService) InvalidateCourse(ctx context.Context, code string) {
	if !s.Enabled() {
		return
	}
	s.bump(ctx, courseGeneration(code))
	s.bump(ctx, listGeneration)
	_ = s.Invalidate(ctx, courseSummaryCachePrefix+code+"@*")
	_ = s.Invalidate(ctx, courseReviewsCachePrefix+code+":*")
	_ = s.Invalidate(ctx, courseListCachePrefix+"*")
}

// InvalidateCatalogue retires every cached course read.
func (s *CacheService) InvalidateCatalogue(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	s.bump(ctx, catalogueGeneration)
	_ = s.Invalidate(ctx, "courses:*")
}

func (s *CacheService) bump(ctx context.Context, generation string) {
	if _, err := s.repo.Incr(ctx, generation); err != nil {
		s.logger.Warn("cache generation bump failed", zap.String("generation", generation), zap.Error(err))
	}
}

// versionedKey suffixes key with the catalogue generation and, when scope is
// set, the generation of that scope: key@catalogue.scope.
func (s *CacheService) versionedKey(ctx context.Context, key, scope string) (string, error) {
	generations := []string{catalogueGeneration}
	if scope != "" {
		generations = append(generations, scope)
	}
	parts := make([]string, 0, len(generations))
	for _, generation := range generations {
		var n int64
		if err := s.repo.Get(ctx, generation, &n); err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
			return "", err
		}
		parts = append(parts, strconv.FormatInt(n, 10))
	}
	return key + "@" + strings.Join(parts, "."), nil
}

// cached serves key from the cache or calls load once per key across
// concurrent callers, storing the result for later reads. scope names the
// generation that invalidations of the underlying data bump. The shared load
// is detached from the caller that started it, so one cancelled request does
// not fail the others waiting on the same key.
func cached[T any](ctx context.Context, cache *CacheService, key, scope string, load func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	if !cache.Enabled() {
		v, err := load(ctx)
		return v, false, err
	}

	versioned, err := cache.versionedKey(ctx, key, scope)
	if err != nil {
		cache.logger.Warn("cache generation unavailable", zap.String("key", key), zap.Error(err))
		v, err := load(ctx)
		return v, false, err
	}

	var hit T
	if ok, _ := cache.Get(ctx, versioned, &hit); ok {
		return hit, true, nil
	}

	ch := cache.group.DoChan(versioned, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()
		loaded, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		_ = cache.Set(loadCtx, versioned, loaded, 0)
		return loaded, nil
	})
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		return res.Val.(T), false, nil
	}
}
