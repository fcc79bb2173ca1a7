package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/irfndi/esp-selector-go/internal/logging"
	"github.com/irfndi/esp-selector-go/internal/models"
	"github.com/irfndi/esp-selector-go/pkg/interfaces"
)

const enhancedPrefix = "enhanced_params:"

var _ interfaces.DerivedCache = (*EnhancedParameterCache)(nil)

// CacheStats tracks cache performance counters.
type CacheStats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Sets          int64 `json:"sets"`
	Invalidations int64 `json:"invalidations"`

	Breaker CircuitBreakerStats `json:"breaker"`
}

// HitRate returns hits as a percentage of lookups.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// EnhancedParameterCache keeps enhanced parameter sets in Redis, keyed by pump and curve version.
// A nil cache, or one without a client, behaves as an always-missing cache.
type EnhancedParameterCache struct {
	redis   *redis.Client
	ttl     time.Duration
	logger  logging.Logger
	breaker *CircuitBreaker

	mu    sync.RWMutex
	stats CacheStats
}

// NewEnhancedParameterCache creates the cache. logger may be nil.
func NewEnhancedParameterCache(redisClient *redis.Client, ttl time.Duration, logger logging.Logger) *EnhancedParameterCache {
	return &EnhancedParameterCache{
		redis:   redisClient,
		ttl:     ttl,
		logger:  logger,
		breaker: NewCircuitBreaker("redis_enhanced_params", DefaultCircuitBreakerConfig(), logger),
	}
}

func enhancedKey(pumpID string, curveVersion int) string {
	return fmt.Sprintf("%s%s:v%d", enhancedPrefix, pumpID, curveVersion)
}

func (c *EnhancedParameterCache) enabled() bool {
	return c != nil && c.redis != nil
}

// GetEnhancedParameters returns the cached set for the exact curve version.
func (c *EnhancedParameterCache) GetEnhancedParameters(ctx context.Context, pumpID string, curveVersion int) (*models.EnhancedParameterSet, bool) {
	if !c.enabled() {
		return nil, false
	}
	start := time.Now()
	key := enhancedKey(pumpID, curveVersion)

	var data []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, err = c.redis.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	if err == nil && data == nil {
		err = redis.Nil
	}
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, ErrCircuitOpen) {
			c.warn("Redis error getting enhanced parameters", key, err)
		}
		c.count(func(s *CacheStats) { s.Misses++ })
		c.logOperation("get", key, false, start)
		return nil, false
	}

	var set models.EnhancedParameterSet
	if err := json.Unmarshal(data, &set); err != nil {
		c.warn("Error deserializing cached enhanced parameters", key, err)
		c.count(func(s *CacheStats) { s.Misses++ })
		return nil, false
	}
	set.Source = models.EnhancedSourceCache

	c.count(func(s *CacheStats) { s.Hits++ })
	c.logOperation("get", key, true, start)
	return &set, true
}

// SetEnhancedParameters stores set with the configured TTL. Failures are logged and ignored.
func (c *EnhancedParameterCache) SetEnhancedParameters(ctx context.Context, set *models.EnhancedParameterSet) {
	if !c.enabled() || set == nil {
		return
	}
	start := time.Now()
	key := enhancedKey(set.PumpID, set.CurveVersion)

	data, err := json.Marshal(set)
	if err != nil {
		c.warn("Error serializing enhanced parameters", key, err)
		return
	}
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.redis.Set(ctx, key, data, c.ttl).Err()
	})
	if err != nil {
		if !errors.Is(err, ErrCircuitOpen) {
			c.warn("Redis error setting enhanced parameters", key, err)
		}
		return
	}

	c.count(func(s *CacheStats) { s.Sets++ })
	c.logOperation("set", key, false, start)
}

// Invalidate drops every cached version of pumpID.
func (c *EnhancedParameterCache) Invalidate(ctx context.Context, pumpID string) {
	if !c.enabled() {
		return
	}
	removed, err := c.deleteMatching(ctx, enhancedPrefix+escapePattern(pumpID)+":*")
	if errors.Is(err, ErrCircuitOpen) {
		return
	}
	if err != nil {
		c.warn("Error invalidating enhanced parameters", enhancedPrefix+pumpID, err)
		return
	}
	c.count(func(s *CacheStats) { s.Invalidations += removed })
}

// Clear removes all cached enhanced parameter sets.
func (c *EnhancedParameterCache) Clear(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	if _, err := c.deleteMatching(ctx, enhancedPrefix+"*"); err != nil {
		return err
	}
	c.breaker.Reset()
	return nil
}

// deleteMatching removes the keys matching pattern through the breaker.
func (c *EnhancedParameterCache) deleteMatching(ctx context.Context, pattern string) (int64, error) {
	var removed int64
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		removed, err = c.scanAndDelete(ctx, pattern)
		return err
	})
	return removed, err
}

func (c *EnhancedParameterCache) scanAndDelete(ctx context.Context, pattern string) (int64, error) {
	var keys []string
	iter := c.redis.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("error scanning cache keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	removed, err := c.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("error deleting cache keys: %w", err)
	}
	return removed, nil
}

// GetStats returns a snapshot of the counters.
func (c *EnhancedParameterCache) GetStats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	c.mu.RLock()
	stats := c.stats
	c.mu.RUnlock()
	if c.breaker != nil {
		stats.Breaker = c.breaker.GetStats()
	}
	return stats
}

// LogStats logs the counters at info level.
func (c *EnhancedParameterCache) LogStats() {
	if c == nil || c.logger == nil {
		return
	}
	stats := c.GetStats()
	c.logger.Logger().Info("Enhanced parameter cache stats",
		"hits", stats.Hits,
		"misses", stats.Misses,
		"sets", stats.Sets,
		"invalidations", stats.Invalidations,
		"hit_rate", stats.HitRate(),
	)
}

func (c *EnhancedParameterCache) count(update func(*CacheStats)) {
	c.mu.Lock()
	update(&c.stats)
	c.mu.Unlock()
}

func (c *EnhancedParameterCache) logOperation(op, key string, hit bool, start time.Time) {
	if c.logger != nil {
		c.logger.LogCacheOperation(op, key, hit, time.Since(start).Milliseconds())
	}
}

func (c *EnhancedParameterCache) warn(msg, key string, err error) {
	if c.logger != nil {
		c.logger.WithError(err).Warn(msg, "key", key)
	}
}

// escapePattern escapes glob metacharacters for SCAN MATCH.
func escapePattern(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(s)
}
