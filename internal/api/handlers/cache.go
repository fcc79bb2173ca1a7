package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/esp-selector-go/internal/cache"
	"github.com/irfndi/esp-selector-go/internal/middleware"
)

// CacheAdmin is the administrative surface of the enhanced parameter cache.
type CacheAdmin interface {
	GetStats() cache.CacheStats
	Clear(ctx context.Context) error
	Invalidate(ctx context.Context, pumpID string)
	LogStats()
}

// CacheHandler handles cache monitoring endpoints. A nil cache means Redis is disabled.
type CacheHandler struct {
	cache CacheAdmin
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(cache CacheAdmin) *CacheHandler {
	return &CacheHandler{cache: cache}
}

func (h *CacheHandler) available(c *gin.Context) bool {
	if h.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Cache unavailable",
			"details": "Redis cache is disabled",
		})
		return false
	}
	return true
}

// GetCacheStats returns hit/miss statistics of the enhanced parameter cache.
func (h *CacheHandler) GetCacheStats(c *gin.Context) {
	if !h.available(c) {
		return
	}
	stats := h.cache.GetStats()
	h.cache.LogStats()
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"data":     stats,
		"hit_rate": stats.HitRate(),
	})
}

// ClearCache drops every cached enhanced parameter set.
func (h *CacheHandler) ClearCache(c *gin.Context) {
	if !h.available(c) {
		return
	}
	if err := h.cache.Clear(c.Request.Context()); err != nil {
		if errors.Is(err, cache.ErrCircuitOpen) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "Cache unavailable",
				"details": "Redis circuit breaker is open",
			})
			return
		}
		middleware.RecordError(c, err, "Failed to clear cache")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear cache"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Cache cleared successfully",
	})
}

// InvalidatePump drops the cached sets of one pump.
func (h *CacheHandler) InvalidatePump(c *gin.Context) {
	if !h.available(c) {
		return
	}
	pumpID := c.Param("pump_id")
	h.cache.Invalidate(c.Request.Context(), pumpID)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"pump_id": pumpID,
	})
}
