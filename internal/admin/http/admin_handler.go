// Package http provides HTTP handlers for the admin and observability API.
package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hivedb/hivedb/internal/cache"
	catalogUseCase "github.com/hivedb/hivedb/internal/catalog/usecase"
	"github.com/hivedb/hivedb/internal/cellstore"
	"github.com/hivedb/hivedb/internal/eventbus"
	"github.com/hivedb/hivedb/internal/httputil"
)

// AdminHandler handles HTTP requests for service statistics and cache
// administration. All routes require an admin user.
type AdminHandler struct {
	userUseCase   catalogUseCase.UserUseCaseInterface
	cellUseCase   catalogUseCase.CellUseCaseInterface
	store         *cellstore.Store
	cache         *cache.Liquid
	publisher     *eventbus.Publisher
	cryptoEnabled bool
	logger        *slog.Logger
}

// NewAdminHandler creates a new admin handler with required dependencies.
func NewAdminHandler(
	userUseCase catalogUseCase.UserUseCaseInterface,
	cellUseCase catalogUseCase.CellUseCaseInterface,
	store *cellstore.Store,
	liquid *cache.Liquid,
	publisher *eventbus.Publisher,
	cryptoEnabled bool,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		userUseCase:   userUseCase,
		cellUseCase:   cellUseCase,
		store:         store,
		cache:         liquid,
		publisher:     publisher,
		cryptoEnabled: cryptoEnabled,
		logger:        logger,
	}
}

// StatsHandler reports service-wide statistics.
// GET /admin/stats
func (h *AdminHandler) StatsHandler(c *gin.Context) {
	ctx := c.Request.Context()

	userCount, err := h.userUseCase.CountUsers(ctx)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	cellCount, err := h.cellUseCase.CountCells(ctx)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	storageBytes, err := h.store.StorageBytes()
	if err != nil {
		h.logger.Warn("failed to measure storage size", slog.Any("error", err))
		storageBytes = -1
	}

	c.JSON(http.StatusOK, gin.H{
		"users":         userCount,
		"cells":         cellCount,
		"storage_bytes": storageBytes,
		"cache":         h.cache.Stats(),
		"crypto": gin.H{
			"enabled": h.cryptoEnabled,
		},
		"event_bus": gin.H{
			"publish_failures": h.publisher.Failures(),
		},
	})
}

// CacheStatsHandler reports cache hit, miss and prediction counters.
// GET /admin/cache/stats
func (h *AdminHandler) CacheStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}

// HotPatternsHandler lists the most observed query patterns.
// GET /admin/cache/hot-patterns?limit=N
func (h *AdminHandler) HotPatternsHandler(c *gin.Context) {
	limit := parseLimit(c, 10)
	c.JSON(http.StatusOK, gin.H{
		"patterns": h.cache.HotPatterns(limit),
	})
}

// PreloadHintsHandler lists the likely-next patterns derived from recent
// queries.
// GET /admin/cache/preload-hints?limit=N
func (h *AdminHandler) PreloadHintsHandler(c *gin.Context) {
	limit := parseLimit(c, 10)
	c.JSON(http.StatusOK, gin.H{
		"hints": h.cache.PreloadHints(limit),
	})
}

// ClearCacheHandler drops every cached entry. Learned patterns survive.
// POST /admin/cache/clear
func (h *AdminHandler) ClearCacheHandler(c *gin.Context) {
	h.cache.Clear()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// parseLimit reads a positive limit query parameter with a fallback.
func parseLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
