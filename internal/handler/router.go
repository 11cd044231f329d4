package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ctxcache/internal/middleware"
)

type RouterDeps struct {
	Caches    *CacheHandler
	Chunks    *ChunkHandler
	Usage     *UsageHandler
	Health    *HealthHandler
	RateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	limited := middleware.RateLimit(deps.RateLimit)

	api.POST("/caches", limited, deps.Caches.Load)
	api.GET("/caches", deps.Caches.List)
	api.GET("/caches/:alias", deps.Caches.Get)
	api.POST("/caches/:alias/query", deps.Caches.Query)
	api.POST("/caches/:alias/refresh", limited, deps.Caches.Refresh)
	api.DELETE("/caches/:alias", deps.Caches.Evict)

	api.POST("/chunks", deps.Chunks.Chunk)
	api.GET("/usage", deps.Usage.Summary)
	api.GET("/health", deps.Health.Health)
}
