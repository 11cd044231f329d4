package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ctxcache/internal/model"
	"github.com/xxxsen/ctxcache/internal/pkg/response"
	"github.com/xxxsen/ctxcache/internal/service"
)

type CacheManager interface {
	Load(ctx context.Context, req service.LoadRequest) (*model.CacheRecord, error)
	Get(ctx context.Context, alias string) (*model.CacheRecord, error)
	List(ctx context.Context) ([]model.CacheRecordStatus, error)
	Evict(ctx context.Context, alias string) error
	Refresh(ctx context.Context, alias string, req service.RefreshRequest) (*model.CacheRecord, error)
}

type TieredQuerier interface {
	Query(ctx context.Context, alias string, query string, opts service.TieredQueryOptions) (*model.TieredQueryResult, error)
}

type CacheHandler struct {
	caches CacheManager
	tiered TieredQuerier
}

func NewCacheHandler(caches CacheManager, tiered TieredQuerier) *CacheHandler {
	return &CacheHandler{caches: caches, tiered: tiered}
}

type loadRequest struct {
	Alias             string   `json:"alias"`
	Sources           []string `json:"sources"`
	TTLMinutes        int      `json:"ttl_minutes"`
	SystemInstruction string   `json:"system_instruction"`
	Model             string   `json:"model"`
}

type queryRequest struct {
	Query            string   `json:"query"`
	ForceFullContext bool     `json:"force_full_context"`
	Instruction      string   `json:"instruction"`
	MaxOutputTokens  int      `json:"max_output_tokens"`
	Temperature      *float64 `json:"temperature"`
}

type refreshRequest struct {
	TTLMinutes int `json:"ttl_minutes"`
}

func (h *CacheHandler) Load(c *gin.Context) {
	var req loadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "invalid request")
		return
	}
	if req.TTLMinutes < 0 {
		invalidRequest(c, "ttl_minutes must not be negative")
		return
	}
	rec, err := h.caches.Load(c.Request.Context(), service.LoadRequest{
		Alias:             strings.TrimSpace(req.Alias),
		Sources:           req.Sources,
		TTL:               time.Duration(req.TTLMinutes) * time.Minute,
		SystemInstruction: req.SystemInstruction,
		Model:             req.Model,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, rec)
}

func (h *CacheHandler) List(c *gin.Context) {
	items, err := h.caches.List(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"caches": items})
}

func (h *CacheHandler) Get(c *gin.Context) {
	rec, err := h.caches.Get(c.Request.Context(), c.Param("alias"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, rec)
}

func (h *CacheHandler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "invalid request")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		invalidRequest(c, "query is required")
		return
	}
	res, err := h.tiered.Query(c.Request.Context(), c.Param("alias"), req.Query, service.TieredQueryOptions{
		ForceFullContext: req.ForceFullContext,
		Instruction:      req.Instruction,
		MaxOutputTokens:  req.MaxOutputTokens,
		Temperature:      req.Temperature,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *CacheHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidRequest(c, "invalid request")
			return
		}
	}
	rec, err := h.caches.Refresh(c.Request.Context(), c.Param("alias"), service.RefreshRequest{
		TTL: time.Duration(req.TTLMinutes) * time.Minute,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, rec)
}

func (h *CacheHandler) Evict(c *gin.Context) {
	alias := c.Param("alias")
	if err := h.caches.Evict(c.Request.Context(), alias); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"alias": alias, "evicted": true})
}
