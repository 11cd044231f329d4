package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ctxcache/internal/model"
	"github.com/xxxsen/ctxcache/internal/pkg/response"
)

type UsageReader interface {
	Summary(ctx context.Context, alias string, since int64) ([]model.UsageSummary, error)
}

type UsageHandler struct {
	usage UsageReader
}

func NewUsageHandler(usage UsageReader) *UsageHandler {
	return &UsageHandler{usage: usage}
}

// Summary accepts optional alias and since (unix seconds) query parameters.
func (h *UsageHandler) Summary(c *gin.Context) {
	var since int64
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			invalidRequest(c, "since must be unix seconds")
			return
		}
		since = v
	}
	items, err := h.usage.Summary(c.Request.Context(), c.Query("alias"), since)
	if err != nil {
		handleError(c, err)
		return
	}
	if items == nil {
		items = []model.UsageSummary{}
	}
	response.Success(c, gin.H{"usage": items})
}
