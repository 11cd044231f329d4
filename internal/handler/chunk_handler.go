package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ctxcache/internal/chunker"
	"github.com/xxxsen/ctxcache/internal/pkg/response"
)

type ChunkHandler struct {
	opts chunker.Options
}

func NewChunkHandler(opts chunker.Options) *ChunkHandler {
	return &ChunkHandler{opts: opts}
}

type chunkRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Alias   string `json:"alias"`
}

func (h *ChunkHandler) Chunk(c *gin.Context) {
	var req chunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "invalid request")
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		invalidRequest(c, "path is required")
		return
	}
	chunks := chunker.ChunkFile(c.Request.Context(), req.Path, req.Content, req.Alias, h.opts)
	response.Success(c, gin.H{"chunks": chunks, "count": len(chunks)})
}
