package handler

import (
	"context"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ctxcache/internal/pkg/response"
)

type HealthProbe interface {
	Name() string
	IsAvailable(ctx context.Context) bool
}

type HealthHandler struct {
	probes []HealthProbe
}

func NewHealthHandler(probes ...HealthProbe) *HealthHandler {
	return &HealthHandler{probes: probes}
}

type probeStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// Health probes every provider concurrently; the service is healthy when any is available.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	out := make([]probeStatus, len(h.probes))
	var wg sync.WaitGroup
	for i, p := range h.probes {
		wg.Add(1)
		go func(i int, p HealthProbe) {
			defer wg.Done()
			out[i] = probeStatus{Name: p.Name(), Available: p.IsAvailable(ctx)}
		}(i, p)
	}
	wg.Wait()
	healthy := false
	for _, s := range out {
		healthy = healthy || s.Available
	}
	response.Success(c, gin.H{"healthy": healthy, "providers": out})
}
