package ai

import (
	"context"
	"time"

	"github.com/xxxsen/ctxcache/internal/model"
)

const (
	defaultCacheTTL      = 60 * time.Minute
	defaultCallTimeout   = 300 * time.Second
	defaultHealthTimeout = 5 * time.Second
	defaultEmbedTimeout  = 30 * time.Second

	// CapacityRatio is the share of a bounded provider's ceiling that content may occupy.
	CapacityRatio = 0.9
)

type CreateCacheOptions struct {
	TTL               time.Duration
	SystemInstruction string
	Model             string
	DisplayName       string
}

type QueryOptions struct {
	Instruction     string
	MaxOutputTokens int
	Temperature     *float64
	StopSequences   []string
	Model           string
}

type CacheInfo struct {
	Handle     model.CacheHandle
	Model      string
	TokenCount int
	ExpiresAt  time.Time
}

// IProvider is the model-client contract shared by every backend.
type IProvider interface {
	Name() string
	Model() string
	ContextLimit() int
	EstimateTokens(text string) int
	CreateCache(ctx context.Context, content string, opts CreateCacheOptions) (*CacheInfo, error)
	QueryCache(ctx context.Context, handle model.CacheHandle, query string, opts QueryOptions) (*model.QueryResult, error)
	DeleteCache(ctx context.Context, handle model.CacheHandle) error
	IsAvailable(ctx context.Context) bool
	Query(ctx context.Context, contextText string, query string, opts QueryOptions) (*model.QueryResult, error)
}

// handleOwner is implemented by providers whose cache names follow a recognisable convention.
type handleOwner interface {
	OwnsHandle(name string) bool
}

type IEmbedProvider interface {
	Name() string
	Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error)
}

func cacheTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultCacheTTL
	}
	return ttl
}

func withDefault(v time.Duration, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
