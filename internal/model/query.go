package model

type QueryResult struct {
	Response     string `json:"response"`
	TokensUsed   int    `json:"tokens_used"`
	CachedTokens int    `json:"cached_tokens"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`

	// Expandable is set by providers that serve from the large-context tier.
	Expandable bool `json:"expandable"`
}

type Tier string

const (
	TierRAG      Tier = "rag"
	TierContext  Tier = "context"
	TierFallback Tier = "fallback"
)

type TieredQueryResult struct {
	Response   string         `json:"response"`
	Tier       Tier           `json:"tier"`
	Model      string         `json:"model"`
	Confidence *float64       `json:"confidence,omitempty"`
	ChunkCount *int           `json:"chunk_count,omitempty"`
	TokensUsed int            `json:"tokens_used"`
	Expired    *ExpiredNotice `json:"expired,omitempty"`
}

type FallbackReason string

const (
	FallbackLocalUnavailable FallbackReason = "local_unavailable"
	FallbackContextTooLarge  FallbackReason = "context_too_large"
	FallbackLocalError       FallbackReason = "local_error"
	FallbackTimeout          FallbackReason = "timeout"
)

type FallbackEvent struct {
	Reason        FallbackReason `json:"reason"`
	PrimaryModel  string         `json:"primary_model"`
	FallbackModel string         `json:"fallback_model"`
	Detail        string         `json:"detail"`
}
