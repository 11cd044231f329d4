package model

// EmbeddingCache is one persisted embedding keyed by model, task and content hash.
type EmbeddingCache struct {
	ModelName   string    `json:"model_name"`
	TaskType    string    `json:"task_type"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"embedding"`
	Ctime       int64     `json:"ctime"`
}

type ScoredChunk struct {
	Chunk CodeChunk `json:"chunk"`
	Score float64   `json:"score"`
}
