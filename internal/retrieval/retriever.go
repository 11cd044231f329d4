package retrieval

import (
	"context"
	"sort"

	"github.com/xxxsen/ctxcache/internal/model"
)

type SearchOptions struct {
	Scope          string
	MaxResults     int
	ScoreThreshold float64
	Rewrite        bool
	Rerank         bool
}

type SearchResult struct {
	Chunks     []model.ScoredChunk
	Confidence float64
}

// Retriever returns ranked chunks for a query within one alias.
type Retriever interface {
	Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error)
	IsAvailable(ctx context.Context) bool
}

// GeneratingRetriever is a Retriever that can also answer from the chunks it found.
type GeneratingRetriever interface {
	Retriever
	Generate(ctx context.Context, query string, chunks []model.ScoredChunk) (*model.QueryResult, error)
}

// Indexer maintains the per-alias index a Retriever searches.
type Indexer interface {
	Index(ctx context.Context, alias string, chunks []model.CodeChunk) error
	Drop(ctx context.Context, alias string) error
}

type ConfidenceWeights struct {
	Top  []float64 `json:"top"`
	Tail float64   `json:"tail"`
}

func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{Top: []float64{0.5, 0.3, 0.2}, Tail: 0.1}
}

func (w ConfidenceWeights) at(i int) float64 {
	if i < len(w.Top) {
		return w.Top[i]
	}
	return w.Tail
}

// Confidence is the weighted average of the match scores taken best first; 0 without matches.
func Confidence(scores []float64, w ConfidenceWeights) float64 {
	if len(scores) == 0 {
		return 0
	}
	if len(w.Top) == 0 && w.Tail <= 0 {
		w = DefaultConfidenceWeights()
	}
	sorted := append([]float64(nil), scores...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	var sum, weights float64
	for i, s := range sorted {
		wi := w.at(i)
		sum += wi * s
		weights += wi
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}
