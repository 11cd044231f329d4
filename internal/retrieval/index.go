package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ctxcache/internal/ai"
	"github.com/xxxsen/ctxcache/internal/model"
	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
	"github.com/xxxsen/ctxcache/internal/repo"
)

const (
	defaultMaxResults  = 5
	taskTypeDocument   = "RETRIEVAL_DOCUMENT"
	taskTypeQuery      = "RETRIEVAL_QUERY"
	rewriteInstruction = "Rewrite the question into a short search query over source code and documents. Reply with the query only."
)

type ChunkStore interface {
	Replace(ctx context.Context, alias string, items []repo.ChunkEmbedding) error
	ListByAlias(ctx context.Context, alias string) ([]repo.ChunkEmbedding, error)
	DeleteByAlias(ctx context.Context, alias string) (int64, error)
}

// Index is an embedding-backed Retriever and Indexer over persisted chunk vectors.
type Index struct {
	embedder ai.IEmbedder
	store    ChunkStore
	rewriter ai.IGenerator
	weights  ConfidenceWeights
}

var (
	_ Retriever = (*Index)(nil)
	_ Indexer   = (*Index)(nil)
)

// NewIndex builds an index; rewriter may be nil, in which case Rewrite is ignored.
func NewIndex(embedder ai.IEmbedder, store ChunkStore, rewriter ai.IGenerator, weights ConfidenceWeights) *Index {
	if len(weights.Top) == 0 {
		weights = DefaultConfidenceWeights()
	}
	return &Index{embedder: embedder, store: store, rewriter: rewriter, weights: weights}
}

func (x *Index) IsAvailable(ctx context.Context) bool {
	return x.embedder != nil && x.store != nil
}

func (x *Index) Index(ctx context.Context, alias string, chunks []model.CodeChunk) error {
	if !x.IsAvailable(ctx) {
		return appErr.ErrUnavailable
	}
	items := make([]repo.ChunkEmbedding, 0, len(chunks))
	for _, chunk := range chunks {
		vec, err := x.embedder.Embed(ctx, embedText(chunk), taskTypeDocument)
		if err != nil {
			return fmt.Errorf("embed chunk %s#%d: %w", chunk.FilePath, chunk.ChunkIndex, err)
		}
		items = append(items, repo.ChunkEmbedding{Chunk: chunk, Embedding: vec})
	}
	if err := x.store.Replace(ctx, alias, items); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	logutil.GetLogger(ctx).Info("retrieval index built", zap.String("alias", alias), zap.Int("chunks", len(items)))
	return nil
}

func (x *Index) Drop(ctx context.Context, alias string) error {
	if x.store == nil {
		return nil
	}
	_, err := x.store.DeleteByAlias(ctx, alias)
	return err
}

func (x *Index) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	if !x.IsAvailable(ctx) {
		return nil, appErr.ErrUnavailable
	}
	if opts.Scope == "" {
		return nil, fmt.Errorf("search scope is required: %w", appErr.ErrInvalid)
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaultMaxResults
	}
	searchText := query
	if opts.Rewrite {
		searchText = x.rewrite(ctx, query)
	}
	items, err := x.store.ListByAlias(ctx, opts.Scope)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &SearchResult{}, nil
	}
	qvec, err := x.embedder.Embed(ctx, searchText, taskTypeQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	var terms map[string]struct{}
	if opts.Rerank {
		terms = termSet(query)
	}
	scored := make([]model.ScoredChunk, 0, len(items))
	for _, item := range items {
		score := cosine(qvec, item.Embedding)
		if opts.Rerank {
			score = 0.8*score + 0.2*termOverlap(terms, item.Chunk)
		}
		if score < opts.ScoreThreshold {
			continue
		}
		scored = append(scored, model.ScoredChunk{Chunk: item.Chunk, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > opts.MaxResults {
		scored = scored[:opts.MaxResults]
	}
	scores := make([]float64, 0, len(scored))
	for _, s := range scored {
		scores = append(scores, s.Score)
	}
	return &SearchResult{Chunks: scored, Confidence: Confidence(scores, x.weights)}, nil
}

func (x *Index) rewrite(ctx context.Context, query string) string {
	if x.rewriter == nil {
		return query
	}
	res, err := x.rewriter.Generate(ctx, "", rewriteInstruction+"\n\nQuestion: "+query)
	if err != nil || strings.TrimSpace(res.Response) == "" {
		logutil.GetLogger(ctx).Warn("query rewrite failed, using original", zap.Error(err))
		return query
	}
	return strings.TrimSpace(res.Response)
}

func embedText(chunk model.CodeChunk) string {
	return chunk.FilePath + "\n" + chunk.Content
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func termSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	}) {
		if len(f) > 2 {
			out[f] = struct{}{}
		}
	}
	return out
}

func termOverlap(terms map[string]struct{}, chunk model.CodeChunk) float64 {
	if len(terms) == 0 {
		return 0
	}
	have := termSet(chunk.FilePath + " " + chunk.Content + " " + strings.Join(chunk.Exports, " "))
	hit := 0
	for t := range terms {
		if _, ok := have[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}
