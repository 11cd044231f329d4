package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ctxcache/internal/ai"
	"github.com/xxxsen/ctxcache/internal/chunker"
	"github.com/xxxsen/ctxcache/internal/model"
	"github.com/xxxsen/ctxcache/internal/retrieval"
)

const (
	defaultThreshold  = 0.7
	defaultMaxResults = 5
	synthInstruction  = "Answer the question using only the excerpts below. Cite file names when relevant. If the excerpts are insufficient, say so."
)

type TieredConfig struct {
	Threshold      float64
	MaxResults     int
	ScoreThreshold float64
	Rewrite        bool
	Rerank         bool
}

type TieredQueryOptions struct {
	ForceFullContext bool
	Instruction      string
	MaxOutputTokens  int
	Temperature      *float64
}

// TieredQueryHandler answers from retrieved chunks when retrieval is confident and
// escalates to the full cached context otherwise. No state survives between calls.
type TieredQueryHandler struct {
	caches    *CacheService
	retriever retrieval.Retriever
	synth     ai.IGenerator
	usage     UsageLogger
	cfg       TieredConfig
	estimate  func(string) int
}

// NewTieredQueryHandler wires the handler; retriever, synth and usage may be nil.
func NewTieredQueryHandler(caches *CacheService, retriever retrieval.Retriever, synth ai.IGenerator, usage UsageLogger, cfg TieredConfig) *TieredQueryHandler {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	return &TieredQueryHandler{
		caches:    caches,
		retriever: retriever,
		synth:     synth,
		usage:     usage,
		cfg:       cfg,
		estimate:  chunker.EstimateTokens,
	}
}

func (h *TieredQueryHandler) Query(ctx context.Context, alias string, query string, opts TieredQueryOptions) (*model.TieredQueryResult, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("alias", alias))
	rec, err := h.caches.Get(ctx, alias)
	if err != nil {
		return nil, err
	}
	// an expired alias gets the refresh notice before its index is consulted
	if rec.IsExpired(h.caches.now()) {
		logger.Info("cache expired, refresh required")
		return &model.TieredQueryResult{Tier: model.TierContext, Model: rec.Model, Expired: expiredNotice(rec)}, nil
	}

	var confidence *float64
	var chunkCount *int
	if !opts.ForceFullContext {
		search := h.search(ctx, alias, query)
		conf := search.Confidence
		n := len(search.Chunks)
		confidence, chunkCount = &conf, &n
		if conf >= h.cfg.Threshold && n > 0 {
			res, err := h.synthesize(ctx, query, search, opts)
			if err == nil {
				logger.Info("answered from retrieval", zap.Float64("confidence", conf), zap.Int("chunks", n))
				h.logUsage(ctx, alias, res, 0)
				return res, nil
			}
			logger.Warn("rag synthesis failed, escalating", zap.Error(err))
		} else {
			logger.Info("escalating to full context", zap.Float64("confidence", conf), zap.Int("chunks", n), zap.Float64("threshold", h.cfg.Threshold))
		}
	}

	out, err := h.caches.queryRecord(ctx, rec, CacheQueryRequest{
		Query:           query,
		Instruction:     opts.Instruction,
		MaxOutputTokens: opts.MaxOutputTokens,
		Temperature:     opts.Temperature,
	})
	if err != nil {
		return nil, err
	}
	if out.Expired != nil {
		return &model.TieredQueryResult{Tier: model.TierContext, Model: rec.Model, Confidence: confidence, Expired: out.Expired}, nil
	}
	tier := model.TierContext
	if out.Result.Expandable {
		tier = model.TierFallback
	}
	res := &model.TieredQueryResult{
		Response:   out.Result.Response,
		Tier:       tier,
		Model:      out.Result.Model,
		Confidence: confidence,
		ChunkCount: chunkCount,
		TokensUsed: out.Result.TokensUsed,
	}
	h.logUsage(ctx, alias, res, out.Result.CachedTokens)
	return res, nil
}

// search never fails: errors, panics and an absent retriever all mean zero confidence.
func (h *TieredQueryHandler) search(ctx context.Context, alias string, query string) (res *retrieval.SearchResult) {
	res = &retrieval.SearchResult{}
	if h.retriever == nil {
		return res
	}
	logger := logutil.GetLogger(ctx).With(zap.String("alias", alias))
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("retrieval panicked", zap.Any("panic", r))
			res = &retrieval.SearchResult{}
		}
	}()
	if !h.retriever.IsAvailable(ctx) {
		logger.Debug("retriever unavailable")
		return res
	}
	found, err := h.retriever.Search(ctx, query, retrieval.SearchOptions{
		Scope:          alias,
		MaxResults:     h.cfg.MaxResults,
		ScoreThreshold: h.cfg.ScoreThreshold,
		Rewrite:        h.cfg.Rewrite,
		Rerank:         h.cfg.Rerank,
	})
	if err != nil || found == nil {
		logger.Warn("retrieval failed, treating as zero confidence", zap.Error(err))
		return res
	}
	return found
}

func (h *TieredQueryHandler) synthesize(ctx context.Context, query string, search *retrieval.SearchResult, opts TieredQueryOptions) (*model.TieredQueryResult, error) {
	chunks := search.Chunks
	var qr *model.QueryResult
	var err error
	switch {
	case h.synth != nil:
		prompt := query
		if opts.Instruction != "" {
			prompt = opts.Instruction + "\n\n" + query
		}
		qr, err = h.synth.Generate(ctx, synthInstruction+"\n\n"+chunkContext(chunks), prompt)
	default:
		gen, ok := h.retriever.(retrieval.GeneratingRetriever)
		if !ok {
			return nil, fmt.Errorf("no synthesiser configured")
		}
		qr, err = gen.Generate(ctx, query, chunks)
	}
	if err != nil {
		return nil, err
	}
	tokens := h.estimate(qr.Response)
	for _, c := range chunks {
		tokens += h.estimate(c.Chunk.Content)
	}
	conf := search.Confidence
	n := len(chunks)
	return &model.TieredQueryResult{
		Response:   qr.Response,
		Tier:       model.TierRAG,
		Model:      qr.Model,
		Confidence: &conf,
		ChunkCount: &n,
		TokensUsed: tokens,
	}, nil
}

func (h *TieredQueryHandler) logUsage(ctx context.Context, alias string, res *model.TieredQueryResult, cachedTokens int) {
	if h.usage == nil {
		return
	}
	rec := &model.UsageRecord{
		Alias:        alias,
		Operation:    "query",
		Model:        res.Model,
		Tier:         string(res.Tier),
		Tokens:       res.TokensUsed,
		CachedTokens: cachedTokens,
		Ctime:        h.caches.now().Unix(),
	}
	if err := h.usage.Log(ctx, rec); err != nil {
		logutil.GetLogger(ctx).Warn("log usage failed", zap.String("alias", alias), zap.Error(err))
	}
}

func chunkContext(chunks []model.ScoredChunk) string {
	var sb strings.Builder
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "--- %s (lines %d-%d) ---\n", c.Chunk.FilePath, c.Chunk.StartLine, c.Chunk.EndLine)
		sb.WriteString(c.Chunk.Content)
	}
	return sb.String()
}
