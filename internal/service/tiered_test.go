package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ctxcache/internal/model"
	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
	"github.com/xxxsen/ctxcache/internal/retrieval"
)

type tieredFixture struct {
	*serviceFixture
	retriever *stubRetriever
	synth     *stubGenerator
	handler   *TieredQueryHandler
	queryLog  *memUsage
}

func newTieredFixture(t *testing.T, confidence float64) *tieredFixture {
	f := &tieredFixture{
		serviceFixture: newServiceFixture(),
		retriever: &stubRetriever{
			available: true,
			result: &retrieval.SearchResult{
				Confidence: confidence,
				Chunks: []model.ScoredChunk{
					{Chunk: model.CodeChunk{FilePath: "app.go", StartLine: 1, EndLine: 3, Content: "func Run() {}"}, Score: confidence},
				},
			},
		},
		synth:    &stubGenerator{},
		queryLog: &memUsage{},
	}
	f.handler = NewTieredQueryHandler(f.svc, f.retriever, f.synth, f.queryLog, TieredConfig{Threshold: 0.7})
	_, err := f.svc.Load(context.Background(), LoadRequest{Alias: "app", Sources: []string{"/src/app"}})
	require.NoError(t, err)
	return f
}

func TestTieredAnswersFromRetrieval(t *testing.T) {
	f := newTieredFixture(t, 0.9)
	res, err := f.handler.Query(context.Background(), "app", "what runs?", TieredQueryOptions{})
	require.NoError(t, err)
	require.Equal(t, model.TierRAG, res.Tier)
	require.Equal(t, "rag answer", res.Response)
	require.Equal(t, "flash-lite", res.Model)
	require.NotNil(t, res.Confidence)
	require.InDelta(t, 0.9, *res.Confidence, 1e-9)
	require.Equal(t, 1, *res.ChunkCount)
	require.Positive(t, res.TokensUsed)
	require.Empty(t, f.provider.queried)
	require.Contains(t, f.synth.lastContext, "--- app.go (lines 1-3) ---")

	require.Equal(t, "app", f.retriever.lastOpts.Scope)
	require.Equal(t, defaultMaxResults, f.retriever.lastOpts.MaxResults)
	require.Len(t, f.queryLog.records, 1)
	require.Equal(t, "rag", f.queryLog.records[0].Tier)
}

func TestTieredEscalatesBelowThreshold(t *testing.T) {
	for _, conf := range []float64{0.2, 0.5} {
		f := newTieredFixture(t, conf)
		res, err := f.handler.Query(context.Background(), "app", "what runs?", TieredQueryOptions{})
		require.NoError(t, err)
		require.Equal(t, model.TierContext, res.Tier)
		require.Equal(t, "full:what runs?", res.Response)
		require.InDelta(t, conf, *res.Confidence, 1e-9)
		require.Zero(t, f.synth.calls)
		require.Len(t, f.provider.queried, 1)
	}
}

func TestTieredEscalationReportsFallbackTier(t *testing.T) {
	f := newTieredFixture(t, 0.5)
	f.provider.expandable = true
	res, err := f.handler.Query(context.Background(), "app", "q", TieredQueryOptions{})
	require.NoError(t, err)
	require.Equal(t, model.TierFallback, res.Tier)
	require.Equal(t, "gemini-2.0-flash", res.Model)
	require.Equal(t, 400, f.queryLog.records[0].CachedTokens)
}

func TestTieredRetrievalFailureEscalates(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *stubRetriever)
	}{
		{"error", func(r *stubRetriever) { r.err = errors.New("index offline") }},
		{"panic", func(r *stubRetriever) { r.panicMsg = "boom" }},
		{"unavailable", func(r *stubRetriever) { r.available = false }},
		{"empty", func(r *stubRetriever) { r.result = &retrieval.SearchResult{Confidence: 0.95} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTieredFixture(t, 0.9)
			tt.setup(f.retriever)
			res, err := f.handler.Query(context.Background(), "app", "q", TieredQueryOptions{})
			require.NoError(t, err)
			require.Equal(t, model.TierContext, res.Tier)
			require.Zero(t, f.synth.calls)
		})
	}
}

func TestTieredSynthesisFailureEscalates(t *testing.T) {
	f := newTieredFixture(t, 0.9)
	f.synth.err = errors.New("quota")
	res, err := f.handler.Query(context.Background(), "app", "q", TieredQueryOptions{})
	require.NoError(t, err)
	require.Equal(t, model.TierContext, res.Tier)
	require.Equal(t, 1, f.synth.calls)
}

func TestTieredForceFullContext(t *testing.T) {
	f := newTieredFixture(t, 0.99)
	res, err := f.handler.Query(context.Background(), "app", "q", TieredQueryOptions{ForceFullContext: true})
	require.NoError(t, err)
	require.Equal(t, model.TierContext, res.Tier)
	require.Nil(t, res.Confidence)
	require.Zero(t, f.retriever.calls)
	require.Zero(t, f.synth.calls)
}

func TestTieredWithoutRetriever(t *testing.T) {
	f := newTieredFixture(t, 0.9)
	h := NewTieredQueryHandler(f.svc, nil, nil, nil, TieredConfig{})
	res, err := h.Query(context.Background(), "app", "q", TieredQueryOptions{})
	require.NoError(t, err)
	require.Equal(t, model.TierContext, res.Tier)
	require.InDelta(t, 0, *res.Confidence, 1e-9)
}

func TestTieredExpiredRecord(t *testing.T) {
	for _, conf := range []float64{0.1, 0.9} {
		f := newTieredFixture(t, conf)
		f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		res, err := f.handler.Query(context.Background(), "app", "q", TieredQueryOptions{})
		require.NoError(t, err)
		require.NotNil(t, res.Expired)
		require.Equal(t, "refresh", res.Expired.Recovery)
		require.Equal(t, model.TierContext, res.Tier)
		require.Empty(t, res.Response)
		require.Empty(t, f.provider.queried)
		require.Zero(t, f.retriever.calls)
		require.Zero(t, f.synth.calls)
		_, err = f.svc.Get(context.Background(), "app")
		require.NoError(t, err)
	}
}

func TestTieredUnknownAlias(t *testing.T) {
	f := newTieredFixture(t, 0.9)
	_, err := f.handler.Query(context.Background(), "ghost", "q", TieredQueryOptions{})
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.Zero(t, f.retriever.calls)
}
