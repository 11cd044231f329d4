package repo

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ctxcache/internal/db"
	"github.com/xxxsen/ctxcache/internal/model"
	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.DriverSQLite, "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.ApplyMigrations(ctx, conn))
	return conn
}

func sampleRecord(alias, name string, expires time.Time) *model.CacheRecord {
	return &model.CacheRecord{
		Name:       name,
		Alias:      alias,
		Provider:   "local",
		Model:      "llama3",
		Source:     "/src/a" + model.SourceSeparator + "/src/b",
		TokenCount: 1200,
		TTLSeconds: 3600,
		CreatedAt:  time.UnixMilli(1700000000000),
		ExpiresAt:  expires,
	}
}

func TestCacheRecordUpsertKeepsOneRowPerAlias(t *testing.T) {
	r := NewCacheRecordRepo(newTestDB(t))
	ctx := context.Background()
	exp := time.UnixMilli(1700003600000)

	require.NoError(t, r.Save(ctx, sampleRecord("repo", "local-1", exp)))
	require.NoError(t, r.Save(ctx, sampleRecord("repo", "local-2", exp)))

	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "local-2", all[0].Name)

	got, err := r.GetByAlias(ctx, "repo")
	require.NoError(t, err)
	require.Equal(t, sampleRecord("repo", "local-2", exp), got)

	byName, err := r.GetByName(ctx, "local-2")
	require.NoError(t, err)
	require.Equal(t, "repo", byName.Alias)

	_, err = r.GetByName(ctx, "local-1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestCacheRecordUpdateAndDelete(t *testing.T) {
	r := NewCacheRecordRepo(newTestDB(t))
	ctx := context.Background()
	rec := sampleRecord("docs", "cachedContents/x", time.UnixMilli(1700003600000))
	require.NoError(t, r.Save(ctx, rec))

	rec.Name = "cachedContents/y"
	rec.Provider = "gemini"
	require.NoError(t, r.Update(ctx, rec))
	got, err := r.GetByAlias(ctx, "docs")
	require.NoError(t, err)
	require.Equal(t, "gemini", got.Provider)

	require.ErrorIs(t, r.Update(ctx, sampleRecord("missing", "n", time.Time{})), appErr.ErrNotFound)
	require.NoError(t, r.DeleteByAlias(ctx, "docs"))
	require.ErrorIs(t, r.DeleteByAlias(ctx, "docs"), appErr.ErrNotFound)
	_, err = r.GetByAlias(ctx, "docs")
	require.True(t, appErr.IsNotFound(err))
}

func TestCacheRecordListExpiredBefore(t *testing.T) {
	r := NewCacheRecordRepo(newTestDB(t))
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)
	require.NoError(t, r.Save(ctx, sampleRecord("old", "a", base.Add(-2*time.Hour))))
	require.NoError(t, r.Save(ctx, sampleRecord("recent", "b", base.Add(-time.Minute))))
	require.NoError(t, r.Save(ctx, sampleRecord("live", "c", base.Add(time.Hour))))

	expired, err := r.ListExpiredBefore(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "old", expired[0].Alias)

	expired, err = r.ListExpiredBefore(ctx, base)
	require.NoError(t, err)
	require.Len(t, expired, 2)
}

func TestUsageSummary(t *testing.T) {
	r := NewUsageRepo(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, r.Log(ctx, &model.UsageRecord{Alias: "a", Operation: "query", Tier: "rag", Tokens: 10, Ctime: 100}))
	require.NoError(t, r.Log(ctx, &model.UsageRecord{Alias: "a", Operation: "query", Tier: "context", Tokens: 30, CachedTokens: 20, Ctime: 200}))
	require.NoError(t, r.Log(ctx, &model.UsageRecord{Alias: "b", Operation: "load", Tokens: 5, Ctime: 300}))

	all, err := r.Summary(ctx, "", 0)
	require.NoError(t, err)
	require.Equal(t, []model.UsageSummary{
		{Alias: "a", Requests: 2, Tokens: 40, CachedTokens: 20},
		{Alias: "b", Requests: 1, Tokens: 5},
	}, all)

	only, err := r.Summary(ctx, "a", 150)
	require.NoError(t, err)
	require.Equal(t, []model.UsageSummary{{Alias: "a", Requests: 1, Tokens: 30, CachedTokens: 20}}, only)

	n, err := r.DeleteBefore(ctx, 250)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestEmbeddingCacheRepo(t *testing.T) {
	r := NewEmbeddingCacheRepo(newTestDB(t))
	ctx := context.Background()

	_, ok, err := r.Get(ctx, "m", "q", "h")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r.Save(ctx, &model.EmbeddingCache{ModelName: "m", TaskType: "q", ContentHash: "h", Embedding: []float32{0.5, 1}, Ctime: 10}))
	require.NoError(t, r.Save(ctx, &model.EmbeddingCache{ModelName: "m", TaskType: "q", ContentHash: "h", Embedding: []float32{0.25}, Ctime: 20}))
	vec, ok, err := r.Get(ctx, "m", "q", "h")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float32{0.25}, vec)

	n, err := r.DeleteBefore(ctx, 30)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestChunkEmbeddingRepo(t *testing.T) {
	r := NewChunkEmbeddingRepo(newTestDB(t))
	ctx := context.Background()
	items := []ChunkEmbedding{
		{Chunk: model.CodeChunk{ID: "2", Alias: "repo", FilePath: "b.go", ChunkIndex: 0, Content: "b"}, Embedding: []float32{0, 1}},
		{Chunk: model.CodeChunk{ID: "1", Alias: "repo", FilePath: "a.go", ChunkIndex: 1, Content: "a1"}, Embedding: []float32{1, 0}},
		{Chunk: model.CodeChunk{ID: "0", Alias: "repo", FilePath: "a.go", ChunkIndex: 0, Content: "a0"}, Embedding: []float32{1, 1}},
	}
	require.NoError(t, r.Replace(ctx, "repo", items))
	require.NoError(t, r.Replace(ctx, "repo", items))

	got, err := r.ListByAlias(ctx, "repo")
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "a0", got[0].Chunk.Content)
	require.Equal(t, "a1", got[1].Chunk.Content)
	require.Equal(t, []float32{0, 1}, got[2].Embedding)

	n, err := r.CountByAlias(ctx, "repo")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	deleted, err := r.DeleteByAlias(ctx, "repo")
	require.NoError(t, err)
	require.EqualValues(t, 3, deleted)
}
