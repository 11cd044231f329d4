package embedcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ctxcache/internal/model"
)

type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	c.calls++
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) ModelName() string { return "test-embed" }

type mapStore struct {
	items   map[string]*model.EmbeddingCache
	saveErr error
}

func (m *mapStore) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	item, ok := m.items[modelName+taskType+contentHash]
	if !ok {
		return nil, false, nil
	}
	return item.Embedding, true, nil
}

func (m *mapStore) Save(ctx context.Context, item *model.EmbeddingCache) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.items[item.ModelName+item.TaskType+item.ContentHash] = item
	return nil
}

func TestLRUHit(t *testing.T) {
	inner := &countingEmbedder{}
	e := WithLRU(inner, 8, time.Minute)
	ctx := context.Background()

	first, err := e.Embed(ctx, "hello", "query")
	require.NoError(t, err)
	first[0] = 99
	second, err := e.Embed(ctx, "hello", "query")
	require.NoError(t, err)
	require.Equal(t, []float32{5, 1}, second)
	require.Equal(t, 1, inner.calls)

	_, err = e.Embed(ctx, "hello", "document")
	require.NoError(t, err)
	require.Equal(t, 2, inner.calls)
	require.Equal(t, "test-embed", e.ModelName())
}

func TestLRUDisabled(t *testing.T) {
	inner := &countingEmbedder{}
	require.Same(t, inner, WithLRU(inner, 0, time.Minute))
}

func TestStoreLayer(t *testing.T) {
	inner := &countingEmbedder{}
	st := &mapStore{items: map[string]*model.EmbeddingCache{}}
	e := WithStore(inner, st)
	ctx := context.Background()

	_, err := e.Embed(ctx, "abc", "")
	require.NoError(t, err)
	_, err = e.Embed(ctx, "abc", "")
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)
	require.Len(t, st.items, 1)
	for _, item := range st.items {
		require.Equal(t, "test-embed", item.ModelName)
		require.Len(t, item.ContentHash, 64)
	}
}

func TestStoreSaveFailureIsSwallowed(t *testing.T) {
	inner := &countingEmbedder{}
	e := WithStore(inner, &mapStore{items: map[string]*model.EmbeddingCache{}, saveErr: errors.New("disk full")})
	vec, err := e.Embed(context.Background(), "abc", "")
	require.NoError(t, err)
	require.Equal(t, []float32{3, 1}, vec)
}
