package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ctxcache/internal/model"
	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
)

type fakeLister struct {
	cutoff time.Time
	recs   []*model.CacheRecord
}

func (f *fakeLister) ListExpiredBefore(ctx context.Context, cutoff time.Time) ([]*model.CacheRecord, error) {
	f.cutoff = cutoff
	return f.recs, nil
}

type fakeEvictor struct {
	evicted []string
	fail    map[string]error
}

func (f *fakeEvictor) Evict(ctx context.Context, alias string) error {
	if err := f.fail[alias]; err != nil {
		return err
	}
	f.evicted = append(f.evicted, alias)
	return nil
}

func TestPruneExpiredJob(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{recs: []*model.CacheRecord{{Alias: "a"}, {Alias: "gone"}, {Alias: "b"}}}
	evictor := &fakeEvictor{fail: map[string]error{"gone": appErr.ErrNotFound}}
	j := NewPruneExpiredJob(lister, evictor, 2*time.Hour)
	j.now = func() time.Time { return now }

	require.Equal(t, "cache_prune", j.Name())
	require.NoError(t, j.Run(context.Background()))
	require.Equal(t, now.Add(-2*time.Hour), lister.cutoff)
	require.Equal(t, []string{"a", "b"}, evictor.evicted)
}

func TestPruneExpiredJobReportsFailures(t *testing.T) {
	lister := &fakeLister{recs: []*model.CacheRecord{{Alias: "a"}, {Alias: "b"}}}
	evictor := &fakeEvictor{fail: map[string]error{"a": errors.New("db locked")}}
	j := NewPruneExpiredJob(lister, evictor, 0)

	err := j.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, []string{"b"}, evictor.evicted)
	require.Equal(t, defaultPruneGrace, j.grace)
}

type fakeDeleter struct {
	cutoff int64
}

func (f *fakeDeleter) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	f.cutoff = cutoff
	return 3, nil
}

func TestRetentionJobs(t *testing.T) {
	now := time.Unix(10_000_000, 0)
	tests := []struct {
		job    *RetentionJob
		name   string
		maxAge time.Duration
	}{
		{NewEmbeddingCacheCleanupJob(&fakeDeleter{}, 0), "embedding_cache_cleanup", 30 * 24 * time.Hour},
		{NewEmbeddingCacheCleanupJob(&fakeDeleter{}, 7), "embedding_cache_cleanup", 7 * 24 * time.Hour},
		{NewUsageCleanupJob(&fakeDeleter{}, 0), "usage_cleanup", 90 * 24 * time.Hour},
	}
	for _, tt := range tests {
		tt.job.now = func() time.Time { return now }
		require.Equal(t, tt.name, tt.job.Name())
		require.NoError(t, tt.job.Run(context.Background()))
		require.Equal(t, now.Add(-tt.maxAge).Unix(), tt.job.repo.(*fakeDeleter).cutoff)
	}
	require.NoError(t, NewUsageCleanupJob(nil, 1).Run(context.Background()))
}
