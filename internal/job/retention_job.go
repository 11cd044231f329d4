package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// RowDeleter removes rows whose ctime (unix seconds) is before cutoff.
type RowDeleter interface {
	DeleteBefore(ctx context.Context, cutoff int64) (int64, error)
}

type RetentionJob struct {
	name   string
	repo   RowDeleter
	maxAge time.Duration
	now    func() time.Time
}

// NewEmbeddingCacheCleanupJob drops cached embeddings older than maxAgeDays (default 30).
func NewEmbeddingCacheCleanupJob(repo RowDeleter, maxAgeDays int) *RetentionJob {
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	return newRetentionJob("embedding_cache_cleanup", repo, time.Duration(maxAgeDays)*24*time.Hour)
}

// NewUsageCleanupJob drops usage rows older than maxAgeDays (default 90).
func NewUsageCleanupJob(repo RowDeleter, maxAgeDays int) *RetentionJob {
	if maxAgeDays <= 0 {
		maxAgeDays = 90
	}
	return newRetentionJob("usage_cleanup", repo, time.Duration(maxAgeDays)*24*time.Hour)
}

func newRetentionJob(name string, repo RowDeleter, maxAge time.Duration) *RetentionJob {
	return &RetentionJob{name: name, repo: repo, maxAge: maxAge, now: time.Now}
}

func (j *RetentionJob) Name() string {
	return j.name
}

func (j *RetentionJob) Run(ctx context.Context) error {
	if j.repo == nil {
		return nil
	}
	cutoff := j.now().Add(-j.maxAge).Unix()
	n, err := j.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("rows expired", zap.String("job", j.name), zap.Int64("deleted", n))
	return nil
}
