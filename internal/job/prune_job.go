package job

import (
	"context"
	"errors"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ctxcache/internal/model"
	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
)

const defaultPruneGrace = 24 * time.Hour

type ExpiredLister interface {
	ListExpiredBefore(ctx context.Context, cutoff time.Time) ([]*model.CacheRecord, error)
}

type Evictor interface {
	Evict(ctx context.Context, alias string) error
}

// PruneExpiredJob evicts records whose expiry passed more than grace ago.
type PruneExpiredJob struct {
	lister  ExpiredLister
	evictor Evictor
	grace   time.Duration
	now     func() time.Time
}

func NewPruneExpiredJob(lister ExpiredLister, evictor Evictor, grace time.Duration) *PruneExpiredJob {
	if grace <= 0 {
		grace = defaultPruneGrace
	}
	return &PruneExpiredJob{lister: lister, evictor: evictor, grace: grace, now: time.Now}
}

func (j *PruneExpiredJob) Name() string {
	return "cache_prune"
}

func (j *PruneExpiredJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.grace)
	recs, err := j.lister.ListExpiredBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	var errs []error
	pruned := 0
	for _, rec := range recs {
		if err := j.evictor.Evict(ctx, rec.Alias); err != nil {
			if appErr.IsNotFound(err) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		pruned++
	}
	logutil.GetLogger(ctx).Info("expired caches pruned",
		zap.Int("candidates", len(recs)),
		zap.Int("pruned", pruned),
		zap.Time("cutoff", cutoff),
	)
	return errors.Join(errs...)
}
