package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
	panic bool
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		<-j.block
	}
	if j.panic {
		panic("job exploded")
	}
	return j.err
}

func TestAddJobRejectsDuplicatesAndBadSpecs(t *testing.T) {
	s := NewCronScheduler()
	require.NoError(t, s.AddJob(&countingJob{name: "prune"}, "*/5 * * * *"))
	require.Error(t, s.AddJob(&countingJob{name: "prune"}, "@hourly"))
	require.Error(t, s.AddJob(&countingJob{name: "bad"}, "not a spec"))
	require.ElementsMatch(t, []string{"prune"}, s.Jobs())
}

func TestRunNow(t *testing.T) {
	s := NewCronScheduler()
	job := &countingJob{name: "cleanup", err: errors.New("db locked")}
	require.NoError(t, s.AddJob(job, "@daily"))
	require.NoError(t, s.RunNow("cleanup"))
	require.EqualValues(t, 1, job.runs.Load())
	require.Error(t, s.RunNow("missing"))
}

func TestRunNowRecoversPanic(t *testing.T) {
	s := NewCronScheduler()
	job := &countingJob{name: "boom", panic: true}
	require.NoError(t, s.AddJob(job, "@daily"))
	require.NotPanics(t, func() { _ = s.RunNow("boom") })
	require.NotPanics(t, func() { _ = s.RunNow("boom") })
	require.EqualValues(t, 2, job.runs.Load())
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	s := NewCronScheduler()
	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.AddJob(job, "@daily"))

	done := make(chan struct{})
	go func() {
		_ = s.RunNow("slow")
		close(done)
	}()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.RunNow("slow"))
	close(job.block)
	<-done
	require.EqualValues(t, 1, job.runs.Load())
}
