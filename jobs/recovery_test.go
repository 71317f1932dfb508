package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medpipe/cxrscan/jobs"
)

func newSweeperFixture(t *testing.T) (*jobs.Sweeper, *jobs.MemStore, *jobs.Queue) {
	t.Helper()
	store := jobs.NewMemStore()
	queue, _ := newTestQueue(t, nil)
	seedModel(t, store)
	sweeper := jobs.NewSweeper(store, queue, newTestLogger(), nil, &jobs.SweeperConfig{
		StuckInProgress: 600 * time.Second,
		StuckQueued:     300 * time.Second,
		MaxRetries:      3,
	})
	return sweeper, store, queue
}

func makeJob(t *testing.T, store *jobs.MemStore, status jobs.JobStatus, age time.Duration) jobs.Job {
	t.Helper()
	job, err := store.CreateJob(context.Background(), "deadbeef", 1)
	require.NoError(t, err)
	store.SetStatus(job.ID, status)
	stale := time.Now().Add(-age)
	store.SetTimes(job.ID, stale, stale)
	return job
}

func TestSweeperInProgress(t *testing.T) {
	ctx := context.Background()

	t.Run("requeues an orphaned job", func(t *testing.T) {
		sweeper, store, queue := newSweeperFixture(t)
		job := makeJob(t, store, jobs.StatusInProgress, 700*time.Second)

		sweeper.RunOnce(ctx)

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusQueued, got.Status)

		depth, err := queue.QueueDepth(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), depth)

		n, err := queue.RetryCount(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "recovery spends a retry attempt")
	})

	t.Run("leaves fresh IN_PROGRESS jobs alone", func(t *testing.T) {
		sweeper, store, queue := newSweeperFixture(t)
		job := makeJob(t, store, jobs.StatusInProgress, 10*time.Second)

		sweeper.RunOnce(ctx)

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusInProgress, got.Status)

		depth, err := queue.QueueDepth(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), depth)
	})

	t.Run("dead-letters a repeat offender", func(t *testing.T) {
		sweeper, store, queue := newSweeperFixture(t)
		job := makeJob(t, store, jobs.StatusInProgress, 700*time.Second)

		for i := 0; i < 3; i++ {
			_, err := queue.BumpRetry(ctx, job.ID)
			require.NoError(t, err)
		}

		sweeper.RunOnce(ctx)

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusFailed, got.Status)

		dlq, err := queue.DLQIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{job.ID}, dlq)

		n, err := queue.RetryCount(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestSweeperQueued(t *testing.T) {
	ctx := context.Background()

	t.Run("re-enqueues a stale QUEUED job without a retry bump", func(t *testing.T) {
		sweeper, store, queue := newSweeperFixture(t)
		job := makeJob(t, store, jobs.StatusQueued, 400*time.Second)

		sweeper.RunOnce(ctx)

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusQueued, got.Status)

		depth, err := queue.QueueDepth(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), depth)

		n, err := queue.RetryCount(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n, "losing a queue entry is not the job's fault")
	})

	t.Run("leaves fresh QUEUED jobs alone", func(t *testing.T) {
		sweeper, store, queue := newSweeperFixture(t)
		makeJob(t, store, jobs.StatusQueued, 10*time.Second)

		sweeper.RunOnce(ctx)

		depth, err := queue.QueueDepth(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), depth)
	})
}
