package jobs_test

import (
	"context"
	"log"
	"testing"

	"github.com/remiges-tech/logharbour/logharbour"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medpipe/cxrscan/jobs"
	"github.com/medpipe/cxrscan/predictor"
)

func newTestLogger() *logharbour.Logger {
	loggerCtx := &logharbour.LoggerContext{}
	return logharbour.NewLogger(loggerCtx, "test", log.Writer())
}

func newTestSubmitter(t *testing.T) (*jobs.Submitter, *jobs.MemStore, *jobs.Queue) {
	t.Helper()
	store := jobs.NewMemStore()
	queue, _ := newTestQueue(t, nil)
	return jobs.NewSubmitter(store, queue, newTestLogger()), store, queue
}

func seedModel(t *testing.T, store *jobs.MemStore) {
	t.Helper()
	_, err := store.SeedModelVersion(context.Background(), "densenet121-res224-all", "/models/densenet121.pt")
	require.NoError(t, err)
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	image := []byte("fake png bytes")

	t.Run("creates queued job and enqueues it", func(t *testing.T) {
		sub, store, queue := newTestSubmitter(t)
		seedModel(t, store)

		job, cached, err := sub.Submit(ctx, image)
		require.NoError(t, err)
		assert.False(t, cached)
		assert.Equal(t, jobs.StatusQueued, job.Status)
		assert.Equal(t, jobs.Fingerprint(image), job.InputSHA256)

		depth, err := queue.QueueDepth(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), depth)

		_, ok, err := queue.FetchImage(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, ok, "image bytes should be parked for the worker")
	})

	t.Run("duplicate submission is served from cache", func(t *testing.T) {
		sub, store, queue := newTestSubmitter(t)
		seedModel(t, store)

		first, _, err := sub.Submit(ctx, image)
		require.NoError(t, err)

		second, cached, err := sub.Submit(ctx, image)
		require.NoError(t, err)
		assert.True(t, cached)
		assert.Equal(t, first.ID, second.ID)

		depth, err := queue.QueueDepth(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), depth, "duplicate must not enqueue again")
	})

	t.Run("cached hit is returned even for a failed job", func(t *testing.T) {
		sub, store, _ := newTestSubmitter(t)
		seedModel(t, store)

		first, _, err := sub.Submit(ctx, image)
		require.NoError(t, err)
		store.SetStatus(first.ID, jobs.StatusFailed)

		second, cached, err := sub.Submit(ctx, image)
		require.NoError(t, err)
		assert.True(t, cached)
		assert.Equal(t, jobs.StatusFailed, second.Status)
	})

	t.Run("stale cache entry falls through to a new job", func(t *testing.T) {
		sub, store, queue := newTestSubmitter(t)
		seedModel(t, store)

		// Cache points at a job id that has no row.
		require.NoError(t, queue.CacheStore(ctx, jobs.Fingerprint(image), 999))

		job, cached, err := sub.Submit(ctx, image)
		require.NoError(t, err)
		assert.False(t, cached)
		assert.NotEqual(t, int64(999), job.ID)
	})

	t.Run("fails when no model version is registered", func(t *testing.T) {
		sub, _, _ := newTestSubmitter(t)

		_, _, err := sub.Submit(ctx, image)
		assert.ErrorIs(t, err, jobs.ErrNoModelVersion)
	})
}

func TestGetResult(t *testing.T) {
	ctx := context.Background()
	image := []byte("another image")

	sub, store, _ := newTestSubmitter(t)
	seedModel(t, store)

	job, _, err := sub.Submit(ctx, image)
	require.NoError(t, err)

	t.Run("unknown job", func(t *testing.T) {
		_, err := sub.GetResult(ctx, 12345)
		assert.ErrorIs(t, err, jobs.ErrJobNotFound)
	})

	t.Run("not ready while queued", func(t *testing.T) {
		_, err := sub.GetResult(ctx, job.ID)
		assert.ErrorIs(t, err, jobs.ErrResultNotReady)
	})

	t.Run("returns result once completed", func(t *testing.T) {
		scores := predictor.Scores{"Pneumonia": 0.91, "Edema": 0.12}
		require.NoError(t, store.CompleteJob(ctx, job.ID, scores, "Pneumonia"))

		res, err := sub.GetResult(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "Pneumonia", res.TopLabel)
		assert.Equal(t, scores, res.Output)
	})
}

func TestDLQJobs(t *testing.T) {
	ctx := context.Background()
	sub, store, queue := newTestSubmitter(t)
	seedModel(t, store)

	job, _, err := sub.Submit(ctx, []byte("doomed image"))
	require.NoError(t, err)
	require.NoError(t, store.FailJob(ctx, job.ID))
	require.NoError(t, queue.PushDLQ(ctx, job.ID))

	dead, err := sub.DLQJobs(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, job.ID, dead[0].ID)
	assert.Equal(t, jobs.StatusFailed, dead[0].Status)
}
