package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medpipe/cxrscan/jobs"
)

func newTestQueue(t *testing.T, cfg *jobs.QueueConfig) (*jobs.Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { redisClient.Close() })

	return jobs.NewQueue(redisClient, cfg), mr
}

func TestCollectBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("drains up to max batch size in FIFO order", func(t *testing.T) {
		q, _ := newTestQueue(t, &jobs.QueueConfig{
			BRPopTimeout: time.Second,
			BatchWindow:  50 * time.Millisecond,
			MaxBatchSize: 3,
		})

		for id := int64(1); id <= 5; id++ {
			require.NoError(t, q.Enqueue(ctx, id))
		}

		ids, err := q.CollectBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, ids)

		depth, err := q.QueueDepth(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), depth)
	})

	t.Run("returns partial batch when queue empties", func(t *testing.T) {
		q, _ := newTestQueue(t, &jobs.QueueConfig{
			BRPopTimeout: time.Second,
			BatchWindow:  50 * time.Millisecond,
			MaxBatchSize: 8,
		})

		require.NoError(t, q.Enqueue(ctx, 7))
		require.NoError(t, q.Enqueue(ctx, 8))

		ids, err := q.CollectBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{7, 8}, ids)
	})

	t.Run("empty queue times out without error", func(t *testing.T) {
		q, _ := newTestQueue(t, &jobs.QueueConfig{
			BRPopTimeout: 100 * time.Millisecond,
		})

		ids, err := q.CollectBatch(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestRetryCounter(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t, &jobs.QueueConfig{RetryTTL: 3600 * time.Second})

	t.Run("increments monotonically", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			got, err := q.BumpRetry(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}

		n, err := q.RetryCount(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("sets TTL on the counter", func(t *testing.T) {
		assert.Greater(t, mr.TTL(jobs.RetryKey(42)), time.Duration(0))
	})

	t.Run("clear removes the counter", func(t *testing.T) {
		require.NoError(t, q.ClearRetry(ctx, 42))
		n, err := q.RetryCount(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestFingerprintCache(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t, nil)
	const h = "aabbccdd"

	t.Run("miss before store", func(t *testing.T) {
		_, hit, err := q.CacheLookup(ctx, h)
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("hit after store", func(t *testing.T) {
		require.NoError(t, q.CacheStore(ctx, h, 99))
		id, hit, err := q.CacheLookup(ctx, h)
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, int64(99), id)
	})

	t.Run("miss after TTL expiry", func(t *testing.T) {
		mr.FastForward(601 * time.Second)
		_, hit, err := q.CacheLookup(ctx, h)
		require.NoError(t, err)
		assert.False(t, hit)
	})
}

func TestImageBlob(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t, nil)
	payload := []byte{0x89, 'P', 'N', 'G', 0x00, 0x01}

	t.Run("round trips bytes", func(t *testing.T) {
		require.NoError(t, q.StoreImage(ctx, 5, payload))
		got, ok, err := q.FetchImage(ctx, 5)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, payload, got)
	})

	t.Run("miss after TTL expiry", func(t *testing.T) {
		mr.FastForward(601 * time.Second)
		_, ok, err := q.FetchImage(ctx, 5)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestDLQ(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, nil)

	require.NoError(t, q.PushDLQ(ctx, 11))
	require.NoError(t, q.PushDLQ(ctx, 12))

	depth, err := q.DLQDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	ids, err := q.DLQIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{11, 12}, ids)
}
