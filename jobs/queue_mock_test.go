package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medpipe/cxrscan/jobs"
)

func TestQueueRedisFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("enqueue surfaces redis error", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		q := jobs.NewQueue(db, nil)

		mock.ExpectLPush(jobs.QueueKey, "7").SetErr(errors.New("connection refused"))

		err := q.Enqueue(ctx, 7)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cache lookup surfaces redis error", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		q := jobs.NewQueue(db, nil)

		mock.ExpectGet(jobs.FingerprintCacheKey("ff00")).SetErr(errors.New("connection refused"))

		_, _, err := q.CacheLookup(ctx, "ff00")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("bump retry issues INCR then EXPIRE", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		q := jobs.NewQueue(db, nil)

		mock.ExpectIncr(jobs.RetryKey(3)).SetVal(1)
		mock.ExpectExpire(jobs.RetryKey(3), 3600*time.Second).SetVal(true)

		n, err := q.BumpRetry(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
