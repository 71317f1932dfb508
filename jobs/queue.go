package jobs

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis key layout. The queue and DLQ are plain lists; everything else is a
// TTL-bound string key. The image TTL deliberately equals the stuck
// IN_PROGRESS threshold: a recovered job whose payload has expired flows
// through the image_missing retry path into the DLQ instead of looping.
const (
	QueueKey = "queue:inference"
	DLQKey   = "dlq:failed_jobs"
)

// FingerprintCacheKey returns the dedup cache key for a sha256 hex digest.
func FingerprintCacheKey(sha256hex string) string {
	return "cache:sha256:" + sha256hex
}

// ImageKey returns the key under which a job's raw image bytes are parked
// until a worker picks them up.
func ImageKey(jobID int64) string {
	return "image:" + strconv.FormatInt(jobID, 10)
}

// RetryKey returns the key of a job's retry counter.
func RetryKey(jobID int64) string {
	return "retry:" + strconv.FormatInt(jobID, 10)
}

// QueueConfig carries the TTLs and batch-collection knobs the queue client
// needs. Zero values are replaced with the documented defaults.
type QueueConfig struct {
	ImageTTL     time.Duration // lifetime of parked image bytes (default 600s)
	RetryTTL     time.Duration // lifetime of retry counters (default 3600s)
	CacheTTL     time.Duration // lifetime of the fingerprint cache (default 600s)
	BRPopTimeout time.Duration // blocking wait for the first id (default 5s)
	BatchWindow  time.Duration // micro-batch collection window (default 30ms)
	MaxBatchSize int           // micro-batch size cap (default 8)
}

func (c *QueueConfig) applyDefaults() {
	if c.ImageTTL == 0 {
		c.ImageTTL = 600 * time.Second
	}
	if c.RetryTTL == 0 {
		c.RetryTTL = 3600 * time.Second
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 600 * time.Second
	}
	if c.BRPopTimeout == 0 {
		c.BRPopTimeout = 5 * time.Second
	}
	if c.BatchWindow == 0 {
		c.BatchWindow = 30 * time.Millisecond
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 8
	}
}

// Queue is the client for the ephemeral blob-and-queue store. It is the only
// coordination point between the submission service and the worker pool.
// The command surface is deliberately small: LPUSH, BRPOP, RPOP, GET/SET
// with TTL, INCR, DEL, LRANGE, LLEN.
type Queue struct {
	rdb redis.Cmdable
	cfg QueueConfig
}

// NewQueue wraps a Redis client. cfg may be nil for all-default behavior.
func NewQueue(rdb redis.Cmdable, cfg *QueueConfig) *Queue {
	if cfg == nil {
		cfg = &QueueConfig{}
	}
	c := *cfg
	c.applyDefaults()
	return &Queue{rdb: rdb, cfg: c}
}

// Enqueue pushes a job id onto the pending queue. Workers BRPOP from the
// other end, so the list behaves as a FIFO queue.
func (q *Queue) Enqueue(ctx context.Context, jobID int64) error {
	return q.rdb.LPush(ctx, QueueKey, strconv.FormatInt(jobID, 10)).Err()
}

// CollectBatch assembles a micro-batch. It blocks on BRPOP for the first id
// (up to BRPopTimeout), then drains additional ids with non-blocking RPOPs
// until the batch window elapses, the queue empties, or MaxBatchSize is
// reached. A timeout returns an empty batch and no error so the caller can
// re-check shutdown and loop.
func (q *Queue) CollectBatch(ctx context.Context) ([]int64, error) {
	res, err := q.rdb.BRPop(ctx, q.cfg.BRPopTimeout, QueueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP returns [key, value].
	first, err := strconv.ParseInt(res[1], 10, 64)
	if err != nil {
		return nil, err
	}
	ids := []int64{first}

	deadline := time.Now().Add(q.cfg.BatchWindow)
	for time.Now().Before(deadline) && len(ids) < q.cfg.MaxBatchSize {
		val, err := q.rdb.RPop(ctx, QueueKey).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return ids, err
		}
		id, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// QueueDepth returns the number of pending job ids.
func (q *Queue) QueueDepth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, QueueKey).Result()
}

// PushDLQ appends a job id to the dead-letter list.
func (q *Queue) PushDLQ(ctx context.Context, jobID int64) error {
	return q.rdb.LPush(ctx, DLQKey, strconv.FormatInt(jobID, 10)).Err()
}

// DLQDepth returns the dead-letter list length.
func (q *Queue) DLQDepth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, DLQKey).Result()
}

// DLQIDs returns every job id currently in the dead-letter list.
func (q *Queue) DLQIDs(ctx context.Context) ([]int64, error) {
	vals, err := q.rdb.LRange(ctx, DLQKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(vals))
	for _, v := range vals {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CacheLookup probes the fingerprint cache. The second return is false on a
// miss (including an expired entry).
func (q *Queue) CacheLookup(ctx context.Context, sha256hex string) (int64, bool, error) {
	val, err := q.rdb.Get(ctx, FingerprintCacheKey(sha256hex)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return id, true, nil
}

// CacheStore records fingerprint -> job id with the cache TTL.
func (q *Queue) CacheStore(ctx context.Context, sha256hex string, jobID int64) error {
	return q.rdb.Set(ctx, FingerprintCacheKey(sha256hex), strconv.FormatInt(jobID, 10), q.cfg.CacheTTL).Err()
}

// StoreImage parks the raw image bytes for a job with the image TTL.
func (q *Queue) StoreImage(ctx context.Context, jobID int64, image []byte) error {
	return q.rdb.Set(ctx, ImageKey(jobID), image, q.cfg.ImageTTL).Err()
}

// FetchImage retrieves a job's parked image bytes. The second return is
// false when the key expired or never existed.
func (q *Queue) FetchImage(ctx context.Context, jobID int64) ([]byte, bool, error) {
	val, err := q.rdb.Get(ctx, ImageKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// BumpRetry increments a job's retry counter and refreshes its TTL,
// returning the post-increment value. The counter is strictly monotonic
// within its TTL lifetime.
func (q *Queue) BumpRetry(ctx context.Context, jobID int64) (int64, error) {
	n, err := q.rdb.Incr(ctx, RetryKey(jobID)).Result()
	if err != nil {
		return 0, err
	}
	if err := q.rdb.Expire(ctx, RetryKey(jobID), q.cfg.RetryTTL).Err(); err != nil {
		return n, err
	}
	return n, nil
}

// RetryCount reads a job's retry counter without modifying it. Returns 0
// when no counter exists.
func (q *Queue) RetryCount(ctx context.Context, jobID int64) (int64, error) {
	val, err := q.rdb.Get(ctx, RetryKey(jobID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

// ClearRetry deletes a job's retry counter, done when the job reaches FAILED.
func (q *Queue) ClearRetry(ctx context.Context, jobID int64) error {
	return q.rdb.Del(ctx, RetryKey(jobID)).Err()
}

// Ping checks queue reachability for the health endpoint.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}
