package jobs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/remiges-tech/logharbour/logharbour"

	"github.com/medpipe/cxrscan/objstore"
)

// Submitter is the write path of the pipeline plus the read endpoints that
// serve polling clients. It owns no state of its own; everything durable
// lives in the Store and everything ephemeral in the Queue.
type Submitter struct {
	Store  Store
	Queue  *Queue
	Logger *logharbour.Logger

	// Archive, when non-nil, receives a second copy of every accepted image
	// keyed by fingerprint, so payload lifetime is not bound to the Redis
	// TTL. Misses and write failures degrade to the TTL-only behavior.
	Archive       objstore.ObjectStore
	ArchiveBucket string
}

// NewSubmitter wires a Submitter. Logger must not be nil.
func NewSubmitter(store Store, queue *Queue, logger *logharbour.Logger) *Submitter {
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &Submitter{Store: store, Queue: queue, Logger: logger}
}

// Fingerprint returns the hex sha256 content identity of an image.
func Fingerprint(imageBytes []byte) string {
	sum := sha256.Sum256(imageBytes)
	return hex.EncodeToString(sum[:])
}

// Submit accepts an image and returns the job tracking it. When the
// fingerprint cache holds a live entry pointing at an existing job, that
// job is returned with cached=true and nothing is enqueued -- regardless of
// the cached job's status; the caller decides what a FAILED hit means.
//
// Two concurrent submissions of the same fingerprint can both miss the
// cache and both create jobs. That duplication is tolerated: the window is
// thin and result writes are idempotent. No merge is attempted afterwards.
func (s *Submitter) Submit(ctx context.Context, imageBytes []byte) (Job, bool, error) {
	h := Fingerprint(imageBytes)

	cachedID, hit, err := s.Queue.CacheLookup(ctx, h)
	if err != nil {
		return Job{}, false, fmt.Errorf("fingerprint cache lookup: %w", err)
	}
	if hit {
		job, err := s.Store.GetJob(ctx, cachedID)
		if err == nil {
			s.Logger.Info().LogActivity("Duplicate submission served from cache", map[string]any{
				"jobId":  job.ID,
				"sha256": h,
				"status": string(job.Status),
			})
			return job, true, nil
		}
		if !errors.Is(err, ErrJobNotFound) {
			return Job{}, false, err
		}
		// Stale cache entry; fall through and create a fresh job.
	}

	mv, err := s.Store.LatestModelVersion(ctx)
	if err != nil {
		return Job{}, false, err
	}

	job, err := s.Store.CreateJob(ctx, h, mv.ID)
	if err != nil {
		return Job{}, false, fmt.Errorf("create job: %w", err)
	}

	if err := s.Queue.StoreImage(ctx, job.ID, imageBytes); err != nil {
		return Job{}, false, fmt.Errorf("store image for job %d: %w", job.ID, err)
	}
	s.archiveImage(ctx, h, imageBytes)

	if err := s.Queue.Enqueue(ctx, job.ID); err != nil {
		return Job{}, false, fmt.Errorf("enqueue job %d: %w", job.ID, err)
	}
	if err := s.Queue.CacheStore(ctx, h, job.ID); err != nil {
		// The job is already queued; a dead cache entry only costs dedup.
		s.Logger.Warn().LogActivity("Failed to store fingerprint cache entry", map[string]any{
			"jobId": job.ID,
			"error": err.Error(),
		})
	}

	s.Logger.Info().LogActivity("Job submitted", map[string]any{
		"jobId":        job.ID,
		"sha256":       h,
		"modelVersion": mv.Name,
	})
	return job, false, nil
}

func (s *Submitter) archiveImage(ctx context.Context, fingerprint string, imageBytes []byte) {
	if s.Archive == nil || s.ArchiveBucket == "" {
		return
	}
	err := s.Archive.Put(ctx, s.ArchiveBucket, fingerprint, bytes.NewReader(imageBytes),
		int64(len(imageBytes)), "application/octet-stream")
	if err != nil {
		s.Logger.Warn().LogActivity("Failed to archive image payload", map[string]any{
			"sha256": fingerprint,
			"error":  err.Error(),
		})
	}
}

// GetStatus returns the job row for a polling client.
func (s *Submitter) GetStatus(ctx context.Context, jobID int64) (Job, error) {
	return s.Store.GetJob(ctx, jobID)
}

// GetResult returns the result of a COMPLETED job. ErrJobNotFound when the
// job does not exist; ErrResultNotReady when it exists in any non-COMPLETED
// state.
func (s *Submitter) GetResult(ctx context.Context, jobID int64) (Result, error) {
	job, err := s.Store.GetJob(ctx, jobID)
	if err != nil {
		return Result{}, err
	}
	if job.Status != StatusCompleted {
		return Result{}, fmt.Errorf("%w: status is %s", ErrResultNotReady, job.Status)
	}
	return s.Store.GetResult(ctx, jobID)
}

// DLQJobs returns the job rows currently referenced by the dead-letter
// list, for the operator endpoint.
func (s *Submitter) DLQJobs(ctx context.Context) ([]Job, error) {
	ids, err := s.Queue.DLQIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Job{}, nil
	}
	return s.Store.GetJobs(ctx, ids)
}

// Health reports reachability of the durable store and the queue.
func (s *Submitter) Health(ctx context.Context) (dbOK bool, queueOK bool) {
	dbOK = s.Store.Ping(ctx) == nil
	queueOK = s.Queue.Ping(ctx) == nil
	return dbOK, queueOK
}
