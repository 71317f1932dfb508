package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/medpipe/cxrscan/predictor"
)

// JobStatus is the durable state of an inference job. The only legal
// transitions are QUEUED -> IN_PROGRESS -> COMPLETED, the retry path
// IN_PROGRESS -> QUEUED, and IN_PROGRESS -> FAILED once retries are
// exhausted. COMPLETED and FAILED are terminal.
type JobStatus string

const (
	StatusQueued     JobStatus = "QUEUED"
	StatusInProgress JobStatus = "IN_PROGRESS"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one inference request. The job row in the database is the single
// source of truth for state; the Redis queue only carries job ids to workers.
type Job struct {
	ID             int64     `json:"id"`
	Status         JobStatus `json:"status"`
	InputSHA256    string    `json:"input_sha256"`
	ModelVersionID int64     `json:"model_version_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Result is the terminal output of a completed job. One row per job,
// written at most once, never updated.
type Result struct {
	JobID     int64            `json:"job_id"`
	Output    predictor.Scores `json:"output"`
	TopLabel  string           `json:"top_label"`
	CreatedAt time.Time        `json:"created_at"`
}

// ModelVersion is a catalog entry for a classifier weights set. Seeded once
// at worker bootstrap and referenced by every job; effectively immutable.
type ModelVersion struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	WeightsPath string    `json:"weights_path"`
	CreatedAt   time.Time `json:"created_at"`
}

// FailReason classifies why a job failed inside a worker cycle. It decides
// nothing by itself; every reason goes through the same retry path.
type FailReason string

const (
	ReasonImageMissing     FailReason = "image_missing"
	ReasonPreprocessFailed FailReason = "preprocess_failed"
	ReasonInferenceTimeout FailReason = "inference_timeout"
	ReasonInferenceError   FailReason = "inference_error"
)

// Sentinel errors surfaced by Store and Submitter.
var (
	ErrJobNotFound    = errors.New("job not found")
	ErrResultNotReady = errors.New("job is not completed yet")
	ErrNoModelVersion = errors.New("no model version registered")
)

// WindowStats is the raw material for the operational metrics view:
// counts plus the raw submit-to-persist latency samples for jobs created
// inside the window. Percentiles are computed from samples, not
// pre-aggregates.
type WindowStats struct {
	Total          int
	Completed      int
	Failed         int
	LatencySamples []time.Duration
}

// Store is the durable job store. Implemented by jobs/pg on Postgres and by
// MemStore for tests. All state transitions go through these methods so the
// WHERE-clause guards live in one place.
type Store interface {
	CreateJob(ctx context.Context, inputSHA256 string, modelVersionID int64) (Job, error)
	GetJob(ctx context.Context, id int64) (Job, error)
	GetJobs(ctx context.Context, ids []int64) ([]Job, error)

	// MarkInProgress promotes the whole batch with a single statement.
	// It is idempotent: rows already IN_PROGRESS are touched again, which
	// only advances updated_at.
	MarkInProgress(ctx context.Context, ids []int64) error

	// CompleteJob writes the Result row and flips the job to COMPLETED in
	// one transaction. Jobs already in a terminal state are left alone so a
	// late duplicate delivery can never resurrect a FAILED job or produce a
	// second result.
	CompleteJob(ctx context.Context, id int64, output predictor.Scores, topLabel string) error

	// FailJob flips a non-terminal job to FAILED.
	FailJob(ctx context.Context, id int64) error

	GetResult(ctx context.Context, jobID int64) (Result, error)

	// StuckInProgress returns jobs sitting in IN_PROGRESS since before cutoff.
	StuckInProgress(ctx context.Context, cutoff time.Time) ([]Job, error)
	// StuckQueued returns jobs sitting in QUEUED since before cutoff.
	StuckQueued(ctx context.Context, cutoff time.Time) ([]Job, error)
	// RequeueStuck resets one stuck job back to QUEUED. The status and
	// cutoff guards are part of the same UPDATE so a job a worker picked
	// up in the meantime is not clobbered. Returns true if the row moved.
	RequeueStuck(ctx context.Context, id int64, cutoff time.Time) (bool, error)

	LatestModelVersion(ctx context.Context) (ModelVersion, error)
	SeedModelVersion(ctx context.Context, name, weightsPath string) (ModelVersion, error)

	MetricsWindow(ctx context.Context, since time.Time) (WindowStats, error)
	Ping(ctx context.Context) error
}
