package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/medpipe/cxrscan/predictor"
)

// MemStore is an in-memory Store used by unit tests. It applies the same
// transition guards as the Postgres implementation.
type MemStore struct {
	mu       sync.Mutex
	nextID   int64
	jobs     map[int64]*Job
	results  map[int64]Result
	versions []ModelVersion
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		nextID:  1,
		jobs:    make(map[int64]*Job),
		results: make(map[int64]Result),
	}
}

func (m *MemStore) CreateJob(ctx context.Context, inputSHA256 string, modelVersionID int64) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	job := Job{
		ID:             m.nextID,
		Status:         StatusQueued,
		InputSHA256:    inputSHA256,
		ModelVersionID: modelVersionID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.nextID++
	m.jobs[job.ID] = &job
	return job, nil
}

func (m *MemStore) GetJob(ctx context.Context, id int64) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

func (m *MemStore) GetJobs(ctx context.Context, ids []int64) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := m.jobs[id]; ok {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *MemStore) MarkInProgress(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, id := range ids {
		job, ok := m.jobs[id]
		if !ok || job.Status.Terminal() {
			continue
		}
		job.Status = StatusInProgress
		job.UpdatedAt = now
	}
	return nil
}

func (m *MemStore) CompleteJob(ctx context.Context, id int64, output predictor.Scores, topLabel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	now := time.Now()
	job.Status = StatusCompleted
	job.UpdatedAt = now
	if _, exists := m.results[id]; !exists {
		m.results[id] = Result{JobID: id, Output: output, TopLabel: topLabel, CreatedAt: now}
	}
	return nil
}

func (m *MemStore) FailJob(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Status = StatusFailed
	job.UpdatedAt = time.Now()
	return nil
}

func (m *MemStore) GetResult(ctx context.Context, jobID int64) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.results[jobID]
	if !ok {
		return Result{}, ErrResultNotReady
	}
	return res, nil
}

func (m *MemStore) StuckInProgress(ctx context.Context, cutoff time.Time) ([]Job, error) {
	return m.stuck(StatusInProgress, cutoff), nil
}

func (m *MemStore) StuckQueued(ctx context.Context, cutoff time.Time) ([]Job, error) {
	return m.stuck(StatusQueued, cutoff), nil
}

func (m *MemStore) stuck(status JobStatus, cutoff time.Time) []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, job := range m.jobs {
		if job.Status == status && job.UpdatedAt.Before(cutoff) {
			out = append(out, *job)
		}
	}
	return out
}

func (m *MemStore) RequeueStuck(ctx context.Context, id int64, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, nil
	}
	if job.Status != StatusInProgress || !job.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	job.Status = StatusQueued
	job.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemStore) LatestModelVersion(ctx context.Context) (ModelVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.versions) == 0 {
		return ModelVersion{}, ErrNoModelVersion
	}
	return m.versions[len(m.versions)-1], nil
}

func (m *MemStore) SeedModelVersion(ctx context.Context, name, weightsPath string) (ModelVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mv := range m.versions {
		if mv.Name == name && mv.WeightsPath == weightsPath {
			return mv, nil
		}
	}
	mv := ModelVersion{
		ID:          int64(len(m.versions) + 1),
		Name:        name,
		WeightsPath: weightsPath,
		CreatedAt:   time.Now(),
	}
	m.versions = append(m.versions, mv)
	return mv, nil
}

func (m *MemStore) MetricsWindow(ctx context.Context, since time.Time) (WindowStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats WindowStats
	for id, job := range m.jobs {
		if job.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		switch job.Status {
		case StatusCompleted:
			stats.Completed++
			if res, ok := m.results[id]; ok {
				stats.LatencySamples = append(stats.LatencySamples, res.CreatedAt.Sub(job.CreatedAt))
			}
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (m *MemStore) Ping(ctx context.Context) error {
	return nil
}

// SetTimes overrides a job's timestamps, used by tests that exercise the
// staleness sweeps.
func (m *MemStore) SetTimes(id int64, createdAt, updatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.CreatedAt = createdAt
		job.UpdatedAt = updatedAt
	}
}

// SetStatus overrides a job's status directly, bypassing the guards.
func (m *MemStore) SetStatus(id int64, status JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.Status = status
	}
}
