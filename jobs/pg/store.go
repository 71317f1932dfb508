// Package pg implements the durable job store on Postgres via pgx. All
// status transitions carry their guard in the WHERE clause, so concurrent
// workers and the sweeper can race without ever resurrecting a terminal job.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medpipe/cxrscan/jobs"
	"github.com/medpipe/cxrscan/predictor"
)

// Store implements jobs.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an initialized pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const jobColumns = "id, status, input_sha256, model_version_id, created_at, updated_at"

func scanJob(row pgx.Row) (jobs.Job, error) {
	var j jobs.Job
	err := row.Scan(&j.ID, &j.Status, &j.InputSHA256, &j.ModelVersionID, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	if err != nil {
		return jobs.Job{}, fmt.Errorf("scan job row: %w", err)
	}
	return j, nil
}

func (s *Store) CreateJob(ctx context.Context, inputSHA256 string, modelVersionID int64) (jobs.Job, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO inference_job (status, input_sha256, model_version_id)
		 VALUES ('QUEUED', $1, $2)
		 RETURNING `+jobColumns,
		inputSHA256, modelVersionID)
	return scanJob(row)
}

func (s *Store) GetJob(ctx context.Context, id int64) (jobs.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM inference_job WHERE id = $1`, id)
	return scanJob(row)
}

func (s *Store) GetJobs(ctx context.Context, ids []int64) ([]jobs.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM inference_job WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()

	out := make([]jobs.Job, 0, len(ids))
	for rows.Next() {
		var j jobs.Job
		if err := rows.Scan(&j.ID, &j.Status, &j.InputSHA256, &j.ModelVersionID, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) MarkInProgress(ctx context.Context, ids []int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE inference_job
		 SET status = 'IN_PROGRESS', updated_at = now()
		 WHERE id = ANY($1) AND status NOT IN ('COMPLETED', 'FAILED')`, ids)
	if err != nil {
		return fmt.Errorf("mark batch in progress: %w", err)
	}
	return nil
}

func (s *Store) CompleteJob(ctx context.Context, id int64, output predictor.Scores, topLabel string) error {
	payload, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal result output: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE inference_job
		 SET status = 'COMPLETED', updated_at = now()
		 WHERE id = $1 AND status IN ('QUEUED', 'IN_PROGRESS')`, id)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Already terminal; a late duplicate delivery writes nothing.
		return nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO inference_result (job_id, output, top_label)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (job_id) DO NOTHING`, id, payload, topLabel)
	if err != nil {
		return fmt.Errorf("insert result for job %d: %w", id, err)
	}
	return tx.Commit(ctx)
}

func (s *Store) FailJob(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE inference_job
		 SET status = 'FAILED', updated_at = now()
		 WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED')`, id)
	if err != nil {
		return fmt.Errorf("fail job %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Either terminal already or nonexistent; only the latter is an error.
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, jobID int64) (jobs.Result, error) {
	var payload []byte
	res := jobs.Result{JobID: jobID}
	err := s.pool.QueryRow(ctx,
		`SELECT output, top_label, created_at FROM inference_result WHERE job_id = $1`,
		jobID).Scan(&payload, &res.TopLabel, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.Result{}, jobs.ErrResultNotReady
	}
	if err != nil {
		return jobs.Result{}, fmt.Errorf("select result for job %d: %w", jobID, err)
	}
	if err := json.Unmarshal(payload, &res.Output); err != nil {
		return jobs.Result{}, fmt.Errorf("unmarshal result output for job %d: %w", jobID, err)
	}
	return res, nil
}

func (s *Store) StuckInProgress(ctx context.Context, cutoff time.Time) ([]jobs.Job, error) {
	return s.selectStuck(ctx, "IN_PROGRESS", cutoff)
}

func (s *Store) StuckQueued(ctx context.Context, cutoff time.Time) ([]jobs.Job, error) {
	return s.selectStuck(ctx, "QUEUED", cutoff)
}

func (s *Store) selectStuck(ctx context.Context, status string, cutoff time.Time) ([]jobs.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM inference_job
		 WHERE status = $1 AND updated_at < $2 ORDER BY id`, status, cutoff)
	if err != nil {
		return nil, fmt.Errorf("select stuck %s jobs: %w", status, err)
	}
	defer rows.Close()

	var out []jobs.Job
	for rows.Next() {
		var j jobs.Job
		if err := rows.Scan(&j.ID, &j.Status, &j.InputSHA256, &j.ModelVersionID, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) RequeueStuck(ctx context.Context, id int64, cutoff time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE inference_job
		 SET status = 'QUEUED', updated_at = now()
		 WHERE id = $1 AND status = 'IN_PROGRESS' AND updated_at < $2`, id, cutoff)
	if err != nil {
		return false, fmt.Errorf("requeue stuck job %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) LatestModelVersion(ctx context.Context) (jobs.ModelVersion, error) {
	var mv jobs.ModelVersion
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, weights_path, created_at
		 FROM model_version ORDER BY id DESC LIMIT 1`).
		Scan(&mv.ID, &mv.Name, &mv.WeightsPath, &mv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.ModelVersion{}, jobs.ErrNoModelVersion
	}
	if err != nil {
		return jobs.ModelVersion{}, fmt.Errorf("select latest model version: %w", err)
	}
	return mv, nil
}

func (s *Store) SeedModelVersion(ctx context.Context, name, weightsPath string) (jobs.ModelVersion, error) {
	var mv jobs.ModelVersion
	err := s.pool.QueryRow(ctx,
		`INSERT INTO model_version (name, weights_path)
		 VALUES ($1, $2)
		 ON CONFLICT (name, weights_path) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, name, weights_path, created_at`,
		name, weightsPath).
		Scan(&mv.ID, &mv.Name, &mv.WeightsPath, &mv.CreatedAt)
	if err != nil {
		return jobs.ModelVersion{}, fmt.Errorf("seed model version %q: %w", name, err)
	}
	return mv, nil
}

func (s *Store) MetricsWindow(ctx context.Context, since time.Time) (jobs.WindowStats, error) {
	var stats jobs.WindowStats
	err := s.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE status = 'COMPLETED'),
		        count(*) FILTER (WHERE status = 'FAILED')
		 FROM inference_job WHERE created_at >= $1`, since).
		Scan(&stats.Total, &stats.Completed, &stats.Failed)
	if err != nil {
		return jobs.WindowStats{}, fmt.Errorf("count window jobs: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT EXTRACT(EPOCH FROM (r.created_at - j.created_at))
		 FROM inference_job j
		 JOIN inference_result r ON r.job_id = j.id
		 WHERE j.created_at >= $1`, since)
	if err != nil {
		return jobs.WindowStats{}, fmt.Errorf("select window latencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seconds float64
		if err := rows.Scan(&seconds); err != nil {
			return jobs.WindowStats{}, fmt.Errorf("scan latency sample: %w", err)
		}
		stats.LatencySamples = append(stats.LatencySamples,
			time.Duration(seconds*float64(time.Second)))
	}
	return stats, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
