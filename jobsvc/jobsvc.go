// Package jobsvc exposes the inference pipeline over HTTP: job submission,
// status and result polling, and the operator endpoints.
package jobsvc

import (
	"time"

	"github.com/medpipe/cxrscan/jobs"
	"github.com/medpipe/cxrscan/service"
)

// RegisterRoutes attaches every endpoint of the job service to s.
func RegisterRoutes(s *service.Service) {
	v1 := s.CreateGroup("/v1")

	jobsGroup := v1.CreateSubGroup("/jobs")
	jobsGroup.RegisterRoute("POST", "", HandleSubmitJob)
	jobsGroup.RegisterRoute("GET", "/:id", HandleGetJob)
	jobsGroup.RegisterRoute("GET", "/:id/result", HandleGetResult)

	ops := v1.CreateSubGroup("/ops")
	ops.RegisterRoute("GET", "/metrics", HandleOpsMetrics)
	ops.RegisterRoute("GET", "/dlq", HandleOpsDLQ)
	ops.RegisterRoute("GET", "/health", HandleOpsHealth)
}

// JobResponse is the wire form of a job row.
type JobResponse struct {
	JobID     int64     `json:"job_id"`
	Status    string    `json:"status"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toJobResponse(j jobs.Job) JobResponse {
	return JobResponse{
		JobID:     j.ID,
		Status:    string(j.Status),
		SHA256:    j.InputSHA256,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// SubmitResponse is the wire form of a submission outcome. Cached is true
// when an earlier job with the same image was returned instead of a new one.
type SubmitResponse struct {
	JobResponse
	Cached bool `json:"cached"`
}

// ResultResponse is the wire form of a completed job's result.
type ResultResponse struct {
	JobID     int64              `json:"job_id"`
	TopLabel  string             `json:"top_label"`
	Scores    map[string]float64 `json:"scores"`
	CreatedAt time.Time          `json:"created_at"`
}
