package jobsvc

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medpipe/cxrscan/service"
	"github.com/medpipe/cxrscan/wscutils"
)

// HandleOpsMetrics serves the rolling-window operational snapshot.
func HandleOpsMetrics(c *gin.Context, s *service.Service) {
	snap, err := s.MetricsView.Snapshot(c.Request.Context())
	if err != nil {
		s.Logger.Error(err).LogActivity("Metrics snapshot failed", nil)
		c.JSON(http.StatusInternalServerError, wscutils.NewErrorResponse(wscutils.ErrcodeInternal))
		return
	}
	wscutils.SendSuccessResponse(c, wscutils.NewSuccessResponse(snap))
}

// HandleOpsDLQ lists the jobs currently in the dead-letter queue.
func HandleOpsDLQ(c *gin.Context, s *service.Service) {
	dead, err := s.Submitter.DLQJobs(c.Request.Context())
	if err != nil {
		s.Logger.Error(err).LogActivity("DLQ listing failed", nil)
		c.JSON(http.StatusInternalServerError, wscutils.NewErrorResponse(wscutils.ErrcodeInternal))
		return
	}
	out := make([]JobResponse, 0, len(dead))
	for _, j := range dead {
		out = append(out, toJobResponse(j))
	}
	wscutils.SendSuccessResponse(c, wscutils.NewSuccessResponse(gin.H{
		"count": len(out),
		"jobs":  out,
	}))
}

// healthReport is the body of the health endpoint.
type healthReport struct {
	Database string `json:"database"`
	Queue    string `json:"queue"`
}

func healthWord(ok bool) string {
	if ok {
		return "ok"
	}
	return "unreachable"
}

// HandleOpsHealth reports reachability of the durable store and the queue.
// Any failing dependency makes the whole endpoint 503.
func HandleOpsHealth(c *gin.Context, s *service.Service) {
	dbOK, queueOK := s.Submitter.Health(c.Request.Context())

	report := healthReport{
		Database: healthWord(dbOK),
		Queue:    healthWord(queueOK),
	}
	if !dbOK || !queueOK {
		c.JSON(http.StatusServiceUnavailable, wscutils.NewResponse(wscutils.ErrorStatus, report, nil))
		return
	}
	wscutils.SendSuccessResponse(c, wscutils.NewSuccessResponse(report))
}
