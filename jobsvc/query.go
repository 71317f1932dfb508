package jobsvc

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/medpipe/cxrscan/jobs"
	"github.com/medpipe/cxrscan/service"
	"github.com/medpipe/cxrscan/wscutils"
)

func jobIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, wscutils.NewErrorResponse(wscutils.ErrcodeInvalidRequest))
		return 0, false
	}
	return id, true
}

// HandleGetJob returns the current state of a job for polling clients.
func HandleGetJob(c *gin.Context, s *service.Service) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}

	job, err := s.Submitter.GetStatus(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, wscutils.NewErrorResponse(wscutils.ErrcodeNotFound))
			return
		}
		s.Logger.Error(err).LogActivity("Job lookup failed", map[string]any{"jobId": id})
		c.JSON(http.StatusInternalServerError, wscutils.NewErrorResponse(wscutils.ErrcodeInternal))
		return
	}
	wscutils.SendSuccessResponse(c, wscutils.NewSuccessResponse(toJobResponse(job)))
}

// HandleGetResult returns the result of a COMPLETED job. A job that exists
// but has not completed yet yields 409 so clients can keep polling.
func HandleGetResult(c *gin.Context, s *service.Service) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}

	result, err := s.Submitter.GetResult(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			c.JSON(http.StatusNotFound, wscutils.NewErrorResponse(wscutils.ErrcodeNotFound))
		case errors.Is(err, jobs.ErrResultNotReady):
			c.JSON(http.StatusConflict, wscutils.NewErrorResponse(wscutils.ErrcodeNotReady))
		default:
			s.Logger.Error(err).LogActivity("Result lookup failed", map[string]any{"jobId": id})
			c.JSON(http.StatusInternalServerError, wscutils.NewErrorResponse(wscutils.ErrcodeInternal))
		}
		return
	}
	wscutils.SendSuccessResponse(c, wscutils.NewSuccessResponse(ResultResponse{
		JobID:     result.JobID,
		TopLabel:  result.TopLabel,
		Scores:    result.Output,
		CreatedAt: result.CreatedAt,
	}))
}
