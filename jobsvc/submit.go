package jobsvc

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/medpipe/cxrscan/jobs"
	"github.com/medpipe/cxrscan/service"
	"github.com/medpipe/cxrscan/wscutils"
)

// imageFormField is the multipart form field carrying the upload.
const imageFormField = "image"

// HandleSubmitJob accepts a chest X-ray image as multipart form data and
// returns the job tracking it. 201 for a newly created job, 200 when the
// fingerprint cache matched an earlier submission.
func HandleSubmitJob(c *gin.Context, s *service.Service) {
	file, _, err := c.Request.FormFile(imageFormField)
	if err != nil {
		field := imageFormField
		c.JSON(http.StatusBadRequest, wscutils.NewResponse(wscutils.ErrorStatus, nil,
			[]wscutils.ErrorMessage{wscutils.BuildErrorMessage(wscutils.ErrcodeInvalidRequest, &field)}))
		return
	}
	defer file.Close()

	imageBytes, err := io.ReadAll(file)
	if err != nil || len(imageBytes) == 0 {
		c.JSON(http.StatusBadRequest, wscutils.NewErrorResponse(wscutils.ErrcodeInvalidImage))
		return
	}

	// Sniff the payload; the client-declared content type is not trusted.
	if !strings.HasPrefix(mimetype.Detect(imageBytes).String(), "image/") {
		c.JSON(http.StatusBadRequest, wscutils.NewErrorResponse(wscutils.ErrcodeInvalidImage))
		return
	}

	job, cached, err := s.Submitter.Submit(c.Request.Context(), imageBytes)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrNoModelVersion):
			c.JSON(http.StatusServiceUnavailable, wscutils.NewErrorResponse(wscutils.ErrcodeModelUnavailable))
		default:
			s.Logger.Error(err).LogActivity("Job submission failed", nil)
			c.JSON(http.StatusInternalServerError, wscutils.NewErrorResponse(wscutils.ErrcodeInternal))
		}
		return
	}

	s.Metrics.Record(jobs.MetricJobsSubmitted, 1)
	status := http.StatusCreated
	if cached {
		s.Metrics.Record(jobs.MetricJobsDeduplicated, 1)
		status = http.StatusOK
	}
	c.JSON(status, wscutils.NewSuccessResponse(SubmitResponse{
		JobResponse: toJobResponse(job),
		Cached:      cached,
	}))
}
