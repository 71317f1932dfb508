package jobsvc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/remiges-tech/logharbour/logharbour"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medpipe/cxrscan/jobs"
	"github.com/medpipe/cxrscan/jobsvc"
	"github.com/medpipe/cxrscan/predictor"
	"github.com/medpipe/cxrscan/service"
	"github.com/medpipe/cxrscan/wscutils"
)

type fixture struct {
	router *gin.Engine
	store  *jobs.MemStore
	queue  *jobs.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	store := jobs.NewMemStore()
	queue := jobs.NewQueue(redisClient, nil)

	loggerCtx := &logharbour.LoggerContext{}
	logger := logharbour.NewLogger(loggerCtx, "test", log.Writer())

	_, err = store.SeedModelVersion(context.Background(), "densenet121-res224-all", "/models/densenet121.pt")
	require.NoError(t, err)

	r := gin.New()
	s := service.NewService(r).
		WithLogger(logger).
		WithSubmitter(jobs.NewSubmitter(store, queue, logger)).
		WithMetricsView(jobs.NewMetricsView(store, queue)).
		WithMetrics(jobs.NopMetrics())
	jobsvc.RegisterRoutes(s)

	return &fixture{router: r, store: store, queue: queue}
}

func pngUpload(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	var encoded bytes.Buffer
	require.NoError(t, png.Encode(&encoded, img))

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("image", "scan.png")
	require.NoError(t, err)
	_, err = part.Write(encoded.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func (f *fixture) do(method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) wscutils.Response {
	t.Helper()
	var resp wscutils.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSubmitEndpoint(t *testing.T) {
	t.Run("valid upload creates a job", func(t *testing.T) {
		f := newFixture(t)
		body, contentType := pngUpload(t)

		w := f.do(http.MethodPost, "/v1/jobs", body, contentType)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		resp := decodeEnvelope(t, w)
		assert.Equal(t, wscutils.SuccessStatus, resp.Status)

		data := resp.Data.(map[string]any)
		assert.Equal(t, "QUEUED", data["status"])
		assert.Equal(t, false, data["cached"])
	})

	t.Run("duplicate upload returns 200 with the same job", func(t *testing.T) {
		f := newFixture(t)

		body, contentType := pngUpload(t)
		first := f.do(http.MethodPost, "/v1/jobs", body, contentType)
		require.Equal(t, http.StatusCreated, first.Code)
		firstID := decodeEnvelope(t, first).Data.(map[string]any)["job_id"]

		body, contentType = pngUpload(t)
		second := f.do(http.MethodPost, "/v1/jobs", body, contentType)
		require.Equal(t, http.StatusOK, second.Code)

		data := decodeEnvelope(t, second).Data.(map[string]any)
		assert.Equal(t, firstID, data["job_id"])
		assert.Equal(t, true, data["cached"])
	})

	t.Run("missing form field is a 400", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(http.MethodPost, "/v1/jobs", nil, "multipart/form-data; boundary=x")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("non-image payload is a 400", func(t *testing.T) {
		f := newFixture(t)

		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		part, err := mw.CreateFormFile("image", "notes.txt")
		require.NoError(t, err)
		_, err = part.Write([]byte("definitely plain text"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		w := f.do(http.MethodPost, "/v1/jobs", body, mw.FormDataContentType())
		require.Equal(t, http.StatusBadRequest, w.Code)

		resp := decodeEnvelope(t, w)
		require.Len(t, resp.Messages, 1)
		assert.Equal(t, wscutils.ErrcodeInvalidImage, resp.Messages[0].ErrCode)
	})

	t.Run("no model version yields 503", func(t *testing.T) {
		f := newFixture(t)
		f.store = jobs.NewMemStore() // fixture seeded one; build a bare store instead

		gin.SetMode(gin.TestMode)
		loggerCtx := &logharbour.LoggerContext{}
		logger := logharbour.NewLogger(loggerCtx, "test", log.Writer())
		r := gin.New()
		s := service.NewService(r).
			WithLogger(logger).
			WithSubmitter(jobs.NewSubmitter(f.store, f.queue, logger)).
			WithMetricsView(jobs.NewMetricsView(f.store, f.queue)).
			WithMetrics(jobs.NopMetrics())
		jobsvc.RegisterRoutes(s)
		f.router = r

		body, contentType := pngUpload(t)
		w := f.do(http.MethodPost, "/v1/jobs", body, contentType)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestJobQueryEndpoints(t *testing.T) {
	f := newFixture(t)

	body, contentType := pngUpload(t)
	created := f.do(http.MethodPost, "/v1/jobs", body, contentType)
	require.Equal(t, http.StatusCreated, created.Code)
	jobID := int64(decodeEnvelope(t, created).Data.(map[string]any)["job_id"].(float64))
	jobPath := "/v1/jobs/" + strconv.FormatInt(jobID, 10)

	t.Run("status of a queued job", func(t *testing.T) {
		w := f.do(http.MethodGet, jobPath, nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		data := decodeEnvelope(t, w).Data.(map[string]any)
		assert.Equal(t, "QUEUED", data["status"])
	})

	t.Run("unknown job is 404", func(t *testing.T) {
		w := f.do(http.MethodGet, "/v1/jobs/99999", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed id is 400", func(t *testing.T) {
		w := f.do(http.MethodGet, "/v1/jobs/banana", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("result before completion is 409", func(t *testing.T) {
		w := f.do(http.MethodGet, jobPath+"/result", nil, "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("result after completion", func(t *testing.T) {
		scores := predictor.Scores{"Cardiomegaly": 0.77}
		require.NoError(t, f.store.CompleteJob(context.Background(), jobID, scores, "Cardiomegaly"))

		w := f.do(http.MethodGet, jobPath+"/result", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		data := decodeEnvelope(t, w).Data.(map[string]any)
		assert.Equal(t, "Cardiomegaly", data["top_label"])
	})

	t.Run("result of unknown job is 404", func(t *testing.T) {
		w := f.do(http.MethodGet, "/v1/jobs/99999/result", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestOpsEndpoints(t *testing.T) {
	f := newFixture(t)

	body, contentType := pngUpload(t)
	created := f.do(http.MethodPost, "/v1/jobs", body, contentType)
	require.Equal(t, http.StatusCreated, created.Code)
	jobID := int64(decodeEnvelope(t, created).Data.(map[string]any)["job_id"].(float64))

	t.Run("metrics snapshot", func(t *testing.T) {
		w := f.do(http.MethodGet, "/v1/ops/metrics", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		data := decodeEnvelope(t, w).Data.(map[string]any)
		assert.Equal(t, float64(300), data["window_seconds"])
		assert.Equal(t, float64(1), data["jobs_in_window"])
	})

	t.Run("dlq listing", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, f.store.FailJob(ctx, jobID))
		require.NoError(t, f.queue.PushDLQ(ctx, jobID))

		w := f.do(http.MethodGet, "/v1/ops/dlq", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		data := decodeEnvelope(t, w).Data.(map[string]any)
		assert.Equal(t, float64(1), data["count"])
	})

	t.Run("health is 200 with live backends", func(t *testing.T) {
		w := f.do(http.MethodGet, "/v1/ops/health", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
