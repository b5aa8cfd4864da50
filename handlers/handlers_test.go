package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediapipe/cleanup"
	"mediapipe/config"
	"mediapipe/engine"
	"mediapipe/jobs"
	"mediapipe/pkg/logging"
	"mediapipe/store"
	"mediapipe/uploads"
)

func newTestApp(t *testing.T) (*fiber.App, *config.Config) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewFromRedis(rdb)

	logger, err := logging.New("test", &logging.Config{
		Level:        slog.LevelError,
		OutputFormat: "json",
		Output:       os.Stderr,
	})
	require.NoError(t, err)

	cfg := &config.Config{
		UploadsDir: t.TempDir(),
		ResultsDir: t.TempDir(),
		ScratchDir: t.TempDir(),
		Environment: "test",
	}

	uploadsReg := uploads.New(s, logger)
	queue := jobs.New(s, uploadsReg, logger)
	eng := engine.New(logger)
	cleaner := cleanup.New(cfg.ResultsDir, cfg.UploadsDir, cfg.ScratchDir, 3, 0, 0, logger)

	h := New(cfg, logger, uploadsReg, queue, eng, cleaner)

	app := fiber.New()
	h.RegisterRoutes(app)
	return app, cfg
}

func multipartUploadRequest(t *testing.T, fieldName, filename string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fieldName, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestHealthReportsStatus(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "mediapipe", body["service"])
}

func TestCreateUploadThenCreateJobThenDownload(t *testing.T) {
	app, _ := newTestApp(t)

	uploadResp, err := app.Test(multipartUploadRequest(t, "file", "sermon.mp3", []byte("fake mp3 bytes")))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, uploadResp.StatusCode)

	var uploadRec uploads.Record
	require.NoError(t, json.NewDecoder(uploadResp.Body).Decode(&uploadRec))
	assert.NotEmpty(t, uploadRec.UploadID)
	assert.Equal(t, 0, uploadRec.RefCount)

	jobBody, err := json.Marshal(map[string]interface{}{
		"type":      "extract_audio",
		"upload_id": uploadRec.UploadID,
	})
	require.NoError(t, err)
	jobReq := httptest.NewRequest(http.MethodPost, "/jobs/create", bytes.NewReader(jobBody))
	jobReq.Header.Set("Content-Type", "application/json")

	jobResp, err := app.Test(jobReq)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, jobResp.StatusCode)

	var jobRec jobs.Record
	require.NoError(t, json.NewDecoder(jobResp.Body).Decode(&jobRec))
	assert.Equal(t, jobs.StatusPending, jobRec.Status)
	assert.Equal(t, jobs.TypeExtractAudio, jobRec.Type)

	// upload_id's ref_count was bumped by job creation.
	getResp, err := app.Test(httptest.NewRequest(http.MethodGet, "/upload/"+uploadRec.UploadID, nil))
	require.NoError(t, err)
	var refreshed uploads.Record
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&refreshed))
	assert.Equal(t, 1, refreshed.RefCount)

	// download before completion is rejected with 400.
	downloadResp, err := app.Test(httptest.NewRequest(http.MethodGet, "/jobs/download/"+jobRec.ID, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, downloadResp.StatusCode)
}

func TestCreateJobUnknownTypeIsRejected(t *testing.T) {
	app, _ := newTestApp(t)

	body, err := json.Marshal(map[string]interface{}{"type": "not_a_real_type", "upload_id": "whatever"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/jobs/create", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestDeleteUploadInUseIsRejected(t *testing.T) {
	app, _ := newTestApp(t)

	uploadResp, err := app.Test(multipartUploadRequest(t, "file", "sermon.mp3", []byte("fake mp3 bytes")))
	require.NoError(t, err)
	var uploadRec uploads.Record
	require.NoError(t, json.NewDecoder(uploadResp.Body).Decode(&uploadRec))

	jobBody, err := json.Marshal(map[string]interface{}{"type": "extract_audio", "upload_id": uploadRec.UploadID})
	require.NoError(t, err)
	jobReq := httptest.NewRequest(http.MethodPost, "/jobs/create", bytes.NewReader(jobBody))
	jobReq.Header.Set("Content-Type", "application/json")
	_, err = app.Test(jobReq)
	require.NoError(t, err)

	delResp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/upload/"+uploadRec.UploadID, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, delResp.StatusCode)

	var errBody map[string]string
	require.NoError(t, json.NewDecoder(delResp.Body).Decode(&errBody))
	assert.Equal(t, string(logging.ErrCodeInUse), errBody["error"])
}

func TestResetForceSweepsSeededFile(t *testing.T) {
	app, cfg := newTestApp(t)

	// Drop a fresh file directly into results; /reset sweeps with
	// ttlHours = 0, so it is deleted regardless of age.
	stale := filepath.Join(cfg.ResultsDir, "leftover.mp4")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/reset", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestListQueuedJobsReportsStatsAndPendingList(t *testing.T) {
	app, _ := newTestApp(t)

	uploadResp, err := app.Test(multipartUploadRequest(t, "file", "sermon.mp3", []byte("fake mp3 bytes")))
	require.NoError(t, err)
	var uploadRec uploads.Record
	require.NoError(t, json.NewDecoder(uploadResp.Body).Decode(&uploadRec))

	jobBody, err := json.Marshal(map[string]interface{}{"type": "extract_audio", "upload_id": uploadRec.UploadID})
	require.NoError(t, err)
	jobReq := httptest.NewRequest(http.MethodPost, "/jobs/create", bytes.NewReader(jobBody))
	jobReq.Header.Set("Content-Type", "application/json")
	_, err = app.Test(jobReq)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/jobs/queue", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Jobs         []jobs.Record `json:"jobs"`
		Stats        jobs.Stats    `json:"stats"`
		TotalPending int64         `json:"total_pending"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Jobs, 1)
	assert.Equal(t, int64(1), body.TotalPending)
	assert.Equal(t, int64(1), body.Stats.Queued)
}

func TestDiskStatsReportsDirectories(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/admin/disk-stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Directories []cleanup.DirStats `json:"directories"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Directories, 3)
}
