package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/makeasinger/acestep-worker/internal/model"
	"github.com/makeasinger/acestep-worker/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	inputs []map[string]interface{}
	result *model.GenerateResponse
}

func (r *recordingRunner) Run(ctx context.Context, jobID string, input map[string]interface{}) *model.GenerateResponse {
	r.inputs = append(r.inputs, input)
	return r.result
}

type fakeQueue struct {
	started []map[string]interface{}
	status  map[string]*model.JobStatusResponse
	results map[string]*model.GenerateResponse
}

func (q *fakeQueue) StartJob(ctx context.Context, input map[string]interface{}) (*model.JobStartResponse, error) {
	q.started = append(q.started, input)
	return &model.JobStartResponse{JobID: "job-1", Status: model.JobStatusQueued, CreatedAt: time.Now()}, nil
}

func (q *fakeQueue) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	s, ok := q.status[jobID]
	if !ok {
		return nil, service.ErrJobNotFound
	}
	return s, nil
}

func (q *fakeQueue) GetResult(ctx context.Context, jobID string) (*model.GenerateResponse, error) {
	if _, ok := q.status[jobID]; !ok {
		return nil, service.ErrJobNotFound
	}
	r, ok := q.results[jobID]
	if !ok {
		return nil, service.ErrJobNotCompleted
	}
	return r, nil
}

func newTestApp(runner Runner, jobs JobQueue) *fiber.App {
	h := NewGenerateHandler(runner, jobs, nil)
	app := fiber.New()
	app.Post("/api/generate", h.Generate)
	app.Post("/api/jobs", h.StartJob)
	app.Get("/api/jobs/:jobId", h.Status)
	app.Get("/api/jobs/:jobId/result", h.Result)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestGenerateEnvelope(t *testing.T) {
	d := 30.0
	runner := &recordingRunner{result: &model.GenerateResponse{AudioURL: "https://x/y.wav", Format: "wav", Duration: &d, Task: model.TaskText2Music}}
	app := newTestApp(runner, nil)

	resp, body := doJSON(t, app, http.MethodPost, "/api/generate", `{"input":{"prompt":"lofi"}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, runner.inputs, 1)
	assert.Equal(t, "lofi", runner.inputs[0]["prompt"])

	var got model.GenerateResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "https://x/y.wav", got.AudioURL)
	assert.Equal(t, model.TaskText2Music, got.Task)
}

func TestGenerateBareObject(t *testing.T) {
	runner := &recordingRunner{result: &model.GenerateResponse{Error: "No output generated."}}
	app := newTestApp(runner, nil)

	resp, body := doJSON(t, app, http.MethodPost, "/api/generate", `{"prompt":"jazz","task":"text2music"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "jazz", runner.inputs[0]["prompt"])
	assert.JSONEq(t, `{"error":"No output generated."}`, string(body))
}

func TestGenerateInvalidBody(t *testing.T) {
	runner := &recordingRunner{}
	app := newTestApp(runner, nil)

	for _, body := range []string{`{"input":"nope"}`, `not json`, `[1,2]`} {
		resp, data := doJSON(t, app, http.MethodPost, "/api/generate", body)
		assert.Equal(t, http.StatusOK, resp.StatusCode, body)
		assert.JSONEq(t, `{"error":"Invalid request body"}`, string(data), body)
	}
	assert.Empty(t, runner.inputs)
}

func TestStartJobInvalidBody(t *testing.T) {
	q := &fakeQueue{}
	app := newTestApp(&recordingRunner{}, q)

	resp, _ := doJSON(t, app, http.MethodPost, "/api/jobs", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, q.started)
}

func TestStartJob(t *testing.T) {
	q := &fakeQueue{}
	app := newTestApp(&recordingRunner{}, q)

	resp, body := doJSON(t, app, http.MethodPost, "/api/jobs", `{"input":{"prompt":"x"}}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, q.started, 1)

	var got model.JobStartResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, model.JobStatusQueued, got.Status)
}

func TestStartJobRejectsInvalidInput(t *testing.T) {
	q := &fakeQueue{}
	app := newTestApp(&recordingRunner{}, q)

	resp, body := doJSON(t, app, http.MethodPost, "/api/jobs", `{"input":{"task":"repaint"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "requires 'src_audio_path'")
	assert.Empty(t, q.started)
}

func TestStartJobWithoutQueue(t *testing.T) {
	app := newTestApp(&recordingRunner{}, nil)

	resp, _ := doJSON(t, app, http.MethodPost, "/api/jobs", `{"input":{}}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestJobStatusAndResult(t *testing.T) {
	q := &fakeQueue{
		status: map[string]*model.JobStatusResponse{
			"running": {JobID: "running", Status: model.JobStatusRunning, State: model.JobStateInvoking, Progress: 20},
			"done":    {JobID: "done", Status: model.JobStatusSucceeded, State: model.JobStateDone, Progress: 100},
		},
		results: map[string]*model.GenerateResponse{
			"done": {AudioURL: "https://x/done.wav", Format: "wav"},
		},
	}
	app := newTestApp(&recordingRunner{}, q)

	resp, body := doJSON(t, app, http.MethodGet, "/api/jobs/running", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"state":"invoking"`)

	resp, _ = doJSON(t, app, http.MethodGet, "/api/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodGet, "/api/jobs/running/result", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "JOB_NOT_COMPLETED")

	resp, body = doJSON(t, app, http.MethodGet, "/api/jobs/done/result", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "https://x/done.wav")

	resp, _ = doJSON(t, app, http.MethodGet, "/api/jobs/missing/result", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("connection refused") }

	app := fiber.New()
	app.Get("/health", NewHealthHandler(map[string]Check{"engine": ok, "storage": ok}).Health)
	resp, body := doJSON(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","services":{"engine":"ok","storage":"ok"}}`, string(body))

	app = fiber.New()
	app.Get("/health", NewHealthHandler(map[string]Check{"engine": ok, "redis": down}).Health)
	resp, body = doJSON(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "connection refused")
}
