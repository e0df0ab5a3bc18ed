package e2e

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	ta := setupApp(t, false)

	resp, body := doRequest(t, ta.app, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	services, ok := body["services"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", services["engine"])
	assert.Equal(t, "ok", services["storage"])
}

func TestGenerateRequiresToken(t *testing.T) {
	ta := setupApp(t, false)

	resp, _ := doRequest(t, ta.app, http.MethodPost, "/api/generate", `{"input":{}}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, ta.storage.count())
}

func TestGenerateText2Music(t *testing.T) {
	ta := setupApp(t, false)

	resp, body := doRequest(t, ta.app, http.MethodPost, "/api/generate",
		`{"input":{"prompt":"lofi, chill","lyrics":"[verse]\nla la","audio_duration":30}}`, bearer(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, body["error"], body)

	assert.Equal(t, "wav", body["format"])
	assert.Equal(t, "text2music", body["task"])
	assert.Equal(t, 30.0, body["duration"])

	url, _ := body["audio_url"].(string)
	assert.Contains(t, url, "/"+testBucket+"/generated/")
	assert.Contains(t, url, ".wav")
	assert.Contains(t, url, "X-Amz-Expires=86400")
	assert.Equal(t, 1, ta.storage.count())

	req := ta.engine.last()
	require.NotNil(t, req)
	assert.Equal(t, "lofi, chill", req["prompt"])
	assert.Equal(t, 60.0, req["infer_step"])
	assert.Equal(t, 1.0, req["batch_size"])

	assert.Empty(t, workspaceEntries(t, ta.workspace))
}

func TestGenerateWithPutGetOnlyPolicy(t *testing.T) {
	ta := setupApp(t, false)
	ta.storage.mu.Lock()
	ta.storage.listDenied = true
	ta.storage.mu.Unlock()

	resp, body := doRequest(t, ta.app, http.MethodPost, "/api/generate", `{"input":{"prompt":"ambient"}}`, bearer(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, body["error"], body)
	assert.Contains(t, body["audio_url"], "X-Amz-Expires=86400")
	assert.Equal(t, 1, ta.storage.count())
}

func TestGenerateValidationFailure(t *testing.T) {
	ta := setupApp(t, false)

	resp, body := doRequest(t, ta.app, http.MethodPost, "/api/generate", `{"input":{"task":"repaint"}}`, bearer(t))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Task 'repaint' requires 'src_audio_path' (base64 encoded audio).", body["error"])
	assert.Nil(t, ta.engine.last())
	assert.Zero(t, ta.storage.count())
}

func TestGenerateRepaintWithRemoteSource(t *testing.T) {
	ta := setupApp(t, false)

	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("RIFF-source"))
	}))
	t.Cleanup(audio.Close)

	body := `{"input":{"task":"repaint","src_audio_path":"` + audio.URL + `/src.wav","repaint_start":5,"repaint_end":10}}`
	resp, out := doRequest(t, ta.app, http.MethodPost, "/api/generate", body, bearer(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, out["error"], out)
	assert.Equal(t, "repaint", out["task"])

	req := ta.engine.last()
	require.NotNil(t, req)
	src, _ := req["src_audio_path"].(string)
	assert.NotEmpty(t, src)
	assert.NotContains(t, src, "http")
	assert.Equal(t, 5.0, req["repaint_start"])
	assert.Equal(t, 10.0, req["repaint_end"])
}

func TestGenerateAudio2AudioInline(t *testing.T) {
	ta := setupApp(t, false)

	ref := "data:audio/wav;base64," + base64.StdEncoding.EncodeToString([]byte("RIFF-ref"))
	body := `{"input":{"task":"audio2audio","ref_audio_input":"` + ref + `","ref_audio_strength":0.8}}`
	resp, out := doRequest(t, ta.app, http.MethodPost, "/api/generate", body, bearer(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, out["error"], out)

	req := ta.engine.last()
	assert.Equal(t, true, req["audio2audio_enable"])
	assert.Equal(t, 0.8, req["ref_audio_strength"])
	refPath, _ := req["ref_audio_input"].(string)
	assert.True(t, strings.HasSuffix(refPath, ".wav"))
}

func TestAsyncJob(t *testing.T) {
	ta := setupApp(t, true)

	resp, body := doRequest(t, ta.app, http.MethodPost, "/api/jobs", `{"input":{"prompt":"ambient"}}`, bearer(t))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID, _ := body["jobId"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		_, status := doRequest(t, ta.app, http.MethodGet, "/api/jobs/"+jobID, "", bearer(t))
		return status["status"] == "succeeded"
	}, 15*time.Second, 100*time.Millisecond)

	resp, result := doRequest(t, ta.app, http.MethodGet, "/api/jobs/"+jobID+"/result", "", bearer(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, result["audio_url"], "X-Amz-Expires=86400")
}

func TestAsyncJobRejectsInvalidInput(t *testing.T) {
	ta := setupApp(t, true)

	resp, body := doRequest(t, ta.app, http.MethodPost, "/api/jobs", `{"input":{"task":"edit","src_audio_path":"aGVsbG8="}}`, bearer(t))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errBody, _ := body["error"].(map[string]interface{})
	assert.Equal(t, "VALIDATION_ERROR", errBody["code"])
}
