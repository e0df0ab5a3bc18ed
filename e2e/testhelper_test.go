package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/acestep-worker/internal/auth"
	"github.com/makeasinger/acestep-worker/internal/config"
	"github.com/makeasinger/acestep-worker/internal/handler"
	"github.com/makeasinger/acestep-worker/internal/middleware"
	"github.com/makeasinger/acestep-worker/internal/service"
	"github.com/makeasinger/acestep-worker/internal/worker"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testBucket    = "songs"
	testRedisAddr = "localhost:6379"
	testRedisDB   = 15
)

// fakeEngine stands in for the ACE-Step pipeline service: it writes a WAV
// into save_path and reports it together with a parameters record
type fakeEngine struct {
	mu       sync.Mutex
	requests []map[string]interface{}
}

func (e *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/health":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && r.URL.Path == "/generate":
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		e.mu.Lock()
		e.requests = append(e.requests, req)
		e.mu.Unlock()

		dir, _ := req["save_path"].(string)
		audio := filepath.Join(dir, "output_0.wav")
		params := filepath.Join(dir, "output_0_input_params.json")
		if err := os.WriteFile(audio, []byte("RIFF....WAVEfmt "), 0o644); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		_ = os.WriteFile(params, []byte("{}"), 0o644)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"output_paths": []string{audio, params}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (e *fakeEngine) last() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.requests) == 0 {
		return nil
	}
	return e.requests[len(e.requests)-1]
}

// fakeS3 serves path-style PUT and HEAD requests from memory
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	// listDenied answers HEAD on absent keys with 403, as S3 does without s3:ListBucket
	listDenied bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if _, ok := f.objects[r.URL.Path]; !ok {
			if f.listDenied {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// testApp holds all components needed for testing
type testApp struct {
	app       *fiber.App
	engine    *fakeEngine
	storage   *fakeS3
	pipeline  *worker.Pipeline
	workspace string
	jobs      *service.JobService
}

// setupApp builds the same routes as the server against in-process fakes of
// the engine and object store. Redis is optional; job routes answer 503
// without it.
func setupApp(t *testing.T, withRedis bool) *testApp {
	t.Helper()

	engine := &fakeEngine{}
	engineSrv := httptest.NewServer(engine)
	t.Cleanup(engineSrv.Close)

	storage := &fakeS3{objects: map[string][]byte{}}
	storageSrv := httptest.NewServer(storage)
	t.Cleanup(storageSrv.Close)

	workspace := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Driver:          "s3",
			BucketName:      testBucket,
			AccessKeyID:     "AKIATEST",
			SecretAccessKey: "secret",
			EndpointURL:     storageSrv.URL,
			Region:          "us-east-1",
			KeyPrefix:       "generated/",
		},
		Engine: config.EngineConfig{
			Mode:       "http",
			ServiceURL: engineSrv.URL,
		},
		Workspace: config.WorkspaceConfig{
			Root:    workspace,
			TempDir: t.TempDir(),
		},
	}

	pipeline, err := worker.Build(context.Background(), cfg, nil)
	require.NoError(t, err)

	var (
		jobQueue    handler.JobQueue
		jobService  *service.JobService
		redisClient *redis.Client
	)
	if withRedis {
		redisClient = redis.NewClient(&redis.Options{Addr: testRedisAddr, DB: testRedisDB})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			t.Skipf("redis not available: %v", err)
		}
		t.Cleanup(func() { redisClient.Close() })

		redisOpt := asynq.RedisClientOpt{Addr: testRedisAddr, DB: testRedisDB}
		asynqClient := asynq.NewClient(redisOpt)
		t.Cleanup(func() { asynqClient.Close() })

		jobService = service.NewJobService(redisClient, asynqClient)
		jobQueue = jobService

		srv := asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: 1,
			Queues:      map[string]int{service.QueueGenerate: 1},
			LogLevel:    asynq.ErrorLevel,
		})
		mux := asynq.NewServeMux()
		mux.HandleFunc(service.TaskTypeGenerate, worker.NewGenerateWorker(jobService, pipeline.Orchestrator, nil, nil).ProcessTask)
		require.NoError(t, srv.Start(mux))
		t.Cleanup(srv.Shutdown)
	}

	generateHandler := handler.NewGenerateHandler(pipeline.Orchestrator, jobQueue, nil)
	healthHandler := handler.NewHealthHandler(map[string]handler.Check{
		"engine": pipeline.Engine.HealthCheck,
		"storage": func(ctx context.Context) error {
			_, err := pipeline.Storage.Exists(ctx, ".health")
			return err
		},
	})
	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient, nil)

	app := fiber.New(fiber.Config{
		BodyLimit: 100 * 1024 * 1024,
	})
	app.Get("/health", healthHandler.Health)

	api := app.Group("/api", authMiddleware.Authenticate())
	generateLimit := rateLimiter.GenerateLimit(1000)
	api.Post("/generate", generateLimit, generateHandler.Generate)
	jobs := api.Group("/jobs")
	jobs.Post("/", generateLimit, generateHandler.StartJob)
	jobs.Get("/:jobId", generateHandler.Status)
	jobs.Get("/:jobId/result", generateHandler.Result)

	return &testApp{
		app:       app,
		engine:    engine,
		storage:   storage,
		pipeline:  pipeline,
		workspace: workspace,
		jobs:      jobService,
	}
}

func generateToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateToken("e2e-user", "e2e@example.com", testJWTSecret)
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var parsed map[string]interface{}
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &parsed), string(data))
	}
	return resp, parsed
}

func bearer(t *testing.T) map[string]string {
	return map[string]string{"Authorization": "Bearer " + generateToken(t)}
}

// workspaceEntries lists what is left under the workspace root
func workspaceEntries(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
