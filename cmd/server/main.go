package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/makeasinger/acestep-worker/internal/config"
	"github.com/makeasinger/acestep-worker/internal/handler"
	"github.com/makeasinger/acestep-worker/internal/logger"
	"github.com/makeasinger/acestep-worker/internal/middleware"
	"github.com/makeasinger/acestep-worker/internal/service"
	ws "github.com/makeasinger/acestep-worker/internal/websocket"
	"github.com/makeasinger/acestep-worker/internal/worker"
	"github.com/makeasinger/acestep-worker/pkg/response"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Server.LogLevel,
		OutputPath: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Workspace.Root, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace root: %w", err)
	}

	// Leftovers from a crashed process
	if cfg.Workspace.StaleMaxAge > 0 {
		cleaned := service.CleanStaleWorkspaces(cfg.Workspace.Root, time.Duration(cfg.Workspace.StaleMaxAge)*time.Hour, log)
		if len(cleaned.Removed) > 0 || len(cleaned.Errors) > 0 {
			log.Info("stale workspaces cleaned", zap.Int("removed", len(cleaned.Removed)), zap.Int("errors", len(cleaned.Errors)))
		}
	}

	pipeline, err := worker.Build(ctx, cfg, log)
	if err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis not available, async jobs will fail", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	hub := ws.NewHub(log.Named("ws"))
	go hub.Run(ctx)

	jobService := service.NewJobService(redisClient, asynqClient)

	srv := newWorkerServer(cfg, redisOpt, log)
	mux := asynq.NewServeMux()
	generateWorker := worker.NewGenerateWorker(jobService, pipeline.Orchestrator, hub, log.Named("worker"))
	mux.HandleFunc(service.TaskTypeGenerate, generateWorker.ProcessTask)
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}
	defer srv.Shutdown()

	generateHandler := handler.NewGenerateHandler(pipeline.Orchestrator, jobService, log.Named("http"))
	healthHandler := handler.NewHealthHandler(map[string]handler.Check{
		"engine": pipeline.Engine.HealthCheck,
		"storage": func(ctx context.Context) error {
			if pipeline.Storage == nil {
				return errors.New(worker.MsgBucketNotSet)
			}
			_, err := pipeline.Storage.Exists(ctx, ".health")
			return err
		},
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	if !authMiddleware.Enabled() {
		log.Warn("JWT_SECRET not set, API is unauthenticated")
	}
	rateLimiter := middleware.NewRateLimiter(redisClient, log.Named("ratelimit"))

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    100 * 1024 * 1024, // inline base64 audio
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if logger.ParseLevel(cfg.Server.LogLevel) == zapcore.DebugLevel {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
	}
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", healthHandler.Health)

	api := app.Group("/api", authMiddleware.Authenticate())
	generateLimit := rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour)
	api.Post("/generate", generateLimit, generateHandler.Generate)

	jobs := api.Group("/jobs")
	jobs.Post("/", generateLimit, generateHandler.StartJob)
	jobs.Get("/:jobId", generateHandler.Status)
	jobs.Get("/:jobId/result", generateHandler.Result)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	}))

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		log.Info("server starting",
			zap.String("addr", addr),
			zap.String("engine_mode", cfg.Engine.Mode),
			zap.String("storage_driver", cfg.Storage.Driver),
			zap.Int("concurrency", cfg.Worker.Concurrency),
		)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
	return nil
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, log *zap.Logger) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	switch logger.ParseLevel(cfg.Server.LogLevel) {
	case zapcore.DebugLevel:
		asynqLogLevel = asynq.DebugLevel
	case zapcore.WarnLevel:
		asynqLogLevel = asynq.WarnLevel
	case zapcore.ErrorLevel:
		asynqLogLevel = asynq.ErrorLevel
	}

	concurrency := cfg.Worker.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			service.QueueGenerate: 1,
		},
		Logger:   log.Named("asynq").Sugar(),
		LogLevel: asynqLogLevel,
	})
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
