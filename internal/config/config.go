package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Engine    EngineConfig
	Workspace WorkspaceConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	GeneratePerHour int
}

// StorageConfig describes the object store the artifacts are published to.
// Driver is "s3" (aws-sdk-go-v2) or "minio".
type StorageConfig struct {
	Driver          string
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	EndpointURL     string
	Region          string
	KeyPrefix       string
}

// EngineConfig selects how the generation pipeline is reached.
// Mode "http" posts to ServiceURL, mode "exec" runs Command.
type EngineConfig struct {
	Mode          string
	ServiceURL    string
	Command       string
	Timeout       int // seconds, 0 = no client deadline
	CheckpointDir string
}

// WorkspaceDirName is the directory created under the OS temp dir when
// WORKSPACE_ROOT is not set. Stale job directories are only swept inside it.
const WorkspaceDirName = "acestep-worker"

type WorkspaceConfig struct {
	Root        string
	TempDir     string
	StaleMaxAge int // hours
}

type WorkerConfig struct {
	Concurrency int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("AWS_ACCESS_KEY_ID")
	readSecret("AWS_SECRET_ACCESS_KEY")
	readSecret("JWT_SECRET")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("log.file", "LOG_FILE")
	_ = v.BindEnv("log.max_size_mb", "LOG_MAX_SIZE_MB")
	_ = v.BindEnv("log.max_backups", "LOG_MAX_BACKUPS")
	_ = v.BindEnv("log.max_age_days", "LOG_MAX_AGE_DAYS")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("ratelimit.generate_per_hour", "RATE_LIMIT_PER_HOUR")
	_ = v.BindEnv("storage.driver", "STORAGE_DRIVER")
	_ = v.BindEnv("storage.bucket_name", "S3_BUCKET_NAME")
	_ = v.BindEnv("storage.access_key_id", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("storage.secret_access_key", "AWS_SECRET_ACCESS_KEY")
	_ = v.BindEnv("storage.endpoint_url", "S3_ENDPOINT_URL")
	_ = v.BindEnv("storage.region", "AWS_REGION")
	_ = v.BindEnv("storage.key_prefix", "S3_KEY_PREFIX")
	_ = v.BindEnv("engine.mode", "ENGINE_MODE")
	_ = v.BindEnv("engine.service_url", "ENGINE_URL")
	_ = v.BindEnv("engine.command", "ENGINE_COMMAND")
	_ = v.BindEnv("engine.timeout", "ENGINE_TIMEOUT")
	_ = v.BindEnv("engine.checkpoint_dir", "CHECKPOINT_DIR")
	_ = v.BindEnv("workspace.root", "WORKSPACE_ROOT")
	_ = v.BindEnv("workspace.temp_dir", "MATERIALIZE_TEMP_DIR")
	_ = v.BindEnv("workspace.stale_max_age", "WORKSPACE_STALE_HOURS")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.generate_per_hour", 60)

	// Storage defaults
	v.SetDefault("storage.driver", "s3")
	v.SetDefault("storage.region", "us-east-1")

	// Engine defaults
	v.SetDefault("engine.mode", "http")
	v.SetDefault("engine.service_url", "http://localhost:8019")
	v.SetDefault("engine.timeout", 0)
	v.SetDefault("engine.checkpoint_dir", "/app/checkpoints")

	// Workspace defaults
	v.SetDefault("workspace.root", filepath.Join(os.TempDir(), WorkspaceDirName))
	v.SetDefault("workspace.stale_max_age", 6)
	v.SetDefault("worker.concurrency", 1)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Log: LogConfig{
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: v.GetInt("ratelimit.generate_per_hour"),
		},
		Storage: StorageConfig{
			Driver:          strings.ToLower(v.GetString("storage.driver")),
			BucketName:      v.GetString("storage.bucket_name"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			EndpointURL:     v.GetString("storage.endpoint_url"),
			Region:          v.GetString("storage.region"),
			KeyPrefix:       v.GetString("storage.key_prefix"),
		},
		Engine: EngineConfig{
			Mode:          strings.ToLower(v.GetString("engine.mode")),
			ServiceURL:    v.GetString("engine.service_url"),
			Command:       v.GetString("engine.command"),
			Timeout:       v.GetInt("engine.timeout"),
			CheckpointDir: v.GetString("engine.checkpoint_dir"),
		},
		Workspace: WorkspaceConfig{
			Root:        v.GetString("workspace.root"),
			TempDir:     v.GetString("workspace.temp_dir"),
			StaleMaxAge: v.GetInt("workspace.stale_max_age"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker.concurrency"),
		},
	}

	return cfg, nil
}

// ResolveCheckpointDir returns the checkpoint directory when it exists on disk.
// An empty result lets the engine fall back to its own cache.
func (c EngineConfig) ResolveCheckpointDir() string {
	if c.CheckpointDir == "" {
		return ""
	}
	if _, err := os.Stat(c.CheckpointDir); err != nil {
		return ""
	}
	return c.CheckpointDir
}
