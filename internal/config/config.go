package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Inference InferenceConfig
	LLM       LLMConfig
	Jobs      JobsConfig
}

type ServerConfig struct {
	Port        string
	Env         string
	LogLevel    string
	BodyLimitMB int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	ScriptPerHour int
	ImagePerHour  int
}

type DatabaseConfig struct {
	URL string
}

type StorageConfig struct {
	Driver          string // local | s3
	Root            string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
	CacheSize       int
}

type InferenceConfig struct {
	ServiceURL    string
	Timeout       int // seconds
	MaxConcurrent int
}

type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type JobsConfig struct {
	Mode        string // asynq | inline
	Concurrency int
}

func Load() (*Config, error) {
	// .env is optional and never overrides variables already exported
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_URL")
	readSecret("JWT_SECRET")
	readSecret("LLM_API_KEY")
	readSecret("S3_ACCESS_KEY_ID")
	readSecret("S3_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.body_limit_mb", "BODY_LIMIT_MB")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.script_per_hour", "RATELIMIT_SCRIPT_PER_HOUR")
	_ = viper.BindEnv("ratelimit.image_per_hour", "RATELIMIT_IMAGE_PER_HOUR")
	_ = viper.BindEnv("database.url", "DATABASE_URL")
	_ = viper.BindEnv("storage.driver", "STORAGE_DRIVER")
	_ = viper.BindEnv("storage.root", "STORAGE_ROOT")
	_ = viper.BindEnv("storage.endpoint", "S3_ENDPOINT")
	_ = viper.BindEnv("storage.region", "S3_REGION")
	_ = viper.BindEnv("storage.access_key_id", "S3_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "S3_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket", "S3_BUCKET")
	_ = viper.BindEnv("storage.public_url", "S3_PUBLIC_URL")
	_ = viper.BindEnv("storage.cache_size", "STORAGE_CACHE_SIZE")
	_ = viper.BindEnv("inference.service_url", "INFERENCE_SERVICE_URL")
	_ = viper.BindEnv("inference.timeout", "INFERENCE_TIMEOUT")
	_ = viper.BindEnv("inference.max_concurrent", "INFERENCE_MAX_CONCURRENT")
	_ = viper.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = viper.BindEnv("llm.base_url", "LLM_BASE_URL")
	_ = viper.BindEnv("llm.model", "LLM_MODEL")
	_ = viper.BindEnv("jobs.mode", "JOBS_MODE")
	_ = viper.BindEnv("jobs.concurrency", "JOBS_CONCURRENCY")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.body_limit_mb", 10)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.script_per_hour", 20)
	viper.SetDefault("ratelimit.image_per_hour", 60)

	// Storage defaults
	viper.SetDefault("storage.driver", "local")
	viper.SetDefault("storage.root", "users_data")
	viper.SetDefault("storage.region", "auto")
	viper.SetDefault("storage.cache_size", 256)

	// Inference service defaults
	viper.SetDefault("inference.service_url", "http://localhost:8001")
	viper.SetDefault("inference.timeout", 6000)
	viper.SetDefault("inference.max_concurrent", 1)

	// LLM defaults
	viper.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	viper.SetDefault("llm.model", "openai/gpt-4o-mini")

	// Job defaults
	viper.SetDefault("jobs.mode", "asynq")
	viper.SetDefault("jobs.concurrency", 4)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:        viper.GetString("server.port"),
			Env:         viper.GetString("server.env"),
			LogLevel:    viper.GetString("server.log_level"),
			BodyLimitMB: viper.GetInt("server.body_limit_mb"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			ScriptPerHour: viper.GetInt("ratelimit.script_per_hour"),
			ImagePerHour:  viper.GetInt("ratelimit.image_per_hour"),
		},
		Database: DatabaseConfig{
			URL: viper.GetString("database.url"),
		},
		Storage: StorageConfig{
			Driver:          viper.GetString("storage.driver"),
			Root:            viper.GetString("storage.root"),
			Endpoint:        viper.GetString("storage.endpoint"),
			Region:          viper.GetString("storage.region"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			Bucket:          viper.GetString("storage.bucket"),
			PublicURL:       viper.GetString("storage.public_url"),
			CacheSize:       viper.GetInt("storage.cache_size"),
		},
		Inference: InferenceConfig{
			ServiceURL:    viper.GetString("inference.service_url"),
			Timeout:       viper.GetInt("inference.timeout"),
			MaxConcurrent: viper.GetInt("inference.max_concurrent"),
		},
		LLM: LLMConfig{
			APIKey:  viper.GetString("llm.api_key"),
			BaseURL: viper.GetString("llm.base_url"),
			Model:   viper.GetString("llm.model"),
		},
		Jobs: JobsConfig{
			Mode:        viper.GetString("jobs.mode"),
			Concurrency: viper.GetInt("jobs.concurrency"),
		},
	}

	return cfg, nil
}
