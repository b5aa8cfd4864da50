package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the process-wide configuration for both the HTTP server and
// the worker binaries. Every field is sourced from the environment with a
// sane default, the same getEnv pattern the rest of this codebase's ancestry
// has always used.
type Config struct {
	// Key-value store
	RedisHost     string
	RedisPort     string
	RedisDB       int
	RedisPassword string

	// Shared disk layout
	UploadsDir string
	ResultsDir string
	ScratchDir string

	// Cleanup loop
	CleanupTTLHours   int
	CleanupInterval   time.Duration
	CleanupStartDelay time.Duration

	// Upload registry
	UploadUnusedTTL time.Duration

	// HTTP surface
	Port          string
	ChunkSize     int64
	MaxUploadSize int64
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration

	// Worker loop
	EmptyQueuePollInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string
	Timezone  string

	Environment string
}

func New() *Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cleanupTTLHours, _ := strconv.Atoi(getEnv("CLEANUP_TTL_HOURS", "3"))
	chunkSize, _ := strconv.ParseInt(getEnv("CHUNK_SIZE", "8388608"), 10, 64)              // 8MB default
	maxUploadSize, _ := strconv.ParseInt(getEnv("MAX_UPLOAD_SIZE", "10737418240"), 10, 64) // 10GB default

	return &Config{
		RedisHost:     getEnv("REDIS_HOST", "valkey"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisDB:       redisDB,
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		UploadsDir: getEnv("UPLOADS_DIR", "/disk/uploads"),
		ResultsDir: getEnv("RESULTS_DIR", "/disk/results"),
		ScratchDir: getEnv("SCRATCH_DIR", "/disk/scratch"),

		CleanupTTLHours:   cleanupTTLHours,
		CleanupInterval:   time.Hour,
		CleanupStartDelay: 5 * time.Minute,

		UploadUnusedTTL: 3 * time.Hour,

		Port:          getEnv("PORT", "8000"),
		ChunkSize:     chunkSize,
		MaxUploadSize: maxUploadSize,
		ReadTimeout:   60 * time.Second,
		WriteTimeout:  60 * time.Second,

		EmptyQueuePollInterval: time.Second,

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		Timezone:  getEnv("TZ", "UTC"),

		Environment: getEnv("ENV", "production"),
	}
}

func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
