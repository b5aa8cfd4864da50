package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	envVars := []string{
		"REDIS_HOST", "REDIS_PORT", "REDIS_DB",
		"UPLOADS_DIR", "RESULTS_DIR", "SCRATCH_DIR",
		"CLEANUP_TTL_HOURS", "PORT", "CHUNK_SIZE", "MAX_UPLOAD_SIZE",
	}
	original := make(map[string]string)
	for _, env := range envVars {
		original[env] = os.Getenv(env)
		os.Unsetenv(env)
	}
	defer func() {
		for env, val := range original {
			if val != "" {
				os.Setenv(env, val)
			} else {
				os.Unsetenv(env)
			}
		}
	}()

	cfg := New()

	assert.NotNil(t, cfg)
	assert.Equal(t, "valkey", cfg.RedisHost)
	assert.Equal(t, "6379", cfg.RedisPort)
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, "valkey:6379", cfg.RedisAddr())
	assert.Equal(t, "/disk/uploads", cfg.UploadsDir)
	assert.Equal(t, "/disk/results", cfg.ResultsDir)
	assert.Equal(t, "/disk/scratch", cfg.ScratchDir)
	assert.Equal(t, 3, cfg.CleanupTTLHours)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, int64(8*1024*1024), cfg.ChunkSize)
}

func TestNewWithEnvironmentVariables(t *testing.T) {
	os.Setenv("REDIS_HOST", "redis.internal")
	os.Setenv("REDIS_PORT", "6380")
	os.Setenv("REDIS_DB", "2")
	os.Setenv("UPLOADS_DIR", "/data/in")
	os.Setenv("RESULTS_DIR", "/data/out")
	os.Setenv("CLEANUP_TTL_HOURS", "6")
	os.Setenv("PORT", "9000")
	defer func() {
		for _, env := range []string{
			"REDIS_HOST", "REDIS_PORT", "REDIS_DB", "UPLOADS_DIR",
			"RESULTS_DIR", "CLEANUP_TTL_HOURS", "PORT",
		} {
			os.Unsetenv(env)
		}
	}()

	cfg := New()

	assert.Equal(t, "redis.internal", cfg.RedisHost)
	assert.Equal(t, "6380", cfg.RedisPort)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "/data/in", cfg.UploadsDir)
	assert.Equal(t, "/data/out", cfg.ResultsDir)
	assert.Equal(t, 6, cfg.CleanupTTLHours)
	assert.Equal(t, "9000", cfg.Port)
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		setEnv       bool
		expected     string
	}{
		{"present", "TEST_KEY", "default", "env-value", true, "env-value"},
		{"absent", "NONEXISTENT_KEY", "default", "", false, "default"},
		{"empty treated as absent", "EMPTY_KEY", "default", "", true, "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Unsetenv(tt.key)
			if tt.setEnv {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}
			assert.Equal(t, tt.expected, getEnv(tt.key, tt.defaultValue))
		})
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := New()

	assert.NotEmpty(t, cfg.RedisHost)
	assert.NotEmpty(t, cfg.UploadsDir)
	assert.NotEmpty(t, cfg.ResultsDir)
	assert.NotEmpty(t, cfg.ScratchDir)
	assert.NotEmpty(t, cfg.Port)

	assert.Greater(t, cfg.ChunkSize, int64(0))
	assert.Greater(t, cfg.MaxUploadSize, int64(0))
	assert.Greater(t, cfg.CleanupTTLHours, 0)
}

func TestConfigConsistency(t *testing.T) {
	cfg1 := New()
	cfg2 := New()

	assert.Equal(t, cfg1.RedisHost, cfg2.RedisHost)
	assert.Equal(t, cfg1.UploadsDir, cfg2.UploadsDir)
	assert.Equal(t, cfg1.CleanupTTLHours, cfg2.CleanupTTLHours)
}

func BenchmarkNew(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = New()
	}
}
