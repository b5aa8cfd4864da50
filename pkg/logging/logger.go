package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

type contextKey string

const (
	ContextKeyCorrelationID     = contextKey("correlation_id")
	ContextKeyRequestID         = contextKey("request_id")
	ContextKeyUserID            = contextKey("user_id")
	ContextKeyOperationDuration = contextKey("operation_duration")
)

// Logger wraps *slog.Logger with the pipeline's operation-specific child
// loggers and a dynamically adjustable level.
type Logger struct {
	*slog.Logger
	config      *Config
	mu          sync.RWMutex
	serviceName string
	environment string
	timezone    *time.Location
	levelVar    *slog.LevelVar
}

type Config struct {
	Level          slog.Level
	OutputFormat   string // "json" or "text"
	AddSource      bool
	EnableSampling bool
	SampleRate     float64
	MaxMessageSize int
	EnableMetrics  bool
	Timezone       string    // IANA name, defaults to UTC
	Output         io.Writer // For testing, defaults to os.Stdout
}

func DefaultConfig() *Config {
	return &Config{
		Level:          slog.LevelInfo,
		OutputFormat:   "json",
		AddSource:      false,
		EnableSampling: false,
		SampleRate:     1.0,
		EnableMetrics:  false,
		Timezone:       "UTC",
		Output:         os.Stdout,
	}
}

func New(serviceName string, cfg *Config) (*Logger, error) {
	tzName := cfg.Timezone
	if tzName == "" {
		tzName = "UTC"
	}
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", tzName, err)
	}

	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.OutputFormat == "json" {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	handler = NewLocalTimeHandler(handler, tz)
	handler = NewContextualHandler(handler)

	if cfg.EnableSampling && cfg.SampleRate < 1.0 {
		handler = NewSamplingHandler(handler, cfg.SampleRate)
	}

	if cfg.EnableMetrics {
		handler = NewMetricsHandler(handler, serviceName)
	}

	environment := os.Getenv("ENV")
	if environment == "" {
		environment = "development"
	}

	logger := slog.New(handler).With(
		slog.String("service", serviceName),
		slog.String("environment", environment),
		slog.Int("pid", os.Getpid()),
	)

	return &Logger{
		Logger:      logger,
		config:      cfg,
		serviceName: serviceName,
		environment: environment,
		timezone:    tz,
		levelVar:    levelVar,
	}, nil
}

// SetLevel dynamically changes the log level.
func (l *Logger) SetLevel(level slog.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levelVar.Set(level)
	l.config.Level = level
}

// GetLevel returns the current log level.
func (l *Logger) GetLevel() slog.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.Level
}

// Operation-specific loggers, one per core component.

func (l *Logger) ForUpload(uploadID string) *slog.Logger {
	return l.With(
		slog.String("operation", "upload"),
		slog.String("upload_id", uploadID),
	)
}

func (l *Logger) ForQueue(jobID string) *slog.Logger {
	return l.With(
		slog.String("component", "queue"),
		slog.String("job_id", jobID),
	)
}

func (l *Logger) ForWorker(jobID string) *slog.Logger {
	return l.With(
		slog.String("component", "worker"),
		slog.String("job_id", jobID),
	)
}

func (l *Logger) ForCleanup() *slog.Logger {
	return l.With(
		slog.String("component", "cleanup"),
	)
}

func (l *Logger) ForEngine(jobType string) *slog.Logger {
	return l.With(
		slog.String("component", "engine"),
		slog.String("job_type", jobType),
	)
}

// WithOperation creates a logger with operation context.
func (l *Logger) WithOperation(operation string) *slog.Logger {
	return l.With(slog.String("operation", operation))
}

// LogRequest logs HTTP request details.
func (l *Logger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	level := slog.LevelInfo
	if statusCode >= 500 {
		level = slog.LevelError
	} else if statusCode >= 400 {
		level = slog.LevelWarn
	}

	l.LogAttrs(ctx, level, "http request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", duration),
		slog.String("type", "http_request"),
	)
}

// GetTimezone returns the logger's timezone.
func (l *Logger) GetTimezone() *time.Location {
	return l.timezone
}
