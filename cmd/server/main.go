// Command server runs the HTTP process: upload intake, job creation and
// inspection, and administration. It never touches ffmpeg or the job
// queue's pop_next — that's cmd/worker's job, kept as a separate process.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mediapipe/cleanup"
	"mediapipe/config"
	"mediapipe/engine"
	"mediapipe/handlers"
	"mediapipe/jobs"
	"mediapipe/pkg/logging"
	"mediapipe/store"
	"mediapipe/uploads"
)

func main() {
	_ = godotenv.Load()
	cfg := config.New()

	logCfg := logging.ConfigForEnvironment(cfg.Environment)
	logCfg.Timezone = cfg.Timezone
	logCfg.Output = os.Stdout
	logger, err := logging.New("mediapipe-server", logCfg)
	if err != nil {
		panic(err)
	}

	for _, dir := range []string{cfg.UploadsDir, cfg.ResultsDir, cfg.ScratchDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create data directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	s := store.NewFromRedis(rdb)

	ctx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := s.Ping(ctx); err != nil {
		logger.Error("failed to reach key-value store", "addr", cfg.RedisAddr(), "error", err)
	}
	cancelPing()

	uploadRegistry := uploads.New(s, logger)
	jobQueue := jobs.New(s, uploadRegistry, logger)
	eng := engine.New(logger)
	cleaner := cleanup.New(cfg.ResultsDir, cfg.UploadsDir, cfg.ScratchDir, cfg.CleanupTTLHours, cfg.CleanupInterval, cfg.CleanupStartDelay, logger)

	h := handlers.New(cfg, logger, uploadRegistry, jobQueue, eng, cleaner)

	app := fiber.New(fiber.Config{
		BodyLimit:    int(cfg.MaxUploadSize),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ErrorHandler: logging.ErrorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(logging.FiberMiddleware(logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
	}))

	h.RegisterRoutes(app)

	go func() {
		addr := ":" + cfg.Port
		logger.Info("server listening", "addr", addr)
		if err := app.Listen(addr); err != nil {
			logger.Error("server stopped", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
