// Command worker runs the sequential job-processing loop and the cleanup
// sweep, kept in its own process from cmd/server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mediapipe/cleanup"
	"mediapipe/config"
	"mediapipe/engine"
	"mediapipe/jobs"
	"mediapipe/pkg/logging"
	"mediapipe/store"
	"mediapipe/uploads"
	"mediapipe/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.New()

	logCfg := logging.ConfigForEnvironment(cfg.Environment)
	logCfg.Timezone = cfg.Timezone
	logCfg.Output = os.Stdout
	logger, err := logging.New("mediapipe-worker", logCfg)
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

	uploadRegistry := uploads.New(s, logger)
	jobQueue := jobs.New(s, uploadRegistry, logger)
	eng := engine.New(logger)
	w := worker.New(cfg, jobQueue, uploadRegistry, eng, logger)
	cleaner := cleanup.New(cfg.ResultsDir, cfg.UploadsDir, cfg.ScratchDir, cfg.CleanupTTLHours, cfg.CleanupInterval, cfg.CleanupStartDelay, logger)

	ctx, cancel := context.WithCancel(context.Background())

	if err := w.Reconcile(ctx); err != nil {
		logger.Error("startup reconciliation failed", "error", err)
	}

	cleaner.Start(ctx)

	runErr := make(chan error, 1)
	go func() {
		runErr <- w.Run(ctx)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		logger.Info("shutting down")
		cancel()
		cleaner.Stop()
		<-runErr
	case err := <-runErr:
		logger.Error("worker loop exited", "error", err)
		cancel()
		cleaner.Stop()
	}
}
