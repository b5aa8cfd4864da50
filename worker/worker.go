// Package worker implements the single sequential processing loop: pop the
// next job, dispatch it to the media engine, persist the outcome, and
// release the input file's reference. Everything runs on one goroutine —
// jobs are never processed concurrently.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mediapipe/config"
	"mediapipe/jobs"
	"mediapipe/pkg/logging"
)

// Engine is the subset of engine.Engine the worker dispatches to, narrowed
// so tests can substitute a fake without touching ffmpeg at all.
type Engine interface {
	GetVideoMetadata(ctx context.Context, inputPath string) (map[string]interface{}, error)
	ExtractAudio(ctx context.Context, inputPath, outputPath string, quality int) error
	CompressVideo(ctx context.Context, inputPath, outputPath string, crf, fps int, audioBitrate string, maxThreads int) error
	CutAudio(ctx context.Context, inputPath, outputPath, start, end string) error
	ConcatAudios(ctx context.Context, inputPaths []string, outputPath, scratchDir string) error
	CaptureFrame(ctx context.Context, inputPath, outputPath, timestamp string, quality int) error
	ConvertToMP4(ctx context.Context, inputPath, outputPath string, maxThreads int) error
}

// Registry is the subset of uploads.Registry the worker releases references
// through once a job using an uploaded input finishes.
type Registry interface {
	DecrementRef(ctx context.Context, uploadID string, autoDelete bool) error
}

// Queue is the subset of jobs.Queue the worker loop drives.
type Queue interface {
	PopNext(ctx context.Context) (string, bool, error)
	GetStatus(ctx context.Context, jobID string) (jobs.Record, bool, error)
	UpdateStatus(ctx context.Context, jobID string, newStatus jobs.Status, upd jobs.StatusUpdate) error
	Reconcile(ctx context.Context) (requeued int, failedStale int, err error)
}

// Worker owns the sequential poll/process loop.
type Worker struct {
	cfg      *config.Config
	queue    Queue
	registry Registry
	engine   Engine
	logger   *logging.Logger

	pollInterval time.Duration
	resultsDir   string
	scratchDir   string

	// now is set to time.Now by New; no code in this package reads it.
	now func() time.Time
}

// New constructs a Worker wired against the real job queue, upload
// registry, and media engine.
func New(cfg *config.Config, queue Queue, registry Registry, eng Engine, logger *logging.Logger) *Worker {
	return &Worker{
		cfg:          cfg,
		queue:        queue,
		registry:     registry,
		engine:       eng,
		logger:       logger,
		pollInterval: cfg.EmptyQueuePollInterval,
		resultsDir:   cfg.ResultsDir,
		scratchDir:   cfg.ScratchDir,
		now:          time.Now,
	}
}

// Run pops and processes jobs until ctx is cancelled. On an empty queue it
// sleeps pollInterval before checking again rather than blocking on a
// pub/sub notification.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		jobID, ok, err := w.queue.PopNext(ctx)
		if err != nil {
			w.logger.ForWorker("").Error("pop_next failed", "error", err)
			if !w.sleep(ctx, w.pollInterval) {
				return ctx.Err()
			}
			continue
		}
		if !ok {
			if !w.sleep(ctx, w.pollInterval) {
				return ctx.Err()
			}
			continue
		}

		w.processJob(ctx, jobID)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// processJob runs one job end to end. Errors at any stage move the job to
// failed with a descriptive message rather than propagating, since the loop
// must keep running for the next job.
func (w *Worker) processJob(ctx context.Context, jobID string) {
	log := w.logger.ForWorker(jobID)

	rec, ok, err := w.queue.GetStatus(ctx, jobID)
	if err != nil || !ok {
		log.Error("job vanished before processing", "error", err)
		return
	}

	if err := w.queue.UpdateStatus(ctx, jobID, jobs.StatusProcessing, jobs.StatusUpdate{}); err != nil {
		log.Error("failed to mark processing", "error", err)
		return
	}

	// The engine call below must not inherit ctx's cancellation: a shutdown
	// signal suspends the loop between jobs, it never tears down a job
	// already in flight. Status bookkeeping after
	// the job finishes still uses ctx.
	outcome := w.dispatch(context.WithoutCancel(ctx), rec)
	w.release(ctx, rec)

	if outcome != nil {
		log.Warn("job failed", "error", outcome)
		if err := w.queue.UpdateStatus(ctx, jobID, jobs.StatusFailed, jobs.StatusUpdate{Error: outcome.Error()}); err != nil {
			log.Error("failed to mark failed", "error", err)
		}
		return
	}

	log.Info("job completed")
}

// dispatch runs the engine operation the job's type names, writing to a
// path under resultsDir. On success it marks the job completed with that
// output path and returns nil; otherwise it returns the error that failed
// the job.
func (w *Worker) dispatch(ctx context.Context, rec jobs.Record) error {
	log := w.logger.ForWorker(rec.ID)

	if _, err := os.Stat(rec.InputFile); err != nil {
		return logging.ErrMissingInput(rec.ID, rec.InputFile)
	}

	ext, ok := jobs.OutputExtension(rec.Type)
	if !ok {
		return logging.ErrValidation("type", fmt.Sprintf("unknown job type %q", rec.Type))
	}
	outputPath := filepath.Join(w.resultsDir, rec.ID+"_output."+ext)

	params := rec.Metadata.Parameters
	var runErr error

	switch rec.Type {
	case jobs.TypeGetMetadata:
		metadata, err := w.engine.GetVideoMetadata(ctx, rec.InputFile)
		if err != nil {
			runErr = logging.ErrEngineFailure(rec.ID, string(rec.Type), err)
		} else {
			runErr = writeJSON(outputPath, metadata)
		}

	case jobs.TypeExtractAudio:
		quality := paramInt(params, "quality", 2)
		if err := w.engine.ExtractAudio(ctx, rec.InputFile, outputPath, quality); err != nil {
			runErr = logging.ErrEngineFailure(rec.ID, string(rec.Type), err)
		}

	case jobs.TypeCompressVideo:
		crf := paramInt(params, "crf", 28)
		fps := paramInt(params, "fps", 30)
		audioBitrate := paramString(params, "audio_bitrate", "128k")
		maxThreads := paramInt(params, "max_threads", 0)
		if err := w.engine.CompressVideo(ctx, rec.InputFile, outputPath, crf, fps, audioBitrate, maxThreads); err != nil {
			runErr = logging.ErrEngineFailure(rec.ID, string(rec.Type), err)
		}

	case jobs.TypeCutAudio:
		start := paramString(params, "start", "00:00:00")
		end := paramString(params, "end", "00:00:00")
		if err := w.engine.CutAudio(ctx, rec.InputFile, outputPath, start, end); err != nil {
			runErr = logging.ErrEngineFailure(rec.ID, string(rec.Type), err)
		}

	case jobs.TypeConcatAudios:
		inputs := paramStringSlice(params, "input_files")
		if len(inputs) == 0 {
			inputs = []string{rec.InputFile}
		}
		if err := w.engine.ConcatAudios(ctx, inputs, outputPath, w.scratchDir); err != nil {
			runErr = logging.ErrEngineFailure(rec.ID, string(rec.Type), err)
		}

	case jobs.TypeCaptureFrame:
		timestamp := paramString(params, "timestamp", "00:00:01")
		quality := paramInt(params, "quality", 80)
		if err := w.engine.CaptureFrame(ctx, rec.InputFile, outputPath, timestamp, quality); err != nil {
			runErr = logging.ErrEngineFailure(rec.ID, string(rec.Type), err)
		}

	case jobs.TypeConvertMP4:
		maxThreads := paramInt(params, "max_threads", 0)
		if err := w.engine.ConvertToMP4(ctx, rec.InputFile, outputPath, maxThreads); err != nil {
			runErr = logging.ErrEngineFailure(rec.ID, string(rec.Type), err)
		}

	default:
		runErr = logging.ErrValidation("type", fmt.Sprintf("unhandled job type %q", rec.Type))
	}

	if runErr != nil {
		return runErr
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return logging.ErrNoOutput(rec.ID, outputPath)
	}

	progress := 100
	if err := w.queue.UpdateStatus(ctx, rec.ID, jobs.StatusCompleted, jobs.StatusUpdate{
		Progress:   &progress,
		OutputFile: outputPath,
	}); err != nil {
		log.Error("failed to mark completed", "error", err)
		return err
	}
	return nil
}

// release frees the input file's hold once the job has reached a terminal
// state. Uploaded inputs are released through the reference count, left for
// the cleanup loop's mtime sweep (the registry's auto_delete=false
// default); legacy inputs with no upload_id are deleted directly,
// best-effort.
func (w *Worker) release(ctx context.Context, rec jobs.Record) {
	log := w.logger.ForWorker(rec.ID)
	if rec.UploadID != "" {
		if err := w.registry.DecrementRef(ctx, rec.UploadID, false); err != nil {
			log.Warn("failed to decrement upload ref", "upload_id", rec.UploadID, "error", err)
		}
		return
	}
	if rec.InputFile == "" {
		return
	}
	if err := os.Remove(rec.InputFile); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove legacy input file", "path", rec.InputFile, "error", err)
	}
}

// Reconcile runs once at startup, before the loop begins, to recover from a
// prior worker crash.
func (w *Worker) Reconcile(ctx context.Context) error {
	requeued, failedStale, err := w.queue.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("worker: reconcile: %w", err)
	}
	w.logger.ForWorker("").Info("startup reconciliation complete",
		"requeued", requeued, "failed_stale", failedStale)
	return nil
}

func paramInt(params map[string]interface{}, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func paramString(params map[string]interface{}, key, def string) string {
	v, ok := params[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func paramStringSlice(params map[string]interface{}, key string) []string {
	v, ok := params[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func writeJSON(path string, data map[string]interface{}) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("worker: marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("worker: write output: %w", err)
	}
	return nil
}
