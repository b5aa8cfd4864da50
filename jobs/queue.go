// Package jobs implements the priority job queue: job creation, priority
// ordering, the processing state machine, cancellation, and aggregate stats.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"mediapipe/pkg/logging"
)

const (
	queueKey      = "job_queue"
	pendingKey    = "pending_jobs"
	processingKey = "processing_jobs"
	completedKey  = "completed_jobs"
	failedKey     = "failed_jobs"

	completedTTLSeconds = int64(8 * 60 * 60)      // 8h
	failedTTLSeconds    = int64(7 * 24 * 60 * 60) // 7d
)

// Store is the subset of store.Client the queue needs.
type Store interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttlSeconds int64) error
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, members ...string) error
	ZPopMin(ctx context.Context, key string) (string, bool, error)
	ZRangeAsc(ctx context.Context, key string, limit int64) ([]string, error)
	ZCard(ctx context.Context, key string) (int64, error)
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SCard(ctx context.Context, key string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	ZScore(ctx context.Context, key, member string) (float64, bool, error)
}

// UploadRegistry is the slice of uploads.Registry the queue calls into on
// job creation to bump the source upload's reference count.
type UploadRegistry interface {
	IncrementRef(ctx context.Context, uploadID string) error
}

type Queue struct {
	store  Store
	regs   UploadRegistry
	logger *logging.Logger
}

func New(store Store, registry UploadRegistry, logger *logging.Logger) *Queue {
	return &Queue{store: store, regs: registry, logger: logger}
}

func key(jobID string) string {
	return "job:" + jobID
}

// score computes the composite priority score:
// priority * 10^6 + created_at_unix_seconds, with sub-second tie-breaking
// within a priority band via the fractional second.
func score(priority int, created time.Time) float64 {
	return float64(priority)*1_000_000 + float64(created.Unix()) + created.Sub(created.Truncate(time.Second)).Seconds()
}

// Create mints a fresh job id, writes the pending record, and inserts it
// into the priority queue. If uploadID is present it increments that
// upload's reference count before returning.
func (q *Queue) Create(ctx context.Context, jobType Type, uploadID, inputFile, originalFilename string, sizeMB float64, parameters map[string]interface{}, priority int) (string, error) {
	jobID := uuid.New().String()
	now := time.Now().UTC()

	rec := Record{
		ID:        jobID,
		Status:    StatusPending,
		Type:      jobType,
		Priority:  priority,
		CreatedAt: now.Format(time.RFC3339),
		Progress:  0,
		InputFile: inputFile,
		UploadID:  uploadID,
		Metadata: Metadata{
			OriginalFilename: originalFilename,
			FileSizeMB:       sizeMB,
			Parameters:       parameters,
		},
	}

	if err := q.writeRecord(ctx, rec); err != nil {
		return "", err
	}

	s := score(priority, now)
	if err := q.store.ZAdd(ctx, queueKey, s, jobID); err != nil {
		return "", fmt.Errorf("jobs: enqueue: %w", err)
	}
	if err := q.store.ZAdd(ctx, pendingKey, s, jobID); err != nil {
		return "", fmt.Errorf("jobs: index pending: %w", err)
	}

	if uploadID != "" {
		if err := q.regs.IncrementRef(ctx, uploadID); err != nil {
			return "", fmt.Errorf("jobs: increment_ref %s: %w", uploadID, err)
		}
	}

	q.logger.ForQueue(jobID).Info("job created", "type", jobType, "priority", priority)
	return jobID, nil
}

// PopNext atomically removes and returns the lowest-scored entry from the
// queue. Non-blocking; returns ("", false, nil) when empty.
func (q *Queue) PopNext(ctx context.Context) (string, bool, error) {
	jobID, ok, err := q.store.ZPopMin(ctx, queueKey)
	if err != nil {
		return "", false, fmt.Errorf("jobs: pop_next: %w", err)
	}
	return jobID, ok, nil
}

// GetStatus returns the job record, or (_, false, nil) if missing.
func (q *Queue) GetStatus(ctx context.Context, jobID string) (Record, bool, error) {
	data, ok, err := q.store.Get(ctx, key(jobID))
	if err != nil {
		return Record{}, false, fmt.Errorf("jobs: get_status %s: %w", jobID, err)
	}
	if !ok {
		return Record{}, false, nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return Record{}, false, fmt.Errorf("jobs: unmarshal %s: %w", jobID, err)
	}
	return rec, true, nil
}

// StatusUpdate bundles the optional fields update_status may set.
type StatusUpdate struct {
	Progress   *int
	OutputFile string
	Error      string
}

// UpdateStatus enforces the pending -> processing -> {completed, failed}
// state machine (plus pending -> failed for cancellation); any other
// transition is rejected with an error.
func (q *Queue) UpdateStatus(ctx context.Context, jobID string, newStatus Status, upd StatusUpdate) error {
	rec, ok, err := q.GetStatus(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("jobs: update_status: %s not found", jobID)
	}

	legal := (rec.Status == StatusPending && (newStatus == StatusProcessing || newStatus == StatusFailed)) ||
		(rec.Status == StatusProcessing && (newStatus == StatusCompleted || newStatus == StatusFailed))
	if !legal {
		return fmt.Errorf("jobs: update_status %s: illegal transition %s -> %s", jobID, rec.Status, newStatus)
	}

	now := time.Now().UTC()

	switch newStatus {
	case StatusProcessing:
		rec.StartedAt = now.Format(time.RFC3339)
		if err := q.store.ZRem(ctx, pendingKey, jobID); err != nil {
			return fmt.Errorf("jobs: unindex pending: %w", err)
		}
		if err := q.store.SAdd(ctx, processingKey, jobID); err != nil {
			return fmt.Errorf("jobs: index processing: %w", err)
		}
	case StatusCompleted, StatusFailed:
		rec.CompletedAt = now.Format(time.RFC3339)
		if err := q.store.SRem(ctx, processingKey, jobID); err != nil {
			return fmt.Errorf("jobs: unindex processing: %w", err)
		}
		terminalKey := completedKey
		ttl := completedTTLSeconds
		if newStatus == StatusFailed {
			terminalKey = failedKey
			ttl = failedTTLSeconds
		}
		if err := q.store.ZAdd(ctx, terminalKey, float64(now.Unix()), jobID); err != nil {
			return fmt.Errorf("jobs: index terminal: %w", err)
		}
		if err := q.store.Expire(ctx, key(jobID), ttl); err != nil {
			return fmt.Errorf("jobs: set ttl: %w", err)
		}
	}

	rec.Status = newStatus
	if upd.Progress != nil {
		rec.Progress = *upd.Progress
	}
	if upd.OutputFile != "" {
		rec.OutputFile = upd.OutputFile
		rec.ResultURL = "/jobs/download/" + jobID
	}
	if upd.Error != "" {
		rec.Error = upd.Error
	}

	if err := q.writeRecord(ctx, rec); err != nil {
		return err
	}

	q.logger.ForQueue(jobID).Info("status updated", "status", newStatus)
	return nil
}

// Cancel is allowed only from pending; refuses in processing; a no-op in a
// terminal state. Returns true only on an actual pending->failed
// transition.
func (q *Queue) Cancel(ctx context.Context, jobID string) (bool, error) {
	rec, ok, err := q.GetStatus(ctx, jobID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if rec.Status != StatusPending {
		return false, nil
	}

	if err := q.store.ZRem(ctx, queueKey, jobID); err != nil {
		return false, fmt.Errorf("jobs: cancel: unindex queue: %w", err)
	}
	if err := q.store.ZRem(ctx, pendingKey, jobID); err != nil {
		return false, fmt.Errorf("jobs: cancel: unindex pending: %w", err)
	}

	if err := q.UpdateStatus(ctx, jobID, StatusFailed, StatusUpdate{Error: "cancelled by user"}); err != nil {
		return false, err
	}

	if rec.InputFile != "" {
		if err := os.Remove(rec.InputFile); err != nil && !os.IsNotExist(err) {
			q.logger.ForQueue(jobID).Warn("failed to remove input file on cancel", "path", rec.InputFile, "error", err)
		}
	}

	q.logger.ForQueue(jobID).Info("job cancelled")
	return true, nil
}

// Stats returns the cardinalities of the four tracked indices.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	queued, err := q.store.ZCard(ctx, queueKey)
	if err != nil {
		return Stats{}, fmt.Errorf("jobs: stats queued: %w", err)
	}
	processing, err := q.store.SCard(ctx, processingKey)
	if err != nil {
		return Stats{}, fmt.Errorf("jobs: stats processing: %w", err)
	}
	completed, err := q.store.ZCard(ctx, completedKey)
	if err != nil {
		return Stats{}, fmt.Errorf("jobs: stats completed: %w", err)
	}
	failed, err := q.store.ZCard(ctx, failedKey)
	if err != nil {
		return Stats{}, fmt.Errorf("jobs: stats failed: %w", err)
	}
	return Stats{
		Queued:      queued,
		Processing:  processing,
		Completed8h: completed,
		Failed7d:    failed,
	}, nil
}

// ListPending reads the queue ordered by score ascending and attaches a
// 1-based queue_position to each returned record.
func (q *Queue) ListPending(ctx context.Context, limit int) ([]Record, error) {
	ids, err := q.store.ZRangeAsc(ctx, queueKey, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("jobs: list_pending: %w", err)
	}

	records := make([]Record, 0, len(ids))
	for i, id := range ids {
		rec, ok, err := q.GetStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		rec.QueuePosition = i + 1
		records = append(records, rec)
	}
	return records, nil
}

// Reconcile recovers from a worker crash at startup: any job indexed as
// pending but missing from the
// priority queue is re-inserted using its originally indexed score, and any
// job still marked processing is rewritten to failed, since no worker is
// running to finish it.
func (q *Queue) Reconcile(ctx context.Context) (requeued int, failedStale int, err error) {
	pendingIDs, err := q.store.ZRangeAsc(ctx, pendingKey, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("jobs: reconcile: list pending: %w", err)
	}
	for _, jobID := range pendingIDs {
		s, ok, err := q.store.ZScore(ctx, queueKey, jobID)
		if err != nil {
			return requeued, failedStale, fmt.Errorf("jobs: reconcile: check queue membership: %w", err)
		}
		if ok {
			continue
		}
		s, ok, err = q.store.ZScore(ctx, pendingKey, jobID)
		if err != nil {
			return requeued, failedStale, fmt.Errorf("jobs: reconcile: read pending score: %w", err)
		}
		if !ok {
			continue
		}
		if err := q.store.ZAdd(ctx, queueKey, s, jobID); err != nil {
			return requeued, failedStale, fmt.Errorf("jobs: reconcile: requeue %s: %w", jobID, err)
		}
		q.logger.ForQueue(jobID).Warn("reconciled orphaned pending job back onto queue")
		requeued++
	}

	processingIDs, err := q.store.SMembers(ctx, processingKey)
	if err != nil {
		return requeued, failedStale, fmt.Errorf("jobs: reconcile: list processing: %w", err)
	}
	for _, jobID := range processingIDs {
		if err := q.UpdateStatus(ctx, jobID, StatusFailed, StatusUpdate{Error: "worker restart"}); err != nil {
			return requeued, failedStale, fmt.Errorf("jobs: reconcile: fail stale %s: %w", jobID, err)
		}
		q.logger.ForQueue(jobID).Warn("reconciled stale processing job to failed")
		failedStale++
	}

	return requeued, failedStale, nil
}

func (q *Queue) writeRecord(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("jobs: marshal record: %w", err)
	}
	if err := q.store.Set(ctx, key(rec.ID), string(data)); err != nil {
		return fmt.Errorf("jobs: write record: %w", err)
	}
	return nil
}
