// Package uploads implements the upload registry: the catalogue of
// on-disk input files, their metadata, and their reference count.
package uploads

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"mediapipe/pkg/logging"
)

// unusedTTLSeconds mirrors upload_svc.py's UPLOAD_TTL_UNUSED: an upload
// record with ref_count == 0 expires after 3 hours unless renewed.
const unusedTTLSeconds = int64(10800)

const indexKey = "uploads"

// Store is the subset of store.Client the registry needs, kept as a small
// interface so tests can substitute a miniredis-backed client without
// importing the concrete redis types here.
type Store interface {
	Set(ctx context.Context, key, value string) error
	SetWithTTL(ctx context.Context, key, value string, ttlSeconds int64) error
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, keys ...string) error
	Persist(ctx context.Context, key string) error
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, members ...string) error
	ZRevRange(ctx context.Context, key string, limit int64) ([]string, error)
}

// Record is the persisted state of a single upload.
type Record struct {
	UploadID    string  `json:"upload_id"`
	Filename    string  `json:"filename"`
	FilePath    string  `json:"file_path"`
	FileSizeMB  float64 `json:"file_size_mb"`
	UploadedAt  string  `json:"uploaded_at"`
	RefCount    int     `json:"ref_count"`
	Status      string  `json:"status"`
}

type Registry struct {
	store  Store
	logger *logging.Logger
}

func New(store Store, logger *logging.Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

func key(uploadID string) string {
	return "upload:" + uploadID
}

// Create writes a new upload record with ref_count = 0 and an unused-TTL
// expiry, and indexes it for listing. If uploadID is empty a fresh UUID is
// minted.
func (r *Registry) Create(ctx context.Context, filename, filePath string, sizeMB float64, uploadID string) (string, error) {
	if uploadID == "" {
		uploadID = uuid.New().String()
	}

	now := time.Now().UTC()
	rec := Record{
		UploadID:   uploadID,
		Filename:   filename,
		FilePath:   filePath,
		FileSizeMB: roundTwoDecimals(sizeMB),
		UploadedAt: now.Format(time.RFC3339),
		RefCount:   0,
		Status:     "ready",
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("uploads: marshal record: %w", err)
	}

	if err := r.store.SetWithTTL(ctx, key(uploadID), string(data), unusedTTLSeconds); err != nil {
		return "", fmt.Errorf("uploads: write record: %w", err)
	}
	if err := r.store.ZAdd(ctx, indexKey, float64(now.Unix()), uploadID); err != nil {
		return "", fmt.Errorf("uploads: index record: %w", err)
	}

	r.logger.ForUpload(uploadID).Info("upload created",
		"filename", filename, "size_mb", rec.FileSizeMB)
	return uploadID, nil
}

// Get returns the record, or (_, false, nil) if missing or expired.
func (r *Registry) Get(ctx context.Context, uploadID string) (Record, bool, error) {
	data, ok, err := r.store.Get(ctx, key(uploadID))
	if err != nil {
		return Record{}, false, fmt.Errorf("uploads: get %s: %w", uploadID, err)
	}
	if !ok {
		return Record{}, false, nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return Record{}, false, fmt.Errorf("uploads: unmarshal %s: %w", uploadID, err)
	}
	return rec, true, nil
}

// IncrementRef atomically increases ref_count by one and clears the TTL.
// Called exactly once per job creation that cites this upload.
func (r *Registry) IncrementRef(ctx context.Context, uploadID string) error {
	rec, ok, err := r.Get(ctx, uploadID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("uploads: increment_ref: %s not found", uploadID)
	}

	rec.RefCount++
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("uploads: marshal record: %w", err)
	}
	if err := r.store.Set(ctx, key(uploadID), string(data)); err != nil {
		return fmt.Errorf("uploads: write record: %w", err)
	}
	return r.store.Persist(ctx, key(uploadID))
}

// DecrementRef atomically decreases ref_count by one. If autoDelete is true
// and the new count is <= 0, the file and record are deleted; otherwise the
// record is kept alive for the cleanup loop's mtime sweep to reclaim (the
// default everywhere in this codebase — see DESIGN.md's Open Question
// decision).
func (r *Registry) DecrementRef(ctx context.Context, uploadID string, autoDelete bool) error {
	rec, ok, err := r.Get(ctx, uploadID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("uploads: decrement_ref: %s not found", uploadID)
	}

	rec.RefCount--

	if autoDelete && rec.RefCount <= 0 {
		return r.deleteRecord(ctx, rec)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("uploads: marshal record: %w", err)
	}
	if err := r.store.Set(ctx, key(uploadID), string(data)); err != nil {
		return fmt.Errorf("uploads: write record: %w", err)
	}
	r.logger.ForUpload(uploadID).Debug("ref decremented, left for mtime sweep",
		"ref_count", rec.RefCount)
	return nil
}

// List returns up to limit records, newest first.
func (r *Registry) List(ctx context.Context, limit int) ([]Record, error) {
	ids, err := r.store.ZRevRange(ctx, indexKey, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("uploads: list: %w", err)
	}

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, ok, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// DeleteManual refuses unless ref_count == 0; otherwise deletes the file
// and the record. Returns false (not an error) when blocked by a positive
// ref count, matching the caller-facing "in_use" error kind at the HTTP
// layer.
func (r *Registry) DeleteManual(ctx context.Context, uploadID string) (bool, error) {
	rec, ok, err := r.Get(ctx, uploadID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if rec.RefCount > 0 {
		return false, nil
	}
	if err := r.deleteRecord(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Registry) deleteRecord(ctx context.Context, rec Record) error {
	if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
		// Filesystem deletion errors are logged and swallowed — the record
		// is still removed.
		r.logger.ForUpload(rec.UploadID).Warn("failed to remove upload file",
			"path", rec.FilePath, "error", err)
	}
	if err := r.store.Del(ctx, key(rec.UploadID)); err != nil {
		return fmt.Errorf("uploads: delete record: %w", err)
	}
	if err := r.store.ZRem(ctx, indexKey, rec.UploadID); err != nil {
		return fmt.Errorf("uploads: unindex record: %w", err)
	}
	r.logger.ForUpload(rec.UploadID).Info("upload deleted")
	return nil
}

func roundTwoDecimals(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
