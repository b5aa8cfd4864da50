// Job creation and inspection handlers.
package handlers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"mediapipe/jobs"
	"mediapipe/pkg/logging"
)

type createJobRequest struct {
	Type       string                 `json:"type"`
	UploadID   string                 `json:"upload_id"`
	InputFile  string                 `json:"input_file"`
	Priority   *int                   `json:"priority"`
	Parameters map[string]interface{} `json:"parameters"`
}

// CreateJob handles POST /jobs/create. The input is resolved either from
// an upload_id (the usual path, incrementing that upload's ref_count) or a
// bare input_file path (the legacy path, for operating directly on disk
// paths outside the upload registry).
func (h *Handlers) CreateJob(c *fiber.Ctx) error {
	var req createJobRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, logging.ErrValidation("body", "invalid JSON body"))
	}

	jobType := jobs.Type(req.Type)
	defaultPriority, known := jobs.DefaultPriority(jobType)
	if !known {
		return writeError(c, logging.ErrValidation("type", fmt.Sprintf("unknown job type %q", req.Type)))
	}

	priority := defaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	var (
		inputFile        string
		originalFilename string
		sizeMB           float64
	)

	if req.UploadID != "" {
		rec, ok, err := h.uploads.Get(c.Context(), req.UploadID)
		if err != nil {
			return writeError(c, logging.ErrInternal("failed to read upload", err))
		}
		if !ok {
			return writeError(c, logging.ErrNotFound(fmt.Sprintf("upload %s", req.UploadID)))
		}
		inputFile = rec.FilePath
		originalFilename = rec.Filename
		sizeMB = rec.FileSizeMB
	} else if req.InputFile != "" {
		info, err := os.Stat(req.InputFile)
		if err != nil {
			return writeError(c, logging.ErrMissingInput("", req.InputFile))
		}
		inputFile = req.InputFile
		originalFilename = req.InputFile
		sizeMB = float64(info.Size()) / bytesPerMB
	} else {
		return writeError(c, logging.ErrValidation("upload_id", "either upload_id or input_file is required"))
	}

	jobID, err := h.queue.Create(c.Context(), jobType, req.UploadID, inputFile, originalFilename, sizeMB, req.Parameters, priority)
	if err != nil {
		return writeError(c, logging.ErrInternal("failed to create job", err))
	}

	rec, _, err := h.queue.GetStatus(c.Context(), jobID)
	if err != nil {
		return writeError(c, logging.ErrInternal("failed to read back job", err))
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

// GetJobStatus handles GET /jobs/status/{id}.
func (h *Handlers) GetJobStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	rec, ok, err := h.queue.GetStatus(c.Context(), id)
	if err != nil {
		return writeError(c, logging.ErrInternal("failed to read job", err))
	}
	if !ok {
		return writeError(c, logging.ErrNotFound(fmt.Sprintf("job %s", id)))
	}
	return c.JSON(rec)
}

// ListQueuedJobs handles GET /jobs/queue?limit=N: the first 50 (default)
// pending jobs in service order, plus the aggregate stats block.
func (h *Handlers) ListQueuedJobs(c *fiber.Ctx) error {
	limit := parseLimit(c, 50)
	records, err := h.queue.ListPending(c.Context(), limit)
	if err != nil {
		return writeError(c, logging.ErrInternal("failed to list queue", err))
	}
	stats, err := h.queue.Stats(c.Context())
	if err != nil {
		return writeError(c, logging.ErrInternal("failed to read stats", err))
	}
	return c.JSON(fiber.Map{
		"jobs":          records,
		"stats":         stats,
		"total_pending": stats.Queued,
	})
}

// DownloadJobResult handles GET /jobs/download/{id}. Refuses (400) unless
// the job is completed, and reports 404 if the result has already been
// reclaimed by the cleanup sweep.
func (h *Handlers) DownloadJobResult(c *fiber.Ctx) error {
	id := c.Params("id")
	rec, ok, err := h.queue.GetStatus(c.Context(), id)
	if err != nil {
		return writeError(c, logging.ErrInternal("failed to read job", err))
	}
	if !ok {
		return writeError(c, logging.ErrNotFound(fmt.Sprintf("job %s", id)))
	}
	if rec.Status != jobs.StatusCompleted {
		return writeError(c, logging.ErrState("download", fmt.Sprintf("job is %s", rec.Status)))
	}
	if _, err := os.Stat(rec.OutputFile); err != nil {
		return writeError(c, logging.ErrExpired(id))
	}
	c.Set(fiber.HeaderContentType, resultContentType(rec.OutputFile))
	return c.SendFile(rec.OutputFile, false)
}

// resultContentType maps a result file's extension to the MIME type the
// HTTP surface promises for it, independent of the OS mime database.
func resultContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".webp":
		return "image/webp"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// CancelJob handles DELETE /jobs/{id}. Only pending jobs can be cancelled.
func (h *Handlers) CancelJob(c *fiber.Ctx) error {
	id := c.Params("id")
	ok, err := h.queue.Cancel(c.Context(), id)
	if err != nil {
		return writeError(c, logging.ErrInternal("failed to cancel job", err))
	}
	if !ok {
		return writeError(c, logging.ErrState("cancel", "job is not pending"))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// JobStats handles GET /jobs/stats.
func (h *Handlers) JobStats(c *fiber.Ctx) error {
	stats, err := h.queue.Stats(c.Context())
	if err != nil {
		return writeError(c, logging.ErrInternal("failed to read stats", err))
	}
	return c.JSON(stats)
}
