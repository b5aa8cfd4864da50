// Package handlers: live job-progress push over a websocket. Each client
// subscribes to one job; the hub polls that job's record from the shared
// store rather than broadcasting from in-process state, since the server
// and worker are separate processes and progress only ever changes in the
// worker's process.
package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"

	"mediapipe/jobs"
	"mediapipe/pkg/logging"
)

// jobStatusReader is the slice of jobs.Queue the event hub polls.
type jobStatusReader interface {
	GetStatus(ctx context.Context, jobID string) (jobs.Record, bool, error)
}

// JobEventHub pushes job status changes to WebSocket subscribers by polling
// the shared store, the same cooperative-poll pattern the worker loop uses
// against the queue itself.
type JobEventHub struct {
	queue        jobStatusReader
	logger       *logging.Logger
	pollInterval time.Duration
}

// NewJobEventHub constructs a hub polling at 1-second intervals, matching
// the worker loop's EmptyQueuePollInterval default.
func NewJobEventHub(queue jobStatusReader, logger *logging.Logger) *JobEventHub {
	return &JobEventHub{queue: queue, logger: logger, pollInterval: time.Second}
}

type jobEventMessage struct {
	Type     string      `json:"type"`
	JobID    string      `json:"job_id"`
	Status   jobs.Status `json:"status"`
	Progress int         `json:"progress"`
	Error    string      `json:"error,omitempty"`
}

// HandleJobWebSocket streams status updates for one job until it reaches a
// terminal state or the client disconnects. A background goroutine drains
// client reads so a disconnect is noticed promptly instead of waiting out a
// full poll interval.
func (h *Handlers) HandleJobWebSocket(c *websocket.Conn) {
	jobID := c.Params("id")
	defer c.Close()

	ctx := context.Background()
	ticker := time.NewTicker(h.hub.pollInterval)
	defer ticker.Stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	lastStatus := jobs.Status("")
	lastProgress := -1

	for {
		rec, ok, err := h.hub.queue.GetStatus(ctx, jobID)
		if err != nil {
			h.hub.logger.ForQueue(jobID).Warn("job event poll failed", "error", err)
			return
		}
		if !ok {
			_ = c.WriteJSON(jobEventMessage{Type: "not_found", JobID: jobID})
			return
		}

		if rec.Status != lastStatus || rec.Progress != lastProgress {
			msg := jobEventMessage{
				Type:     "status",
				JobID:    jobID,
				Status:   rec.Status,
				Progress: rec.Progress,
				Error:    rec.Error,
			}
			if err := c.WriteJSON(msg); err != nil {
				return
			}
			lastStatus = rec.Status
			lastProgress = rec.Progress
		}

		if rec.Status == jobs.StatusCompleted || rec.Status == jobs.StatusFailed {
			return
		}

		select {
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}
