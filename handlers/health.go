package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"mediapipe/config"
	"mediapipe/engine"
)

// HealthCheck handles GET /health: liveness plus a shallow view of disk
// pressure and the media engine's circuit breaker states.
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	diskFree, diskErr := engine.DiskFreeBytes(h.config.UploadsDir)

	status := fiber.Map{
		"status":    "healthy",
		"service":   "mediapipe",
		"version":   config.Version,
		"uptime":    time.Since(h.startTime).String(),
		"breakers":  h.engine.Breakers().AllStats(),
	}
	if diskErr != nil {
		status["disk_free_bytes"] = nil
		status["disk_check_error"] = diskErr.Error()
	} else {
		status["disk_free_bytes"] = diskFree
	}

	return c.JSON(status)
}
