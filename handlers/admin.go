// Administrative handlers: the synchronous reset sweep and the disk-usage
// surface.
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"mediapipe/pkg/logging"
)

// Reset handles DELETE /reset: a synchronous, zero-TTL sweep of the
// results, uploads, and scratch directories, for operators clearing disk
// space without waiting for the next hourly tick.
func (h *Handlers) Reset(c *fiber.Ctx) error {
	resultsDeleted, uploadsDeleted, scratchDeleted, err := h.cleaner.ForceSweep(0)
	if err != nil {
		return writeError(c, logging.ErrInternal("forced sweep failed", err))
	}
	return c.JSON(fiber.Map{
		"results_deleted": resultsDeleted,
		"uploads_deleted": uploadsDeleted,
		"scratch_deleted": scratchDeleted,
	})
}

// DiskStats handles GET /admin/disk-stats.
func (h *Handlers) DiskStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"directories": h.cleaner.DirectoryStats()})
}
