package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes wires every handler onto app, grouped by resource:
// uploads, jobs, and admin/health.
func (h *Handlers) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)
	app.Get("/version", h.GetVersion)

	uploadsGroup := app.Group("/upload")
	uploadsGroup.Post("/", h.CreateUpload)
	uploadsGroup.Post("/local", h.CreateLocalUpload)
	uploadsGroup.Get("/:id", h.GetUpload)
	uploadsGroup.Delete("/:id", h.DeleteUpload)
	app.Get("/uploads", h.ListUploads)

	jobsGroup := app.Group("/jobs")
	jobsGroup.Post("/create", h.CreateJob)
	jobsGroup.Get("/status/:id", h.GetJobStatus)
	jobsGroup.Get("/queue", h.ListQueuedJobs)
	jobsGroup.Get("/download/:id", h.DownloadJobResult)
	jobsGroup.Get("/stats", h.JobStats)
	jobsGroup.Delete("/:id", h.CancelJob)

	app.Delete("/reset", h.Reset)
	app.Get("/admin/disk-stats", h.DiskStats)

	app.Use("/ws/jobs/:id", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:id", websocket.New(h.HandleJobWebSocket))
}
