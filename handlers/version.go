package handlers

import (
	"runtime"

	"github.com/gofiber/fiber/v2"

	"mediapipe/config"
)

// VersionInfo is returned by GET /version.
type VersionInfo struct {
	Version     string `json:"version"`
	Service     string `json:"service"`
	FullVersion string `json:"fullVersion"`
	BuildTime   string `json:"buildTime"`
	GitCommit   string `json:"gitCommit"`
	GoVersion   string `json:"goVersion"`
	Environment string `json:"environment"`
}

// GetVersion handles GET /version.
func (h *Handlers) GetVersion(c *fiber.Ctx) error {
	info := VersionInfo{
		Version:     config.Version,
		Service:     "mediapipe",
		FullVersion: config.GetFullVersion("mediapipe"),
		BuildTime:   config.BuildTime,
		GitCommit:   config.GitCommit,
		GoVersion:   runtime.Version(),
		Environment: h.config.Environment,
	}
	return c.JSON(info)
}
