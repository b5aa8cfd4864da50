// Upload intake handlers: stream a multipart file or register one already
// on disk into the upload registry.
package handlers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"mediapipe/pkg/logging"
)

const bytesPerMB = 1024 * 1024

// CreateUpload handles POST /upload: a single multipart file field "file"
// is streamed to UploadsDir and registered with ref_count 0.
func (h *Handlers) CreateUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return writeError(c, logging.ErrValidation("file", "multipart field \"file\" is required"))
	}

	uploadID := uuid.New().String()
	destName := uploadID + "_" + fileHeader.Filename
	destPath := filepath.Join(h.config.UploadsDir, destName)

	if err := c.SaveFile(fileHeader, destPath); err != nil {
		return writeError(c, logging.ErrInternal("failed to save uploaded file", err))
	}

	sizeMB := float64(fileHeader.Size) / bytesPerMB
	uploadID, err = h.uploads.Create(c.Context(), fileHeader.Filename, destPath, sizeMB, uploadID)
	if err != nil {
		return writeError(c, logging.ErrInternal("failed to register upload", err))
	}

	rec, _, err := h.uploads.Get(c.Context(), uploadID)
	if err != nil {
		return writeError(c, logging.ErrInternal("failed to read back upload", err))
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

type localUploadRequest struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

// CreateLocalUpload handles POST /upload/local: registers a file already
// present on the shared disk, moving it into UploadsDir rather than leaving
// it in place.
func (h *Handlers) CreateLocalUpload(c *fiber.Ctx) error {
	var req localUploadRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, logging.ErrValidation("body", "invalid JSON body"))
	}
	if req.Path == "" {
		return writeError(c, logging.ErrValidation("path", "path is required"))
	}

	info, err := os.Stat(req.Path)
	if err != nil {
		return writeError(c, logging.ErrMissingInput("", req.Path))
	}

	filename := req.Filename
	if filename == "" {
		filename = filepath.Base(req.Path)
	}

	uploadID := uuid.New().String()
	destPath := filepath.Join(h.config.UploadsDir, uploadID+"_"+filename)
	if err := moveFile(req.Path, destPath); err != nil {
		return writeError(c, logging.ErrInternal("failed to move local file", err))
	}

	sizeMB := float64(info.Size()) / bytesPerMB
	uploadID, err = h.uploads.Create(c.Context(), filename, destPath, sizeMB, uploadID)
	if err != nil {
		return writeError(c, logging.ErrInternal("failed to register upload", err))
	}

	rec, _, err := h.uploads.Get(c.Context(), uploadID)
	if err != nil {
		return writeError(c, logging.ErrInternal("failed to read back upload", err))
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

// GetUpload handles GET /upload/{id}.
func (h *Handlers) GetUpload(c *fiber.Ctx) error {
	id := c.Params("id")
	rec, ok, err := h.uploads.Get(c.Context(), id)
	if err != nil {
		return writeError(c, logging.ErrInternal("failed to read upload", err))
	}
	if !ok {
		return writeError(c, logging.ErrNotFound(fmt.Sprintf("upload %s", id)))
	}
	return c.JSON(rec)
}

// ListUploads handles GET /uploads?limit=N.
func (h *Handlers) ListUploads(c *fiber.Ctx) error {
	limit := parseLimit(c, 50)
	records, err := h.uploads.List(c.Context(), limit)
	if err != nil {
		return writeError(c, logging.ErrInternal("failed to list uploads", err))
	}
	return c.JSON(fiber.Map{"uploads": records})
}

// DeleteUpload handles DELETE /upload/{id}. Refused (400, in_use) while
// ref_count is still positive.
func (h *Handlers) DeleteUpload(c *fiber.Ctx) error {
	id := c.Params("id")
	rec, ok, err := h.uploads.Get(c.Context(), id)
	if err != nil {
		return writeError(c, logging.ErrInternal("failed to read upload", err))
	}
	if !ok {
		return writeError(c, logging.ErrNotFound(fmt.Sprintf("upload %s", id)))
	}

	deleted, err := h.uploads.DeleteManual(c.Context(), id)
	if err != nil {
		return writeError(c, logging.ErrInternal("failed to delete upload", err))
	}
	if !deleted {
		return writeError(c, logging.ErrInUse(id, rec.RefCount))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func parseLimit(c *fiber.Ctx, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// os.Rename fails across filesystems/devices; fall back to copy+remove.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return os.Remove(src)
}
