package handlers

import (
	"github.com/gofiber/fiber/v2"

	"mediapipe/pkg/logging"
)

// writeError maps a *logging.PipelineError to an HTTP status and JSON body.
// Any other error is treated as internal.
func writeError(c *fiber.Ctx, err error) error {
	pe, ok := err.(*logging.PipelineError)
	if !ok {
		pe = logging.ErrInternal("unexpected error", err)
	}

	status := fiber.StatusInternalServerError
	switch pe.Code {
	case logging.ErrCodeValidation:
		status = fiber.StatusBadRequest
	case logging.ErrCodeState, logging.ErrCodeInUse:
		status = fiber.StatusBadRequest
	case logging.ErrCodeMissingInput, logging.ErrCodeNotFound, logging.ErrCodeExpired:
		status = fiber.StatusNotFound
	case logging.ErrCodeEngineFailure, logging.ErrCodeNoOutput, logging.ErrCodeInternal:
		status = fiber.StatusInternalServerError
	}

	return c.Status(status).JSON(fiber.Map{
		"error": pe.Code,
		"message": pe.Message,
	})
}
