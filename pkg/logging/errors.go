package logging

import (
	"fmt"
	"log/slog"
)

// ErrorCode enumerates the pipeline's error kinds.
type ErrorCode string

const (
	ErrCodeValidation    ErrorCode = "VALIDATION"
	ErrCodeState         ErrorCode = "STATE"
	ErrCodeMissingInput  ErrorCode = "MISSING_INPUT"
	ErrCodeEngineFailure ErrorCode = "ENGINE_FAILURE"
	ErrCodeNoOutput      ErrorCode = "NO_OUTPUT"
	ErrCodeInUse         ErrorCode = "IN_USE"
	ErrCodeExpired       ErrorCode = "EXPIRED"
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
)

// PipelineError is the typed error carried through job creation, the
// worker loop, and the HTTP surface. It implements both error and
// slog.LogValuer so it can be logged structurally without string-munging.
type PipelineError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Operation string                 `json:"operation,omitempty"`
	JobID     string                 `json:"job_id,omitempty"`
	UploadID  string                 `json:"upload_id,omitempty"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Severity  string                 `json:"severity"`
}

// NewError creates a new PipelineError with default severity "error".
func NewError(code ErrorCode, message string) *PipelineError {
	return &PipelineError{
		Code:     code,
		Message:  message,
		Severity: "error",
		Context:  make(map[string]interface{}),
	}
}

// WithOperation adds operation context.
func (e *PipelineError) WithOperation(op string) *PipelineError {
	e.Operation = op
	return e
}

// WithJob adds job-id context.
func (e *PipelineError) WithJob(jobID string) *PipelineError {
	e.JobID = jobID
	return e
}

// WithUpload adds upload-id context.
func (e *PipelineError) WithUpload(uploadID string) *PipelineError {
	e.UploadID = uploadID
	return e
}

// WithCause adds the underlying error.
func (e *PipelineError) WithCause(err error) *PipelineError {
	e.Cause = err
	return e
}

// WithContext adds a key-value pair to the error context.
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LogValue implements slog.LogValuer for structured logging.
func (e *PipelineError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("error_code", string(e.Code)),
		slog.String("message", e.Message),
		slog.String("severity", e.Severity),
	}

	if e.Operation != "" {
		attrs = append(attrs, slog.String("operation", e.Operation))
	}
	if e.JobID != "" {
		attrs = append(attrs, slog.String("job_id", e.JobID))
	}
	if e.UploadID != "" {
		attrs = append(attrs, slog.String("upload_id", e.UploadID))
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}

	if len(e.Context) > 0 {
		contextAttrs := make([]any, 0, len(e.Context)*2)
		for k, v := range e.Context {
			contextAttrs = append(contextAttrs, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("context", contextAttrs...))
	}

	return slog.GroupValue(attrs...)
}

// Common error constructors, one per error kind.

// ErrValidation covers bad parameters, unknown job type, missing upload.
func ErrValidation(field, message string) *PipelineError {
	return NewError(ErrCodeValidation, message).
		WithContext("field", field).
		WithOperation("validation")
}

// ErrState covers cancel of a processing job, download of an incomplete job.
func ErrState(operation, message string) *PipelineError {
	return NewError(ErrCodeState, message).WithOperation(operation)
}

// ErrMissingInput covers an input file vanishing between upload and execution.
func ErrMissingInput(jobID, path string) *PipelineError {
	return NewError(ErrCodeMissingInput, fmt.Sprintf("input file not found: %s", path)).
		WithJob(jobID).
		WithOperation("worker_dispatch")
}

// ErrEngineFailure wraps a non-zero exit from the media engine.
func ErrEngineFailure(jobID, jobType string, cause error) *PipelineError {
	return NewError(ErrCodeEngineFailure, fmt.Sprintf("%s failed", jobType)).
		WithJob(jobID).
		WithCause(cause).
		WithOperation(jobType)
}

// ErrNoOutput covers the engine returning success but producing no file.
func ErrNoOutput(jobID, outputPath string) *PipelineError {
	return NewError(ErrCodeNoOutput, "engine produced no output file").
		WithJob(jobID).
		WithContext("output_path", outputPath)
}

// ErrInUse covers a manual delete blocked by ref_count > 0.
func ErrInUse(uploadID string, refCount int) *PipelineError {
	return NewError(ErrCodeInUse, "upload is still referenced").
		WithUpload(uploadID).
		WithContext("ref_count", refCount)
}

// ErrExpired covers a result file older than its TTL.
func ErrExpired(jobID string) *PipelineError {
	return NewError(ErrCodeExpired, "result has expired").WithJob(jobID)
}

// ErrInternal creates an internal error.
func ErrInternal(message string, cause error) *PipelineError {
	return NewError(ErrCodeInternal, message).
		WithCause(cause).
		WithOperation("internal")
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource string) *PipelineError {
	return NewError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource)
}
