// Package handlers implements the HTTP surface: upload intake, job
// creation and inspection, administrative reset, and health.
package handlers

import (
	"time"

	"mediapipe/cleanup"
	"mediapipe/engine"
	"mediapipe/jobs"
	"mediapipe/pkg/logging"
	"mediapipe/uploads"

	"mediapipe/config"
)

// Handlers bundles every dependency the HTTP layer calls into. Constructed
// once in cmd/server/main.go and shared across all routes.
type Handlers struct {
	config  *config.Config
	logger  *logging.Logger
	uploads *uploads.Registry
	queue   *jobs.Queue
	engine  *engine.Engine
	cleaner *cleanup.Cleaner
	hub     *JobEventHub

	startTime time.Time
}

// New constructs the Handlers bundle.
func New(cfg *config.Config, logger *logging.Logger, uploadsReg *uploads.Registry, queue *jobs.Queue, eng *engine.Engine, cleaner *cleanup.Cleaner) *Handlers {
	return &Handlers{
		config:    cfg,
		logger:    logger,
		uploads:   uploadsReg,
		queue:     queue,
		engine:    eng,
		cleaner:   cleaner,
		hub:       NewJobEventHub(queue, logger),
		startTime: time.Now(),
	}
}
