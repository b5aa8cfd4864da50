// Package cleanup implements a TTL-based mtime sweep: a background loop
// that deletes files older than a TTL from the results, uploads, and
// scratch directories, plus a synchronous force-sweep entry point for the
// /reset endpoint.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mediapipe/pkg/logging"
)

// DirStats mirrors cleanup_svc.py's get_directory_stats() return shape,
// surfaced at /admin/disk-stats.
type DirStats struct {
	Path        string  `json:"path"`
	Exists      bool    `json:"exists"`
	TotalFiles  int     `json:"total_files"`
	TotalSizeMB float64 `json:"total_size_mb"`
	TTLHours    int     `json:"ttl_hours"`
}

// Cleaner runs the periodic mtime sweep over the results, uploads, and
// scratch directories.
type Cleaner struct {
	resultsDir string
	uploadsDir string
	scratchDir string
	ttlHours   int
	interval   time.Duration
	startDelay time.Duration
	logger     *logging.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup

	// now is injectable so tests can control what "too old" means without
	// waiting on real time, grounded on mondragon-ai-packfinderz-backend's
	// cron test style.
	now func() time.Time
}

// New constructs a Cleaner. ttlHours is the default sweep age; interval and
// startDelay shape the background loop (a 5-minute startup delay, then
// hourly ticks).
func New(resultsDir, uploadsDir, scratchDir string, ttlHours int, interval, startDelay time.Duration, logger *logging.Logger) *Cleaner {
	return &Cleaner{
		resultsDir: resultsDir,
		uploadsDir: uploadsDir,
		scratchDir: scratchDir,
		ttlHours:   ttlHours,
		interval:   interval,
		startDelay: startDelay,
		logger:     logger,
		stopChan:   make(chan struct{}),
		now:        time.Now,
	}
}

// Start launches the background sweep loop. It waits startDelay before the
// first sweep, then sweeps every interval, until Stop is called or ctx is
// cancelled.
func (c *Cleaner) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (c *Cleaner) Stop() {
	close(c.stopChan)
	c.wg.Wait()
}

func (c *Cleaner) run(ctx context.Context) {
	defer c.wg.Done()

	startTimer := time.NewTimer(c.startDelay)
	defer startTimer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-c.stopChan:
		return
	case <-startTimer.C:
	}

	c.sweepOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.sweepOnce(ctx)
		}
	}
}

func (c *Cleaner) sweepOnce(ctx context.Context) {
	log := c.logger.ForCleanup()
	resultsDeleted, resultsErr := c.sweepDir(c.resultsDir, c.ttlHours)
	if resultsErr != nil {
		log.Error("sweep results dir failed", "dir", c.resultsDir, "error", resultsErr)
	}
	uploadsDeleted, uploadsErr := c.sweepDir(c.uploadsDir, c.ttlHours)
	if uploadsErr != nil {
		log.Error("sweep uploads dir failed", "dir", c.uploadsDir, "error", uploadsErr)
	}
	scratchDeleted, scratchErr := c.sweepDir(c.scratchDir, c.ttlHours)
	if scratchErr != nil {
		log.Error("sweep scratch dir failed", "dir", c.scratchDir, "error", scratchErr)
	}
	log.Info("sweep complete",
		"results_deleted", resultsDeleted, "uploads_deleted", uploadsDeleted, "scratch_deleted", scratchDeleted)
}

// ForceSweep runs a sweep synchronously, bypassing the interval loop — the
// /reset endpoint's entry point. ttlHours == 0 means delete every file in
// all three directories regardless of age.
func (c *Cleaner) ForceSweep(ttlHours int) (resultsDeleted, uploadsDeleted, scratchDeleted int, err error) {
	resultsDeleted, err = c.sweepDir(c.resultsDir, ttlHours)
	if err != nil {
		return resultsDeleted, 0, 0, err
	}
	uploadsDeleted, err = c.sweepDir(c.uploadsDir, ttlHours)
	if err != nil {
		return resultsDeleted, uploadsDeleted, 0, err
	}
	scratchDeleted, err = c.sweepDir(c.scratchDir, ttlHours)
	if err != nil {
		return resultsDeleted, uploadsDeleted, scratchDeleted, err
	}
	c.logger.ForCleanup().Info("forced sweep complete",
		"ttl_hours", ttlHours,
		"results_deleted", resultsDeleted, "uploads_deleted", uploadsDeleted, "scratch_deleted", scratchDeleted)
	return resultsDeleted, uploadsDeleted, scratchDeleted, nil
}

// sweepDir deletes every regular file directly under dir whose mtime is
// older than ttlHours. Non-recursive, matching cleanup_svc.py's
// cleanup_old_files (subdirectories are left alone). A file delete error is
// logged and does not abort the sweep of the remaining files.
func (c *Cleaner) sweepDir(dir string, ttlHours int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := c.now().Add(-time.Duration(ttlHours) * time.Hour)
	deleted := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			c.logger.ForCleanup().Warn("failed to stat entry during sweep", "path", path, "error", err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			c.logger.ForCleanup().Warn("failed to remove expired file", "path", path, "error", err)
			continue
		}
		deleted++
	}

	return deleted, nil
}

// DirectoryStats reports the current file count and total size for each
// swept directory, the way cleanup_svc.py's get_directory_stats does,
// surfaced at /admin/disk-stats.
func (c *Cleaner) DirectoryStats() []DirStats {
	return []DirStats{
		c.statDir(c.resultsDir),
		c.statDir(c.uploadsDir),
		c.statDir(c.scratchDir),
	}
}

func (c *Cleaner) statDir(dir string) DirStats {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return DirStats{Path: dir, Exists: false, TTLHours: c.ttlHours}
	}

	var totalBytes int64
	files := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		totalBytes += info.Size()
		files++
	}

	return DirStats{
		Path:        dir,
		Exists:      true,
		TotalFiles:  files,
		TotalSizeMB: float64(totalBytes) / (1024 * 1024),
		TTLHours:    c.ttlHours,
	}
}
