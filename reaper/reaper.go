// Package reaper implements the maintenance collaborator that reclaims
// store entries whose persistence window has lapsed. The store itself only
// records eligibility; this package decides when to sweep.
package reaper

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/taskgrid/artifact-store/store"
	"github.com/taskgrid/artifact-store/telemetry"
)

// Config holds sweep configuration.
type Config struct {
	// Interval is how often to sweep. Default is 1 hour.
	Interval time.Duration

	// Logger for sweep events.
	Logger *slog.Logger
}

// Manager runs periodic sweeps against a FileStore.
type Manager struct {
	store    *store.FileStore
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewManager creates a new sweep manager.
func NewManager(s *store.FileStore, cfg Config) *Manager {
	if cfg.Interval == 0 {
		cfg.Interval = 1 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		store:    s,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins background sweeps.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running || m.stopped {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop stops background sweeps and waits for the current one to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running || m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Run immediately on start
	m.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep: expired entries are reaped and orphaned
// temp files from interrupted writes are cleaned up.
func (m *Manager) RunOnce(ctx context.Context) *store.ReapResult {
	start := m.now()

	result, err := m.store.Reap(ctx, start)
	if err != nil {
		m.logger.Error("sweep failed", "error", err)
		return result
	}

	tempRemoved := m.sweepTempFiles(start)

	duration := m.now().Sub(start)
	telemetry.RecordSweep(ctx, duration)
	telemetry.RecordEvictions(ctx, "expired", int64(result.Reaped))

	if result.Reaped > 0 || result.Errors > 0 || tempRemoved > 0 {
		m.logger.Info("sweep complete",
			"reaped", result.Reaped,
			"bytes_freed", result.BytesFreed,
			"temp_removed", tempRemoved,
			"errors", result.Errors,
			"duration", duration,
		)
	} else {
		m.logger.Debug("sweep complete, nothing to reap")
	}

	return result
}

// sweepTempFiles removes .tmp-* leftovers older than one interval. A fresh
// temp file may belong to an in-flight write and is left alone.
func (m *Manager) sweepTempFiles(now time.Time) int {
	cutoff := now.Add(-m.interval)
	removed := 0

	_ = filepath.WalkDir(m.store.Base(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err == nil {
			removed++
			m.logger.Debug("removed orphaned temp file", "path", path)
		}
		return nil
	})

	return removed
}
