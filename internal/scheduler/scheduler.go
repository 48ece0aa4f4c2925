// Package scheduler runs periodic maintenance on a cron schedule: the
// retention pass that trims expired guide programs, old session history and
// old logs, followed by database compaction.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/plexbridge/plexbridge/internal/config"
	"github.com/plexbridge/plexbridge/internal/database"
	"github.com/plexbridge/plexbridge/internal/observability"
)

// runTimeout bounds one maintenance pass. VACUUM on a large database is the
// slow part.
const runTimeout = 30 * time.Minute

// Maintenance owns the cron runner for the retention job.
type Maintenance struct {
	db        *database.DB
	retention config.RetentionConfig
	logger    *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	runMu  sync.Mutex // serializes passes if a run overlaps the next tick
	lastOK time.Time
}

// New creates the maintenance scheduler. The cron expression in the
// retention config uses six fields (with seconds), matching the config
// default "0 0 3 * * *".
func New(db *database.DB, retention config.RetentionConfig, logger *slog.Logger) *Maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintenance{
		db:        db,
		retention: retention,
		logger:    observability.WithComponent(logger, "scheduler"),
	}
}

// Start validates the schedule and begins running. It returns immediately;
// jobs run on the cron goroutine until Stop.
func (m *Maintenance) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	runner := cron.New(cron.WithSeconds())
	if _, err := runner.AddFunc(m.retention.CleanupCron, m.runScheduled); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", m.retention.CleanupCron, err)
	}
	runner.Start()
	m.cron = runner

	m.logger.Info("maintenance scheduler started",
		slog.String("schedule", m.retention.CleanupCron),
		slog.Duration("epg_retention", m.retention.EPG),
		slog.Duration("session_retention", m.retention.Sessions),
		slog.Duration("log_retention", m.retention.Logs),
	)
	return nil
}

// Stop halts the cron runner and waits for a running pass to finish.
func (m *Maintenance) Stop() {
	m.mu.Lock()
	runner := m.cron
	m.cron = nil
	m.mu.Unlock()
	if runner == nil {
		return
	}

	ctx := runner.Stop()
	<-ctx.Done()
	m.logger.Info("maintenance scheduler stopped")
}

// LastSuccess returns when the last pass completed without error, zero when
// none has.
func (m *Maintenance) LastSuccess() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOK
}

func (m *Maintenance) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	if _, err := m.RunOnce(ctx); err != nil {
		m.logger.Error("maintenance pass failed", slog.String("error", err.Error()))
	}
}

// RunOnce executes one maintenance pass: retention cleanup, then compaction
// when anything was removed. Exposed so the serve command can trigger an
// initial pass at startup.
func (m *Maintenance) RunOnce(ctx context.Context) (database.CleanupStats, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	start := time.Now()
	stats, err := m.db.Cleanup(ctx, m.retention)
	if err != nil {
		return stats, err
	}

	if stats.Programs+stats.Sessions+stats.Logs > 0 {
		if err := m.db.Compact(ctx); err != nil {
			return stats, err
		}
	}

	m.logger.Info("maintenance pass finished",
		slog.Int64("programs_deleted", stats.Programs),
		slog.Int64("sessions_deleted", stats.Sessions),
		slog.Int64("logs_deleted", stats.Logs),
		slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
	)

	m.mu.Lock()
	m.lastOK = time.Now()
	m.mu.Unlock()
	return stats, nil
}
