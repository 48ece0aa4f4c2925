package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plexbridge/plexbridge/internal/config"
	"github.com/plexbridge/plexbridge/internal/models"
)

// CleanupStats reports how many rows a retention pass removed.
type CleanupStats struct {
	Programs int64 `json:"programs"`
	Sessions int64 `json:"sessions"`
	Logs     int64 `json:"logs"`
}

// Cleanup enforces the retention policy: guide programs whose end time
// passed more than ret.EPG ago, sessions started more than ret.Sessions ago,
// and log entries older than ret.Logs are deleted for good. Zero or negative
// retention windows skip the corresponding table.
func (db *DB) Cleanup(ctx context.Context, ret config.RetentionConfig) (CleanupStats, error) {
	var stats CleanupStats
	now := time.Now().UTC()

	if ret.EPG > 0 {
		res := db.DB.WithContext(ctx).Unscoped().
			Where("end_time < ?", now.Add(-ret.EPG)).
			Delete(&models.EpgProgram{})
		if res.Error != nil {
			return stats, fmt.Errorf("deleting expired programs: %w", res.Error)
		}
		stats.Programs = res.RowsAffected
	}

	if ret.Sessions > 0 {
		// Sessions older than the window are long ended; the stale sweep
		// terminates anything running past one hour.
		res := db.DB.WithContext(ctx).Unscoped().
			Where("started_at < ?", now.Add(-ret.Sessions)).
			Delete(&models.StreamSession{})
		if res.Error != nil {
			return stats, fmt.Errorf("deleting old sessions: %w", res.Error)
		}
		stats.Sessions = res.RowsAffected
	}

	if ret.Logs > 0 {
		res := db.DB.WithContext(ctx).Unscoped().
			Where("timestamp < ?", now.Add(-ret.Logs)).
			Delete(&models.LogEntry{})
		if res.Error != nil {
			return stats, fmt.Errorf("deleting old logs: %w", res.Error)
		}
		stats.Logs = res.RowsAffected
	}

	db.logger.Info("retention cleanup finished",
		slog.Int64("programs_deleted", stats.Programs),
		slog.Int64("sessions_deleted", stats.Sessions),
		slog.Int64("logs_deleted", stats.Logs),
	)

	return stats, nil
}

// Compact reclaims file space freed by a cleanup pass. VACUUM rewrites the
// whole database and takes the write lock, so it cannot run inside a
// transaction.
func (db *DB) Compact(ctx context.Context) error {
	start := time.Now()
	if err := db.DB.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("compacting database: %w", err)
	}
	db.logger.Info("database compacted", slog.Duration("elapsed", time.Since(start)))
	return nil
}
