package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/plexbridge/plexbridge/internal/models"
	"gorm.io/gorm"
)

// logRepo implements LogRepository using GORM.
type logRepo struct {
	db *gorm.DB
}

// NewLogRepository creates a new LogRepository.
func NewLogRepository(db *gorm.DB) *logRepo {
	return &logRepo{db: db}
}

// CreateBatch persists a batch of log entries. The database log sink
// flushes through here, so failures are returned rather than logged to
// avoid feeding the sink its own errors.
func (r *logRepo) CreateBatch(ctx context.Context, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(entries, 200).Error; err != nil {
		return fmt.Errorf("creating log batch: %w", err)
	}
	return nil
}

// apply adds the query's WHERE clauses onto a fresh chain. Count and Find
// each build their own chain so no statement is reused across finishers.
func (q LogQuery) apply(tx *gorm.DB) *gorm.DB {
	if q.Level != "" {
		tx = tx.Where("level = ?", strings.ToUpper(q.Level))
	}
	if q.Component != "" {
		tx = tx.Where("component = ?", q.Component)
	}
	if q.Search != "" {
		tx = tx.Where("LOWER(message) LIKE ?", "%"+strings.ToLower(q.Search)+"%")
	}
	if !q.Since.IsZero() {
		tx = tx.Where("timestamp >= ?", q.Since)
	}
	if !q.Until.IsZero() {
		tx = tx.Where("timestamp < ?", q.Until)
	}
	return tx
}

// Query retrieves entries matching the filter, newest first, along with
// the total match count before paging.
func (r *logRepo) Query(ctx context.Context, q LogQuery) ([]*models.LogEntry, int64, error) {
	var total int64
	if err := q.apply(r.db.WithContext(ctx).Model(&models.LogEntry{})).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting log entries: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var entries []*models.LogEntry
	if err := q.apply(r.db.WithContext(ctx)).
		Order("timestamp DESC").
		Offset(q.Offset).
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("querying log entries: %w", err)
	}
	return entries, total, nil
}

// Components returns the distinct component values with occurrence counts,
// most frequent first.
func (r *logRepo) Components(ctx context.Context) ([]FieldValueResult, error) {
	var results []FieldValueResult
	if err := r.db.WithContext(ctx).
		Model(&models.LogEntry{}).
		Select("component AS value, COUNT(*) AS count").
		Where("component != ''").
		Group("component").
		Order("count DESC, component ASC").
		Scan(&results).Error; err != nil {
		return nil, fmt.Errorf("getting log components: %w", err)
	}
	return results, nil
}

// DeleteBefore hard-deletes entries whose timestamp is before the cutoff
// and returns the number of rows removed.
func (r *logRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Unscoped().
		Where("timestamp < ?", cutoff).
		Delete(&models.LogEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting old log entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Clear hard-deletes all entries and returns the number of rows removed.
func (r *logRepo) Clear(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Unscoped().
		Where("1 = 1").
		Delete(&models.LogEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("clearing log entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure logRepo implements LogRepository.
var _ LogRepository = (*logRepo)(nil)
