package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/plexbridge/plexbridge/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// epgProgramRepo implements EpgProgramRepository using GORM.
type epgProgramRepo struct {
	db *gorm.DB
}

// NewEpgProgramRepository creates a new EpgProgramRepository.
func NewEpgProgramRepository(db *gorm.DB) *epgProgramRepo {
	return &epgProgramRepo{db: db}
}

// UpsertBatch inserts or updates programs keyed on
// (source_id, channel_id, start_time). Guide refreshes re-deliver the
// same schedule window, so conflicting rows get their details refreshed
// in place instead of failing the batch.
func (r *epgProgramRepo) UpsertBatch(ctx context.Context, programs []*models.EpgProgram) error {
	if len(programs) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_id"}, {Name: "channel_id"}, {Name: "start_time"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"end_time", "title", "sub_title", "description", "category",
			"icon", "episode_num", "rating", "language", "is_new", "is_live",
			"updated_at",
		}),
	}).CreateInBatches(programs, 200).Error; err != nil {
		return fmt.Errorf("upserting programs: %w", err)
	}
	return nil
}

// GetByChannelID retrieves programs for a guide channel overlapping
// [start, end), ordered by start time.
func (r *epgProgramRepo) GetByChannelID(ctx context.Context, channelID string, start, end time.Time) ([]*models.EpgProgram, error) {
	var programs []*models.EpgProgram
	if err := r.db.WithContext(ctx).
		Where("channel_id = ? AND end_time > ? AND start_time < ?", channelID, start, end).
		Order("start_time ASC").
		Find(&programs).Error; err != nil {
		return nil, fmt.Errorf("getting programs by channel: %w", err)
	}
	return programs, nil
}

// GetCurrent retrieves the program airing on a guide channel at the given
// instant. When overlapping sources disagree the latest starter wins.
func (r *epgProgramRepo) GetCurrent(ctx context.Context, channelID string, at time.Time) (*models.EpgProgram, error) {
	var program models.EpgProgram
	if err := r.db.WithContext(ctx).
		Where("channel_id = ? AND start_time <= ? AND end_time > ?", channelID, at, at).
		Order("start_time DESC").
		First(&program).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting current program: %w", err)
	}
	return &program, nil
}

// GetNext retrieves the first program starting after the given instant.
func (r *epgProgramRepo) GetNext(ctx context.Context, channelID string, at time.Time) (*models.EpgProgram, error) {
	var program models.EpgProgram
	if err := r.db.WithContext(ctx).
		Where("channel_id = ? AND start_time > ?", channelID, at).
		Order("start_time ASC").
		First(&program).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting next program: %w", err)
	}
	return &program, nil
}

// GetBySourceID streams all programs for a source through the callback,
// ordered by channel then start time. Row-at-a-time scanning keeps memory
// flat when exporting multi-day guides.
func (r *epgProgramRepo) GetBySourceID(ctx context.Context, sourceID models.ULID, callback func(*models.EpgProgram) error) error {
	rows, err := r.db.WithContext(ctx).
		Model(&models.EpgProgram{}).
		Where("source_id = ?", sourceID).
		Order("channel_id ASC, start_time ASC").
		Rows()
	if err != nil {
		return fmt.Errorf("querying programs by source: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var program models.EpgProgram
		if err := r.db.ScanRows(rows, &program); err != nil {
			return fmt.Errorf("scanning program row: %w", err)
		}
		if err := callback(&program); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DeleteBySourceID hard-deletes all programs for a source. Soft deletes
// would leave rows that collide with the (source_id, channel_id,
// start_time) unique index on the next refresh.
func (r *epgProgramRepo) DeleteBySourceID(ctx context.Context, sourceID models.ULID) error {
	if err := r.db.WithContext(ctx).
		Unscoped().
		Where("source_id = ?", sourceID).
		Delete(&models.EpgProgram{}).Error; err != nil {
		return fmt.Errorf("deleting programs by source: %w", err)
	}
	return nil
}

// DeleteEndedBefore hard-deletes programs whose end time is before the
// cutoff and returns the number of rows removed.
func (r *epgProgramRepo) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Unscoped().
		Where("end_time < ?", cutoff).
		Delete(&models.EpgProgram{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting ended programs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountBySourceID returns the number of programs for a source.
func (r *epgProgramRepo) CountBySourceID(ctx context.Context, sourceID models.ULID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.EpgProgram{}).
		Where("source_id = ?", sourceID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting programs by source: %w", err)
	}
	return count, nil
}

// Count returns the total number of programs.
func (r *epgProgramRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.EpgProgram{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting programs: %w", err)
	}
	return count, nil
}

// Ensure epgProgramRepo implements EpgProgramRepository.
var _ EpgProgramRepository = (*epgProgramRepo)(nil)
