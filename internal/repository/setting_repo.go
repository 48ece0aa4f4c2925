package repository

import (
	"context"
	"fmt"

	"github.com/plexbridge/plexbridge/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// settingRepo implements SettingRepository using GORM.
type settingRepo struct {
	db *gorm.DB
}

// NewSettingRepository creates a new SettingRepository.
func NewSettingRepository(db *gorm.DB) *settingRepo {
	return &settingRepo{db: db}
}

// Get retrieves a setting by key.
func (r *settingRepo) Get(ctx context.Context, key string) (*models.Setting, error) {
	var setting models.Setting
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting setting %q: %w", key, err)
	}
	return &setting, nil
}

// GetAll retrieves all settings ordered by key.
func (r *settingRepo) GetAll(ctx context.Context) ([]*models.Setting, error) {
	var settings []*models.Setting
	if err := r.db.WithContext(ctx).Order("key ASC").Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("getting all settings: %w", err)
	}
	return settings, nil
}

// GetByPrefix retrieves settings whose key starts with the prefix, ordered
// by key.
func (r *settingRepo) GetByPrefix(ctx context.Context, prefix string) ([]*models.Setting, error) {
	var settings []*models.Setting
	if err := r.db.WithContext(ctx).
		Where("key LIKE ?", prefix+"%").
		Order("key ASC").
		Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("getting settings by prefix %q: %w", prefix, err)
	}
	return settings, nil
}

// Upsert creates the setting or updates its value, type, and description.
func (r *settingRepo) Upsert(ctx context.Context, setting *models.Setting) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value", "type", "description", "updated_at",
		}),
	}).Create(setting).Error; err != nil {
		return fmt.Errorf("upserting setting %q: %w", setting.Key, err)
	}
	return nil
}

// UpsertBatch upserts multiple settings in one statement.
func (r *settingRepo) UpsertBatch(ctx context.Context, settings []*models.Setting) error {
	if len(settings) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value", "type", "description", "updated_at",
		}),
	}).CreateInBatches(settings, 100).Error; err != nil {
		return fmt.Errorf("upserting settings batch: %w", err)
	}
	return nil
}

// InsertMissing inserts settings whose keys are not yet present, leaving
// existing rows untouched, and returns the number of rows inserted. This
// is how defaults added in an upgrade reach an existing database without
// clobbering operator edits.
func (r *settingRepo) InsertMissing(ctx context.Context, settings []*models.Setting) (int64, error) {
	if len(settings) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).CreateInBatches(settings, 100)
	if result.Error != nil {
		return 0, fmt.Errorf("inserting missing settings: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Delete removes a setting by key. Rows are hard-deleted so the unique
// key index never blocks re-creating the same key.
func (r *settingRepo) Delete(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).
		Unscoped().
		Where("key = ?", key).
		Delete(&models.Setting{}).Error; err != nil {
		return fmt.Errorf("deleting setting %q: %w", key, err)
	}
	return nil
}

// DeleteByPrefix removes all settings whose key starts with the prefix and
// returns the number of rows removed.
func (r *settingRepo) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	result := r.db.WithContext(ctx).
		Unscoped().
		Where("key LIKE ?", prefix+"%").
		Delete(&models.Setting{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting settings by prefix %q: %w", prefix, result.Error)
	}
	return result.RowsAffected, nil
}

// Transaction executes the given function within a database transaction.
func (r *settingRepo) Transaction(ctx context.Context, fn func(SettingRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&settingRepo{db: tx})
	})
}

// Ensure settingRepo implements SettingRepository.
var _ SettingRepository = (*settingRepo)(nil)
