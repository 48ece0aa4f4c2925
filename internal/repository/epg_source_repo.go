package repository

import (
	"context"
	"fmt"

	"github.com/plexbridge/plexbridge/internal/models"
	"gorm.io/gorm"
)

// epgSourceRepo implements EpgSourceRepository using GORM.
type epgSourceRepo struct {
	db *gorm.DB
}

// NewEpgSourceRepository creates a new EpgSourceRepository.
func NewEpgSourceRepository(db *gorm.DB) *epgSourceRepo {
	return &epgSourceRepo{db: db}
}

// Create creates a new EPG source.
func (r *epgSourceRepo) Create(ctx context.Context, source *models.EpgSource) error {
	if err := r.db.WithContext(ctx).Create(source).Error; err != nil {
		return fmt.Errorf("creating EPG source: %w", err)
	}
	return nil
}

// GetByID retrieves an EPG source by ID.
func (r *epgSourceRepo) GetByID(ctx context.Context, id models.ULID) (*models.EpgSource, error) {
	var source models.EpgSource
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&source).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting EPG source by ID: %w", err)
	}
	return &source, nil
}

// GetByName retrieves an EPG source by name.
func (r *epgSourceRepo) GetByName(ctx context.Context, name string) (*models.EpgSource, error) {
	var source models.EpgSource
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&source).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting EPG source by name: %w", err)
	}
	return &source, nil
}

// GetByURL retrieves an EPG source by URL.
func (r *epgSourceRepo) GetByURL(ctx context.Context, url string) (*models.EpgSource, error) {
	var source models.EpgSource
	if err := r.db.WithContext(ctx).Where("url = ?", url).First(&source).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting EPG source by URL: %w", err)
	}
	return &source, nil
}

// GetAll retrieves all EPG sources ordered by priority, lower first.
func (r *epgSourceRepo) GetAll(ctx context.Context) ([]*models.EpgSource, error) {
	var sources []*models.EpgSource
	if err := r.db.WithContext(ctx).Order("priority ASC, name ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("getting all EPG sources: %w", err)
	}
	return sources, nil
}

// GetEnabled retrieves enabled EPG sources ordered by priority, lower first.
func (r *epgSourceRepo) GetEnabled(ctx context.Context) ([]*models.EpgSource, error) {
	var sources []*models.EpgSource
	if err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("priority ASC, name ASC").
		Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("getting enabled EPG sources: %w", err)
	}
	return sources, nil
}

// Update updates an existing EPG source.
func (r *epgSourceRepo) Update(ctx context.Context, source *models.EpgSource) error {
	if err := r.db.WithContext(ctx).Save(source).Error; err != nil {
		return fmt.Errorf("updating EPG source: %w", err)
	}
	return nil
}

// Delete deletes an EPG source together with its guide channels and
// programs. Guide data is hard-deleted so the composite unique indexes
// never collide with dead rows; the source row is hard-deleted too so
// its unique name can be reused.
func (r *epgSourceRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("source_id = ?", id).Delete(&models.EpgProgram{}).Error; err != nil {
			return fmt.Errorf("deleting EPG source programs: %w", err)
		}
		if err := tx.Unscoped().Where("source_id = ?", id).Delete(&models.EpgChannel{}).Error; err != nil {
			return fmt.Errorf("deleting EPG source channels: %w", err)
		}
		if err := tx.Unscoped().Where("id = ?", id).Delete(&models.EpgSource{}).Error; err != nil {
			return fmt.Errorf("deleting EPG source: %w", err)
		}
		return nil
	})
}

// UpdateRefresh records the outcome of a refresh run without touching
// operator-edited fields. LastRefreshAt tracks successful refreshes only.
func (r *epgSourceRepo) UpdateRefresh(ctx context.Context, id models.ULID, status models.EpgSourceStatus, programCount int, lastError string) error {
	updates := map[string]any{
		"status":     status,
		"last_error": lastError,
	}
	if status == models.EpgSourceStatusSuccess {
		updates["last_refresh_at"] = models.Now()
		updates["program_count"] = programCount
		updates["last_error"] = ""
	}

	if err := r.db.WithContext(ctx).
		Model(&models.EpgSource{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("updating EPG source refresh state: %w", err)
	}
	return nil
}

// Ensure epgSourceRepo implements EpgSourceRepository.
var _ EpgSourceRepository = (*epgSourceRepo)(nil)
