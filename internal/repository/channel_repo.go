package repository

import (
	"context"
	"fmt"

	"github.com/plexbridge/plexbridge/internal/models"
	"gorm.io/gorm"
)

// channelRepo implements ChannelRepository using GORM.
type channelRepo struct {
	db *gorm.DB
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *gorm.DB) *channelRepo {
	return &channelRepo{db: db}
}

// numberTaken reports whether a live channel other than excludeID already
// uses the given number. Soft-deleted channels keep their rows, so
// uniqueness is enforced here instead of by a unique index; a deleted
// channel's number becomes reusable immediately.
func numberTaken(tx *gorm.DB, number int, excludeID models.ULID) (bool, error) {
	var count int64
	query := tx.Model(&models.Channel{}).Where("number = ?", number)
	if !excludeID.IsZero() {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking channel number: %w", err)
	}
	return count > 0, nil
}

// Create creates a new channel. The number check and the insert share a
// transaction so concurrent creates cannot both claim the same number.
func (r *channelRepo) Create(ctx context.Context, channel *models.Channel) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := numberTaken(tx, channel.Number, models.ULID{})
		if err != nil {
			return err
		}
		if taken {
			return models.ErrChannelNumberTaken
		}
		if err := tx.Create(channel).Error; err != nil {
			return fmt.Errorf("creating channel: %w", err)
		}
		return nil
	})
}

// CreateBatch creates multiple channels in a single batch. Callers must
// pre-assign unique numbers; the importer allocates them from MaxNumber
// upward before calling this.
func (r *channelRepo) CreateBatch(ctx context.Context, channels []*models.Channel) error {
	if len(channels) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(channels, 100).Error; err != nil {
		return fmt.Errorf("creating channel batch: %w", err)
	}
	return nil
}

// GetByID retrieves a channel by ID.
func (r *channelRepo) GetByID(ctx context.Context, id models.ULID) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&channel).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by ID: %w", err)
	}
	return &channel, nil
}

// GetByIDWithStreams retrieves a channel with its streams preloaded.
func (r *channelRepo) GetByIDWithStreams(ctx context.Context, id models.ULID) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).
		Preload("Streams", func(db *gorm.DB) *gorm.DB {
			return db.Order("streams.created_at ASC")
		}).
		Where("id = ?", id).
		First(&channel).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel with streams: %w", err)
	}
	return &channel, nil
}

// GetByNumber retrieves a channel by its lineup number.
func (r *channelRepo) GetByNumber(ctx context.Context, number int) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).Where("number = ?", number).First(&channel).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by number: %w", err)
	}
	return &channel, nil
}

// GetAll retrieves all channels ordered by number.
func (r *channelRepo) GetAll(ctx context.Context) ([]*models.Channel, error) {
	var channels []*models.Channel
	if err := r.db.WithContext(ctx).Order("number ASC").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting all channels: %w", err)
	}
	return channels, nil
}

// GetEnabled retrieves all enabled channels ordered by number.
func (r *channelRepo) GetEnabled(ctx context.Context) ([]*models.Channel, error) {
	var channels []*models.Channel
	if err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("number ASC").
		Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting enabled channels: %w", err)
	}
	return channels, nil
}

// GetEnabledWithStreams retrieves enabled channels with their streams
// preloaded, ordered by number.
func (r *channelRepo) GetEnabledWithStreams(ctx context.Context) ([]*models.Channel, error) {
	var channels []*models.Channel
	if err := r.db.WithContext(ctx).
		Preload("Streams", func(db *gorm.DB) *gorm.DB {
			return db.Order("streams.created_at ASC")
		}).
		Where("enabled = ?", true).
		Order("number ASC").
		Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting enabled channels with streams: %w", err)
	}
	return channels, nil
}

// Update updates an existing channel, re-checking number uniqueness
// against every other live channel.
func (r *channelRepo) Update(ctx context.Context, channel *models.Channel) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := numberTaken(tx, channel.Number, channel.ID)
		if err != nil {
			return err
		}
		if taken {
			return models.ErrChannelNumberTaken
		}
		if err := tx.Save(channel).Error; err != nil {
			return fmt.Errorf("updating channel: %w", err)
		}
		return nil
	})
}

// Delete soft-deletes a channel and all of its streams. The FK cascade
// only fires on hard deletes, so the streams are removed explicitly in
// the same transaction.
func (r *channelRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel_id = ?", id).Delete(&models.Stream{}).Error; err != nil {
			return fmt.Errorf("deleting channel streams: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Channel{}).Error; err != nil {
			return fmt.Errorf("deleting channel: %w", err)
		}
		return nil
	})
}

// MaxNumber returns the highest channel number in use, 0 when empty.
func (r *channelRepo) MaxNumber(ctx context.Context) (int, error) {
	var max int
	if err := r.db.WithContext(ctx).
		Model(&models.Channel{}).
		Select("COALESCE(MAX(number), 0)").
		Scan(&max).Error; err != nil {
		return 0, fmt.Errorf("getting max channel number: %w", err)
	}
	return max, nil
}

// Count returns the total number of channels.
func (r *channelRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Channel{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting channels: %w", err)
	}
	return count, nil
}

// Transaction executes the given function within a database transaction.
func (r *channelRepo) Transaction(ctx context.Context, fn func(ChannelRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&channelRepo{db: tx})
	})
}

// Ensure channelRepo implements ChannelRepository.
var _ ChannelRepository = (*channelRepo)(nil)
