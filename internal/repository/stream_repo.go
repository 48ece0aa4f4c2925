package repository

import (
	"context"
	"fmt"

	"github.com/plexbridge/plexbridge/internal/models"
	"gorm.io/gorm"
)

// streamRepo implements StreamRepository using GORM.
type streamRepo struct {
	db *gorm.DB
}

// NewStreamRepository creates a new StreamRepository.
func NewStreamRepository(db *gorm.DB) *streamRepo {
	return &streamRepo{db: db}
}

// Create creates a new stream.
func (r *streamRepo) Create(ctx context.Context, stream *models.Stream) error {
	if err := r.db.WithContext(ctx).Create(stream).Error; err != nil {
		return fmt.Errorf("creating stream: %w", err)
	}
	return nil
}

// CreateBatch creates multiple streams in a single batch.
func (r *streamRepo) CreateBatch(ctx context.Context, streams []*models.Stream) error {
	if len(streams) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(streams, 100).Error; err != nil {
		return fmt.Errorf("creating stream batch: %w", err)
	}
	return nil
}

// GetByID retrieves a stream by ID.
func (r *streamRepo) GetByID(ctx context.Context, id models.ULID) (*models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&stream).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by ID: %w", err)
	}
	return &stream, nil
}

// GetByChannelID retrieves all streams for a channel, oldest first.
func (r *streamRepo) GetByChannelID(ctx context.Context, channelID models.ULID) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("created_at ASC").
		Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("getting streams by channel: %w", err)
	}
	return streams, nil
}

// GetEnabledByChannelID retrieves enabled streams for a channel, oldest
// first. The first entry is the playback candidate.
func (r *streamRepo) GetEnabledByChannelID(ctx context.Context, channelID models.ULID) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).
		Where("channel_id = ? AND enabled = ?", channelID, true).
		Order("created_at ASC").
		Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("getting enabled streams by channel: %w", err)
	}
	return streams, nil
}

// GetAll retrieves all streams.
func (r *streamRepo) GetAll(ctx context.Context) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("getting all streams: %w", err)
	}
	return streams, nil
}

// Update updates an existing stream.
func (r *streamRepo) Update(ctx context.Context, stream *models.Stream) error {
	if err := r.db.WithContext(ctx).Save(stream).Error; err != nil {
		return fmt.Errorf("updating stream: %w", err)
	}
	return nil
}

// Delete deletes a stream by ID.
func (r *streamRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Stream{}).Error; err != nil {
		return fmt.Errorf("deleting stream: %w", err)
	}
	return nil
}

// DeleteByChannelID deletes all streams for a channel.
func (r *streamRepo) DeleteByChannelID(ctx context.Context, channelID models.ULID) error {
	if err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Delete(&models.Stream{}).Error; err != nil {
		return fmt.Errorf("deleting streams by channel: %w", err)
	}
	return nil
}

// Count returns the total number of streams.
func (r *streamRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Stream{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting streams: %w", err)
	}
	return count, nil
}

// Ensure streamRepo implements StreamRepository.
var _ StreamRepository = (*streamRepo)(nil)
