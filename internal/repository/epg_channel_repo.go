package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/plexbridge/plexbridge/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// epgChannelRepo implements EpgChannelRepository using GORM.
type epgChannelRepo struct {
	db *gorm.DB
}

// NewEpgChannelRepository creates a new EpgChannelRepository.
func NewEpgChannelRepository(db *gorm.DB) *epgChannelRepo {
	return &epgChannelRepo{db: db}
}

// UpsertBatch inserts or updates guide channels keyed on (source_id, epg_id).
// Refreshes re-ingest the full channel list, so existing rows just get
// their display name and icon refreshed in place.
func (r *epgChannelRepo) UpsertBatch(ctx context.Context, channels []*models.EpgChannel) error {
	if len(channels) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_id"}, {Name: "epg_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name", "icon_url", "updated_at",
		}),
	}).CreateInBatches(channels, 200).Error; err != nil {
		return fmt.Errorf("upserting guide channels: %w", err)
	}
	return nil
}

// GetBySourceID retrieves all guide channels for a source.
func (r *epgChannelRepo) GetBySourceID(ctx context.Context, sourceID models.ULID) ([]*models.EpgChannel, error) {
	var channels []*models.EpgChannel
	if err := r.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("display_name ASC").
		Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting guide channels by source: %w", err)
	}
	return channels, nil
}

// GetByEpgID retrieves guide channels matching an XMLTV channel id across
// all enabled sources, ordered by source priority (lower first). The first
// entry wins when sources disagree.
func (r *epgChannelRepo) GetByEpgID(ctx context.Context, epgID string) ([]*models.EpgChannel, error) {
	var channels []*models.EpgChannel
	if err := r.db.WithContext(ctx).
		Joins("JOIN epg_sources ON epg_sources.id = epg_channels.source_id AND epg_sources.deleted_at IS NULL").
		Where("epg_channels.epg_id = ? AND epg_sources.enabled = ?", epgID, true).
		Order("epg_sources.priority ASC").
		Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting guide channels by epg_id: %w", err)
	}
	return channels, nil
}

// GetAll retrieves all guide channels.
func (r *epgChannelRepo) GetAll(ctx context.Context) ([]*models.EpgChannel, error) {
	var channels []*models.EpgChannel
	if err := r.db.WithContext(ctx).Order("display_name ASC").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting all guide channels: %w", err)
	}
	return channels, nil
}

// SearchByDisplayName retrieves guide channels whose display name contains
// the fragment, case-insensitive, ordered by source priority. Used by the
// fuzzy step of guide resolution.
func (r *epgChannelRepo) SearchByDisplayName(ctx context.Context, fragment string) ([]*models.EpgChannel, error) {
	var channels []*models.EpgChannel
	pattern := "%" + strings.ToLower(strings.TrimSpace(fragment)) + "%"
	if err := r.db.WithContext(ctx).
		Joins("JOIN epg_sources ON epg_sources.id = epg_channels.source_id AND epg_sources.deleted_at IS NULL").
		Where("LOWER(epg_channels.display_name) LIKE ? AND epg_sources.enabled = ?", pattern, true).
		Order("epg_sources.priority ASC, epg_channels.display_name ASC").
		Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("searching guide channels: %w", err)
	}
	return channels, nil
}

// DeleteBySourceID hard-deletes all guide channels for a source. Soft
// deletes would leave rows that collide with the (source_id, epg_id)
// unique index on the next refresh.
func (r *epgChannelRepo) DeleteBySourceID(ctx context.Context, sourceID models.ULID) error {
	if err := r.db.WithContext(ctx).
		Unscoped().
		Where("source_id = ?", sourceID).
		Delete(&models.EpgChannel{}).Error; err != nil {
		return fmt.Errorf("deleting guide channels by source: %w", err)
	}
	return nil
}

// CountBySourceID returns the number of guide channels for a source.
func (r *epgChannelRepo) CountBySourceID(ctx context.Context, sourceID models.ULID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.EpgChannel{}).
		Where("source_id = ?", sourceID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting guide channels: %w", err)
	}
	return count, nil
}

// Ensure epgChannelRepo implements EpgChannelRepository.
var _ EpgChannelRepository = (*epgChannelRepo)(nil)
