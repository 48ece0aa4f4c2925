package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/plexbridge/plexbridge/internal/models"
	"gorm.io/gorm"
)

// sessionRepo implements SessionRepository using GORM.
type sessionRepo struct {
	db *gorm.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *gorm.DB) *sessionRepo {
	return &sessionRepo{db: db}
}

// Create persists a new session record.
func (r *sessionRepo) Create(ctx context.Context, session *models.StreamSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by row ID.
func (r *sessionRepo) GetByID(ctx context.Context, id models.ULID) (*models.StreamSession, error) {
	var session models.StreamSession
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting session by ID: %w", err)
	}
	return &session, nil
}

// GetBySessionID retrieves a session by its public session identifier.
func (r *sessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.StreamSession, error) {
	var session models.StreamSession
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting session by session_id: %w", err)
	}
	return &session, nil
}

// GetActive retrieves all sessions still marked active, oldest first.
func (r *sessionRepo) GetActive(ctx context.Context) ([]*models.StreamSession, error) {
	var sessions []*models.StreamSession
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.SessionStatusActive).
		Order("started_at ASC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("getting active sessions: %w", err)
	}
	return sessions, nil
}

// GetRecent retrieves the most recently started sessions, newest first,
// skipping offset rows for pagination.
func (r *sessionRepo) GetRecent(ctx context.Context, limit, offset int) ([]*models.StreamSession, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var sessions []*models.StreamSession
	if err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("getting recent sessions: %w", err)
	}
	return sessions, nil
}

// Update updates an existing session record.
func (r *sessionRepo) Update(ctx context.Context, session *models.StreamSession) error {
	if err := r.db.WithContext(ctx).Save(session).Error; err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}

// EndActive marks every active session ended with the given reason and
// returns the number of rows updated. Run at startup so sessions orphaned
// by an unclean shutdown do not count against concurrency limits forever.
func (r *sessionRepo) EndActive(ctx context.Context, reason models.EndReason, message string) (int64, error) {
	now := time.Now()
	status := models.SessionStatusEnded
	if models.ErrorReasons[reason] || message != "" {
		status = models.SessionStatusError
	}

	updates := map[string]any{
		"status":         status,
		"end_reason":     reason,
		"error_message":  message,
		"ended_at":       now,
		"last_update_at": now,
	}

	result := r.db.WithContext(ctx).
		Model(&models.StreamSession{}).
		Where("status = ?", models.SessionStatusActive).
		Updates(updates)
	if result.Error != nil {
		return 0, fmt.Errorf("ending active sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountActive returns the number of sessions still marked active.
func (r *sessionRepo) CountActive(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.StreamSession{}).
		Where("status = ?", models.SessionStatusActive).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting active sessions: %w", err)
	}
	return count, nil
}

// Ensure sessionRepo implements SessionRepository.
var _ SessionRepository = (*sessionRepo)(nil)
