package repositories

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"sidetrack/internal/apperr"
	"sidetrack/internal/models"
)

type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	List(ctx context.Context) ([]models.Session, error)
	ListActive(ctx context.Context) ([]models.Session, error)
	UpdateByID(ctx context.Context, id string, updates map[string]interface{}) error
	SetActive(ctx context.Context, id string) error
	ClearActive(ctx context.Context, id string) error
	DeleteByID(ctx context.Context, id string) error
}

type sessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("%w: session id is required", apperr.ErrValidation)
	}
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := r.db.WithContext(ctx).Take(&session, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) List(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	res := r.db.WithContext(ctx).Order("updated_at desc").Find(&sessions)
	if res.Error != nil {
		return nil, res.Error
	}
	return sessions, nil
}

func (r *sessionRepository) ListActive(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	res := r.db.WithContext(ctx).Where("is_active = ?", true).Order("updated_at desc").Find(&sessions)
	if res.Error != nil {
		return nil, res.Error
	}
	return sessions, nil
}

func (r *sessionRepository) UpdateByID(ctx context.Context, id string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// SetActive flips the single-active pointer in one transaction: every other
// session is deactivated before the target is activated.
func (r *sessionRepository) SetActive(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Session{}).
			Where("is_active = ? AND id <> ?", true, id).
			Update("is_active", false).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Session{}).Where("id = ?", id).Update("is_active", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
		}
		return nil
	})
}

func (r *sessionRepository) ClearActive(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", id).Update("is_active", false).Error
}

// DeleteByID removes the session row and cascades to its messages.
func (r *sessionRepository) DeleteByID(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Session{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
		}
		return nil
	})
}
