package repositories

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"sidetrack/internal/apperr"
	"sidetrack/internal/models"
)

type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	ListBySession(ctx context.Context, sessionID string) ([]models.Message, error)
	CountBySession(ctx context.Context, sessionID string) (int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	if message == nil || message.ID == "" {
		return fmt.Errorf("%w: message id is required", apperr.ErrValidation)
	}
	if message.SessionID == "" {
		return fmt.Errorf("%w: message session id is required", apperr.ErrValidation)
	}
	return r.db.WithContext(ctx).Create(message).Error
}

// ListBySession returns a session's messages in insertion (timestamp) order.
func (r *messageRepository) ListBySession(ctx context.Context, sessionID string) ([]models.Message, error) {
	var messages []models.Message
	res := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at asc, id asc").
		Find(&messages)
	if res.Error != nil {
		return nil, res.Error
	}
	return messages, nil
}

func (r *messageRepository) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("session_id = ?", sessionID).Count(&count).Error
	return count, err
}
