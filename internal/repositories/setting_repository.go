package repositories

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sidetrack/internal/apperr"
	"sidetrack/internal/models"
)

type SettingRepository interface {
	Get(ctx context.Context, scope, key string) (*models.Setting, error)
	Upsert(ctx context.Context, scope, key, value string) (*models.Setting, error)
	ListByScope(ctx context.Context, scope string) ([]models.Setting, error)
	Delete(ctx context.Context, scope, key string) error
}

type settingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepository{db: db}
}

func (r *settingRepository) Get(ctx context.Context, scope, key string) (*models.Setting, error) {
	var setting models.Setting
	err := r.db.WithContext(ctx).
		Where("scope = ? AND key = ?", scope, key).
		Take(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("setting %s/%s: %w", scope, key, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &setting, nil
}

func (r *settingRepository) Upsert(ctx context.Context, scope, key, value string) (*models.Setting, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: setting key is required", apperr.ErrValidation)
	}
	setting := models.Setting{Scope: scope, Key: key, Value: value}
	// Upsert on the composite unique index
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error; err != nil {
		return nil, err
	}
	return &setting, nil
}

func (r *settingRepository) ListByScope(ctx context.Context, scope string) ([]models.Setting, error) {
	var settings []models.Setting
	err := r.db.WithContext(ctx).Where("scope = ?", scope).Order("key asc").Find(&settings).Error
	if err != nil {
		return nil, err
	}
	return settings, nil
}

func (r *settingRepository) Delete(ctx context.Context, scope, key string) error {
	return r.db.WithContext(ctx).
		Where("scope = ? AND key = ?", scope, key).
		Delete(&models.Setting{}).Error
}
