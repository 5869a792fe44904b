package services

import (
	"context"
	"fmt"
	"strings"

	"sidetrack/internal/apperr"
	"sidetrack/internal/models"
	"sidetrack/internal/repositories"
)

type SettingService interface {
	Get(ctx context.Context, scope, key string) (*models.Setting, error)
	Set(ctx context.Context, scope, key, value string) (*models.Setting, error)
	List(ctx context.Context, scope string) ([]models.Setting, error)
}

type settingService struct {
	repo repositories.SettingRepository
}

func NewSettingService(repo repositories.SettingRepository) SettingService {
	return &settingService{repo: repo}
}

func (s *settingService) Get(ctx context.Context, scope, key string) (*models.Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: setting key is required", apperr.ErrValidation)
	}
	return s.repo.Get(ctx, scope, key)
}

func (s *settingService) Set(ctx context.Context, scope, key, value string) (*models.Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: setting key is required", apperr.ErrValidation)
	}
	return s.repo.Upsert(ctx, scope, key, value)
}

func (s *settingService) List(ctx context.Context, scope string) ([]models.Setting, error) {
	return s.repo.ListByScope(ctx, scope)
}
