package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"sidetrack/internal/apperr"
	"sidetrack/internal/assets"
	"sidetrack/internal/models"
	"sidetrack/internal/repositories"
)

// settingsScopeModels holds per-model enablement toggles in the settings table.
const settingsScopeModels = "models"

type ModelConfigService interface {
	ListModelGroups(ctx context.Context) ([]models.LLMModelGroup, error)
	GetModel(ctx context.Context, modelKey string) (*models.LLMModel, error)
	SetModelEnabled(ctx context.Context, modelKey string, enabled bool) (*models.LLMModel, error)
}

type modelConfigService struct {
	settings repositories.SettingRepository

	mu            sync.RWMutex
	providerOrder []string
	providerNames map[string]string
	catalog       map[string]*models.LLMModel
	loaded        bool
}

type rawModelFile struct {
	Providers []rawProvider `json:"providers"`
}

type rawProvider struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Models      []rawModel `json:"models"`
}

type rawModel struct {
	DisplayName string `json:"displayName"`
	APIName     string `json:"apiName"`
	Thinking    *bool  `json:"thinking,omitempty"`
}

func NewModelConfigService(settings repositories.SettingRepository) ModelConfigService {
	return &modelConfigService{
		settings:      settings,
		providerNames: map[string]string{},
		catalog:       map[string]*models.LLMModel{},
	}
}

func (s *modelConfigService) ensureLoaded() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	var file rawModelFile
	if err := json.Unmarshal(assets.ModelsData, &file); err != nil {
		return fmt.Errorf("failed to parse embedded model catalog: %w", err)
	}

	for _, provider := range file.Providers {
		s.providerOrder = append(s.providerOrder, provider.ID)
		s.providerNames[provider.ID] = provider.DisplayName
		for _, raw := range provider.Models {
			key := modelKey(provider.ID, raw.APIName, raw.Thinking)
			s.catalog[key] = &models.LLMModel{
				Key:          key,
				DisplayName:  raw.DisplayName,
				APIName:      raw.APIName,
				ProviderID:   provider.ID,
				ProviderName: provider.DisplayName,
				Thinking:     raw.Thinking,
				Enabled:      true,
			}
		}
	}
	s.loaded = true
	return nil
}

func (s *modelConfigService) ListModelGroups(ctx context.Context) ([]models.LLMModelGroup, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]models.LLMModelGroup, 0, len(s.providerOrder))
	for _, providerID := range s.providerOrder {
		group := models.LLMModelGroup{
			ProviderID:   providerID,
			ProviderName: s.providerNames[providerID],
		}
		for _, m := range s.catalog {
			if m.ProviderID != providerID {
				continue
			}
			entry := *m
			entry.Enabled = s.resolveEnabled(ctx, entry.Key)
			group.Models = append(group.Models, entry)
		}
		sort.Slice(group.Models, func(i, j int) bool {
			return group.Models[i].DisplayName < group.Models[j].DisplayName
		})
		groups = append(groups, group)
	}
	return groups, nil
}

func (s *modelConfigService) GetModel(ctx context.Context, key string) (*models.LLMModel, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: model key is required", apperr.ErrValidation)
	}

	s.mu.RLock()
	m, ok := s.catalog[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("model %s: %w", key, apperr.ErrNotFound)
	}
	entry := *m
	entry.Enabled = s.resolveEnabled(ctx, key)
	return &entry, nil
}

func (s *modelConfigService) SetModelEnabled(ctx context.Context, key string, enabled bool) (*models.LLMModel, error) {
	m, err := s.GetModel(ctx, key)
	if err != nil {
		return nil, err
	}
	value := "false"
	if enabled {
		value = "true"
	}
	if _, err := s.settings.Upsert(ctx, settingsScopeModels, key, value); err != nil {
		return nil, err
	}
	m.Enabled = enabled
	return m, nil
}

// resolveEnabled reads the persisted toggle; models default to enabled.
func (s *modelConfigService) resolveEnabled(ctx context.Context, key string) bool {
	setting, err := s.settings.Get(ctx, settingsScopeModels, key)
	if err != nil {
		return true
	}
	return setting.Value != "false"
}

func modelKey(providerID, apiName string, thinking *bool) string {
	key := providerID + "/" + apiName
	if thinking != nil && *thinking {
		key += ":thinking"
	}
	return key
}
