package services

import (
	"gorm.io/gorm"

	"sidetrack/internal/repositories"
)

// DbServices aggregates all domain services backed by the database.
type DbServices struct {
	Sessions SessionService
	Chat     ChatService
	Settings SettingService
	Models   ModelConfigService
}

// NewDbServices constructs the service container using repositories backed by db.
// modelKey selects the chat model from the embedded catalog.
func NewDbServices(db *gorm.DB, git *GitService, keys *KeyringService, modelKey string) *DbServices {
	sessionRepo := repositories.NewSessionRepository(db)
	messageRepo := repositories.NewMessageRepository(db)
	settingRepo := repositories.NewSettingRepository(db)

	modelConfigs := NewModelConfigService(settingRepo)
	backend := NewLLMBackend(modelConfigs, keys, modelKey)

	return &DbServices{
		Sessions: NewSessionService(sessionRepo, git),
		Chat:     NewChatService(sessionRepo, messageRepo, backend),
		Settings: NewSettingService(settingRepo),
		Models:   modelConfigs,
	}
}
