package services

import (
	"errors"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringServiceName = "sidetrack"

type KeyringService struct{}

func NewKeyringService() *KeyringService {
	return &KeyringService{}
}

func (s *KeyringService) StoreApiKey(provider string, apiKey string) error {
	if provider == "" {
		return errors.New("provider is required")
	}
	if apiKey == "" {
		return errors.New("API key is empty")
	}
	return keyring.Set(keyringServiceName, provider, apiKey)
}

// GetApiKey resolves a provider key from the OS keyring, falling back to the
// conventional environment variable (e.g. ANTHROPIC_API_KEY) when the keyring
// has no entry.
func (s *KeyringService) GetApiKey(provider string) (string, error) {
	if provider == "" {
		return "", errors.New("provider is required")
	}
	key, err := keyring.Get(keyringServiceName, provider)
	if err == nil && key != "" {
		return key, nil
	}
	if env := os.Getenv(envKeyName(provider)); env != "" {
		return env, nil
	}
	if err != nil {
		return "", err
	}
	return "", nil
}

func (s *KeyringService) DeleteApiKey(provider string) error {
	if provider == "" {
		return errors.New("provider is required")
	}
	return keyring.Delete(keyringServiceName, provider)
}

func envKeyName(provider string) string {
	return strings.ToUpper(provider) + "_API_KEY"
}
