package services

import (
	"context"
	"fmt"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"

	"sidetrack/internal/llm/client"
)

// ChatBackend resolves the configured chat model. The indirection keeps the
// chat service testable without any provider credentials.
type ChatBackend interface {
	ChatModel(ctx context.Context) (einomodel.BaseChatModel, error)
}

// LLMBackend builds provider-specific eino chat models from the embedded
// catalog and the keyring, caching the constructed client per model key.
type LLMBackend struct {
	models   ModelConfigService
	keys     *KeyringService
	modelKey string

	mu        sync.Mutex
	cached    einomodel.BaseChatModel
	cachedKey string
}

func NewLLMBackend(models ModelConfigService, keys *KeyringService, modelKey string) *LLMBackend {
	return &LLMBackend{models: models, keys: keys, modelKey: modelKey}
}

func (b *LLMBackend) ChatModel(ctx context.Context) (einomodel.BaseChatModel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cached != nil && b.cachedKey == b.modelKey {
		return b.cached, nil
	}

	info, err := b.models.GetModel(ctx, b.modelKey)
	if err != nil {
		return nil, err
	}
	if !info.Enabled {
		return nil, fmt.Errorf("model %s is disabled", info.DisplayName)
	}

	apiKey, err := b.keys.GetApiKey(info.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for %s: %w", info.ProviderID, err)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("API key for %s is not configured", info.ProviderID)
	}

	var llmClient *client.LLMClient
	switch info.ProviderID {
	case "anthropic":
		llmClient, err = client.NewClaudeClient(ctx, apiKey, client.ClaudeModelOptions{
			Model:    info.APIName,
			Thinking: info.Thinking != nil && *info.Thinking,
		})
	case "openai":
		llmClient, err = client.NewOpenAIClient(ctx, apiKey, client.OpenAIModelOptions{
			Model: info.APIName,
		})
	case "gemini":
		llmClient, err = client.NewGeminiClient(ctx, apiKey, client.GeminiModelOptions{
			Model:    info.APIName,
			Thinking: info.Thinking != nil && *info.Thinking,
		})
	default:
		return nil, fmt.Errorf("unsupported provider: %s", info.ProviderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", info.ProviderID, err)
	}

	b.cached = llmClient.ChatModel()
	b.cachedKey = b.modelKey
	return b.cached, nil
}
