// Package client wraps provider-specific eino chat models behind one type so
// the rest of the service can stream or generate without caring which vendor
// is configured.
package client

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const defaultMaxTokens = 8192

type LLMClient struct {
	chatModel einomodel.BaseChatModel
	Provider  string
	Model     string
}

type ClaudeModelOptions struct {
	Model    string
	Thinking bool
}

type OpenAIModelOptions struct {
	Model string
}

type GeminiModelOptions struct {
	Model    string
	Thinking bool
}

func NewClaudeClient(ctx context.Context, apiKey string, opts ClaudeModelOptions) (*LLMClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	cfg := &claude.Config{
		APIKey:    apiKey,
		Model:     opts.Model,
		MaxTokens: defaultMaxTokens,
	}
	model, err := claude.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create claude chat model: %w", err)
	}
	return &LLMClient{chatModel: model, Provider: "anthropic", Model: opts.Model}, nil
}

func NewOpenAIClient(ctx context.Context, apiKey string, opts OpenAIModelOptions) (*LLMClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	model, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey: apiKey,
		Model:  opts.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create openai chat model: %w", err)
	}
	return &LLMClient{chatModel: model, Provider: "openai", Model: opts.Model}, nil
}

func NewGeminiClient(ctx context.Context, apiKey string, opts GeminiModelOptions) (*LLMClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	model, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client: genaiClient,
		Model:  opts.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini chat model: %w", err)
	}
	return &LLMClient{chatModel: model, Provider: "gemini", Model: opts.Model}, nil
}

// Generate runs one non-streaming completion over the full message history.
func (c *LLMClient) Generate(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
	return c.chatModel.Generate(ctx, messages)
}

// Stream starts a token stream over the full message history. The caller owns
// the reader and must Close it.
func (c *LLMClient) Stream(ctx context.Context, messages []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	return c.chatModel.Stream(ctx, messages)
}

// ChatModel exposes the underlying eino model.
func (c *LLMClient) ChatModel() einomodel.BaseChatModel {
	return c.chatModel
}
