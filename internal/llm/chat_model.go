package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/dyike/SentiTrader/config"
	"github.com/dyike/SentiTrader/consts"
)

const xaiBaseURL = "https://api.x.ai/v1"

// judgeMaxTokens bounds the classifier reply; the expected JSON is tiny.
const judgeMaxTokens = 256

// NewChatModel builds the chat model for the configured provider. xAI is
// reached through its OpenAI-compatible endpoint.
func NewChatModel(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	modelName := cfg.DefaultJudgeModel()

	switch cfg.LLMProvider {
	case consts.ProviderOpenAI, consts.ProviderXAI:
		apiKey, baseURL := cfg.OpenAIAPIKey, cfg.BackendURL
		if cfg.LLMProvider == consts.ProviderXAI {
			apiKey = cfg.XAIAPIKey
			if baseURL == "" {
				baseURL = xaiBaseURL
			}
		}
		maxTokens := judgeMaxTokens
		temperature := float32(0)
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      apiKey,
			BaseURL:     baseURL,
			Model:       modelName,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
			Timeout:     cfg.JudgeTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s chat model: %w", cfg.LLMProvider, err)
		}
		return cm, nil

	case consts.ProviderDeepSeek:
		cm, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:    cfg.DeepSeekAPIKey,
			BaseURL:   cfg.BackendURL,
			Model:     modelName,
			MaxTokens: judgeMaxTokens,
			Timeout:   cfg.JudgeTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create deepseek chat model: %w", err)
		}
		return cm, nil
	}

	return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
}
