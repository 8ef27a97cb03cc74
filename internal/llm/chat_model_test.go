package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/SentiTrader/config"
	"github.com/dyike/SentiTrader/consts"
)

func TestNewChatModelProviders(t *testing.T) {
	for _, provider := range []string{consts.ProviderOpenAI, consts.ProviderXAI, consts.ProviderDeepSeek} {
		t.Run(provider, func(t *testing.T) {
			cfg := config.DefaultConfigWithRoot(t.TempDir())
			cfg.LLMProvider = provider
			cfg.OpenAIAPIKey = "sk-test"
			cfg.XAIAPIKey = "xai-test"
			cfg.DeepSeekAPIKey = "ds-test"

			cm, err := NewChatModel(context.Background(), cfg)
			require.NoError(t, err)
			assert.NotNil(t, cm)
		})
	}
}

func TestNewChatModelUnknownProvider(t *testing.T) {
	cfg := config.DefaultConfigWithRoot(t.TempDir())
	cfg.LLMProvider = "llama"
	_, err := NewChatModel(context.Background(), cfg)
	require.Error(t, err)
}
