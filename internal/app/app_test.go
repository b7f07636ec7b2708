package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/busanfuneral/notice-pipeline/internal/config"
	"github.com/busanfuneral/notice-pipeline/internal/store/memory"
)

func baseConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 8080},
		Logging: config.LoggingConfig{Development: true},
		HTTP:    config.HTTPConfig{TimeoutSeconds: 5, MaxRetries: 1},
		Analysis: config.AnalysisConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
			APIKey:   "sk-test",
		},
		Telegram: config.TelegramConfig{
			BotToken:       "123:abc",
			ConsolidatedID: "-100999",
		},
		Pipeline: config.PipelineConfig{
			CollectConcurrency: 2,
			AnalyzeConcurrency: 1,
			MaxPages:           1,
			IntervalMinutes:    60,
		},
	}
}

func TestNewWiresMemoryStoreWithoutDSN(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), baseConfig())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Coordinator)
	require.IsType(t, &memory.Store{}, a.Store)
}

func TestNewFailsWithoutAnalysisKey(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Analysis.APIKey = ""
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "analyzer")
}

func TestNewFailsWithoutBotToken(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Telegram.BotToken = ""
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "notifier")
}
