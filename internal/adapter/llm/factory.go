package llm

import (
	"fmt"
	"log/slog"

	"github.com/xiaot623/gogo/chatvault/internal/config"
)

// New creates the Backend selected by LLM_PROVIDER.
func New(cfg *config.Config, logger *slog.Logger) (Backend, error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout), nil
	case config.ProviderOllama:
		return NewOllamaClient(cfg.LLMBaseURL, cfg.LLMModel, cfg.LLMTimeout), nil
	case config.ProviderMock:
		logger.Info("LLM_PROVIDER=mock, using mock LLM client")
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}
