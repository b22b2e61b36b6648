package reasoning

import (
	"fmt"

	"github.com/medsense-ai/medsense/internal/config"
	apperrors "github.com/medsense-ai/medsense/internal/errors"
)

// NewAdapterFromConfig creates a reasoning adapter from the llm section of
// the configuration.
func NewAdapterFromConfig(cfg config.LLMConfig) (Adapter, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIAdapter(cfg)
	default:
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unsupported llm provider: %s", cfg.Provider), nil)
	}
}
