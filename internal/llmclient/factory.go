package llmclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

const defaultAPITimeout = 90 * time.Second

// NewClient creates an LLMClient for a single model configuration.
func NewClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		return NewGeminiClient(cfg, logger)
	case config.ProviderGeminiSDK:
		return NewGenAIClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderGeminiSDK)
	}
}

// NewRouterFromConfig builds the fast and powerful tier clients named by the
// router config, each throttled by the shared rate limit.
func NewRouterFromConfig(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (*LLMRouter, error) {
	build := func(name string) (schemas.LLMClient, error) {
		mc := ResolveModelConfig(cfg, name)
		client, err := NewClient(ctx, mc, logger)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", name, err)
		}
		return NewRateLimitedClient(client, cfg.RequestsPerSecond, cfg.Burst, logger), nil
	}

	fast, err := build(cfg.DefaultFastModel)
	if err != nil {
		return nil, err
	}
	powerful, err := build(cfg.DefaultPowerfulModel)
	if err != nil {
		_ = fast.Close()
		return nil, err
	}
	return NewLLMRouter(logger, fast, powerful)
}

// ResolveModelConfig looks a model up by key, falling back to a REST
// configuration that uses the name as the model id and the router's key.
func ResolveModelConfig(cfg config.LLMRouterConfig, name string) config.LLMModelConfig {
	mc, ok := cfg.Models[name]
	if !ok {
		mc = config.LLMModelConfig{Provider: config.ProviderGemini, Model: name}
	}
	if mc.Model == "" {
		mc.Model = name
	}
	if mc.APIKey == "" {
		mc.APIKey = cfg.APIKey
	}
	if mc.APITimeout <= 0 {
		mc.APITimeout = defaultAPITimeout
	}
	return mc
}
