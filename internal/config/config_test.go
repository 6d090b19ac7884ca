// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "webpilot", cfg.Logger().ServiceName)
	assert.Equal(t, 50, cfg.Agent().MaxIterations)
	assert.Equal(t, time.Second, cfg.Agent().StepDelay)
	assert.Equal(t, 3000, cfg.Agent().Budget.ContextTokens)
	assert.Equal(t, 2000, cfg.Agent().Budget.HistoryTokens)
	assert.Equal(t, 25000, cfg.Agent().Budget.RequestTokens)
	assert.InDelta(t, 0.2, cfg.Agent().Budget.ReserveRatio, 1e-9)
	assert.Equal(t, []string{"navigate", "click_element", "type_text"}, cfg.Agent().Validation.CriticalActions)
	assert.Equal(t, 100, cfg.Agent().Validation.CacheSize)
	assert.Equal(t, 200, cfg.Agent().Errors.CacheSize)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 10*time.Second, cfg.Browser().ActionTimeout)
	assert.Empty(t, cfg.Database().URL)
	require.NoError(t, cfg.Validate())
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetAgentMaxIterations(7)
	cfg.SetBrowserHeadless(false)
	assert.Equal(t, 7, cfg.Agent().MaxIterations)
	assert.False(t, cfg.Browser().Headless)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Agent Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()

		invalid := *cfg
		invalid.AgentCfg.MaxIterations = 0
		err := invalid.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_iterations must be greater than 0")

		invalid = *cfg
		invalid.AgentCfg.CycleWindow = 1
		err = invalid.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle_window")
	})

	t.Run("Budget Validation", func(t *testing.T) {
		valid := BudgetConfig{ContextTokens: 100, HistoryTokens: 100, RequestTokens: 1000, ReserveRatio: 0.2, ElementRatio: 0.7}
		assert.NoError(t, valid.Validate())

		tooBig := valid
		tooBig.ContextTokens = 2000
		err := tooBig.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot exceed request_tokens")

		badRatio := valid
		badRatio.ReserveRatio = 1.0
		assert.Error(t, badRatio.Validate())

		zero := valid
		zero.HistoryTokens = 0
		assert.Error(t, zero.Validate())
	})
}

func TestValidationConfig_IsCritical(t *testing.T) {
	v := ValidationConfig{CriticalActions: []string{"navigate", "click_element"}}
	assert.True(t, v.IsCritical("navigate"))
	assert.False(t, v.IsCritical("scroll"))
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	yamlConfig := []byte(`
logger:
  level: debug
agent:
  max_iterations: 12
  budget:
    context_tokens: 1500
  llm:
    models:
      fast:
        provider: gemini
        model: gemini-2.5-flash
browser:
  headless: false
`)
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	t.Setenv("WEBPILOT_LLM_API_KEY", "test-key")
	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, 12, cfg.Agent().MaxIterations)
	assert.Equal(t, 1500, cfg.Agent().Budget.ContextTokens)
	// Untouched keys keep their defaults.
	assert.Equal(t, 25000, cfg.Agent().Budget.RequestTokens)
	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, "test-key", cfg.Agent().LLM.Models["fast"].APIKey)
	assert.Equal(t, "test-key", cfg.Agent().LLM.APIKey)
}

func TestNewConfigFromViper_Invalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("agent.max_iterations", -3)

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
