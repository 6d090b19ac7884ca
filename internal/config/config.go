// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Agent() AgentConfig
	Browser() BrowserConfig
	Database() DatabaseConfig

	// Agent Setters (driven by CLI flags)
	SetAgentMaxIterations(int)
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	AgentCfg    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Agent() AgentConfig       { return c.AgentCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetAgentMaxIterations(n int) { c.AgentCfg.MaxIterations = n }
func (c *Config) SetBrowserHeadless(b bool)   { c.BrowserCfg.Headless = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the run journal connection details. An empty URL
// disables the journal.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the controlled browser instance.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	UserDataDir       string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	StartURL          string         `mapstructure:"start_url" yaml:"start_url"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	ActionTimeout     time.Duration  `mapstructure:"action_timeout" yaml:"action_timeout"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	MaxElements       int            `mapstructure:"max_elements" yaml:"max_elements"`
}

// AgentConfig holds settings related to the control loop and its components.
type AgentConfig struct {
	MaxIterations   int              `mapstructure:"max_iterations" yaml:"max_iterations"`
	StepDelay       time.Duration    `mapstructure:"step_delay" yaml:"step_delay"`
	MaxSettleDelay  time.Duration    `mapstructure:"max_settle_delay" yaml:"max_settle_delay"`
	CompletionCheck bool             `mapstructure:"completion_check" yaml:"completion_check"`
	CycleWindow     int              `mapstructure:"cycle_window" yaml:"cycle_window"`
	QueryHistory    int              `mapstructure:"query_history" yaml:"query_history"`
	Budget          BudgetConfig     `mapstructure:"budget" yaml:"budget"`
	Validation      ValidationConfig `mapstructure:"validation" yaml:"validation"`
	Errors          ErrorsConfig     `mapstructure:"errors" yaml:"errors"`
	LLM             LLMRouterConfig  `mapstructure:"llm" yaml:"llm"`
}

// BudgetConfig names the token ceilings and the reservation split.
type BudgetConfig struct {
	ContextTokens int     `mapstructure:"context_tokens" yaml:"context_tokens"`
	HistoryTokens int     `mapstructure:"history_tokens" yaml:"history_tokens"`
	RequestTokens int     `mapstructure:"request_tokens" yaml:"request_tokens"`
	ReserveRatio  float64 `mapstructure:"reserve_ratio" yaml:"reserve_ratio"`
	ElementRatio  float64 `mapstructure:"element_ratio" yaml:"element_ratio"`
}

// ValidationConfig configures the action validator.
type ValidationConfig struct {
	CriticalActions []string `mapstructure:"critical_actions" yaml:"critical_actions"`
	CacheSize       int      `mapstructure:"cache_size" yaml:"cache_size"`
}

// ErrorsConfig configures the error classifier.
type ErrorsConfig struct {
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini    LLMProvider = "gemini"     // REST client
	ProviderGeminiSDK LLMProvider = "gemini_sdk" // google.golang.org/genai
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	RequestsPerSecond    float64                   `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst                int                       `mapstructure:"burst" yaml:"burst"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`

	// APIKey is the fallback for models without their own key. Env only.
	APIKey string `mapstructure:"api_key" yaml:"-"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"-"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; a failure here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Agent --
	v.SetDefault("agent.max_iterations", 50)
	v.SetDefault("agent.step_delay", "1s")
	v.SetDefault("agent.max_settle_delay", "3s")
	v.SetDefault("agent.completion_check", true)
	v.SetDefault("agent.cycle_window", 4)
	v.SetDefault("agent.query_history", 20)
	v.SetDefault("agent.budget.context_tokens", 3000)
	v.SetDefault("agent.budget.history_tokens", 2000)
	v.SetDefault("agent.budget.request_tokens", 25000)
	v.SetDefault("agent.budget.reserve_ratio", 0.2)
	v.SetDefault("agent.budget.element_ratio", 0.7)
	v.SetDefault("agent.validation.critical_actions", []string{"navigate", "click_element", "type_text"})
	v.SetDefault("agent.validation.cache_size", 100)
	v.SetDefault("agent.errors.cache_size", 200)

	// -- LLM --
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("agent.llm.requests_per_second", 2.0)
	v.SetDefault("agent.llm.burst", 2)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.max_elements", 500)
	v.SetDefault("browser.viewport", map[string]int{"width": 1366, "height": 900})

	// -- Database --
	v.SetDefault("database.url", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "WEBPILOT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// API keys are never expected in the config file.
	if key := os.Getenv("WEBPILOT_LLM_API_KEY"); key != "" {
		cfg.AgentCfg.LLM.APIKey = key
		for name, m := range cfg.AgentCfg.LLM.Models {
			if m.APIKey == "" {
				m.APIKey = key
				cfg.AgentCfg.LLM.Models[name] = m
			}
		}
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	var err error
	if c.LoggerCfg.LogFile, err = homedir.Expand(c.LoggerCfg.LogFile); err != nil {
		return fmt.Errorf("failed to expand logger.log_file: %w", err)
	}
	if c.BrowserCfg.UserDataDir, err = homedir.Expand(c.BrowserCfg.UserDataDir); err != nil {
		return fmt.Errorf("failed to expand browser.user_data_dir: %w", err)
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.AgentCfg.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if c.BrowserCfg.ActionTimeout < 0 || c.BrowserCfg.NavigationTimeout < 0 {
		return fmt.Errorf("browser timeouts must not be negative")
	}
	return nil
}

// Validate checks the AgentConfig settings.
func (a *AgentConfig) Validate() error {
	if a.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be greater than 0")
	}
	if a.StepDelay < 0 {
		return fmt.Errorf("step_delay must not be negative")
	}
	if a.CycleWindow < 2 {
		return fmt.Errorf("cycle_window must be at least 2")
	}
	if err := a.Budget.Validate(); err != nil {
		return fmt.Errorf("budget: %w", err)
	}
	if a.Validation.CacheSize <= 0 {
		return fmt.Errorf("validation.cache_size must be a positive integer")
	}
	if a.Errors.CacheSize <= 0 {
		return fmt.Errorf("errors.cache_size must be a positive integer")
	}
	return nil
}

// Validate checks the token ceilings and ratios.
func (b *BudgetConfig) Validate() error {
	if b.ContextTokens <= 0 || b.HistoryTokens <= 0 || b.RequestTokens <= 0 {
		return fmt.Errorf("token ceilings must be positive")
	}
	if b.ContextTokens > b.RequestTokens {
		return fmt.Errorf("context_tokens (%d) cannot exceed request_tokens (%d)", b.ContextTokens, b.RequestTokens)
	}
	if b.ReserveRatio < 0 || b.ReserveRatio >= 1 {
		return fmt.Errorf("reserve_ratio must be in [0, 1)")
	}
	if b.ElementRatio <= 0 || b.ElementRatio > 1 {
		return fmt.Errorf("element_ratio must be in (0, 1]")
	}
	return nil
}

// IsCritical reports whether the action class gets oracle-backed validation.
func (v ValidationConfig) IsCritical(action string) bool {
	for _, a := range v.CriticalActions {
		if a == action {
			return true
		}
	}
	return false
}
