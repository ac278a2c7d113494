// Package config loads politone settings from a YAML file and POLITONE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/valpere/politone/internal/analysis"
	"github.com/valpere/politone/internal/cache"
	"github.com/valpere/politone/internal/chunker"
	"github.com/valpere/politone/internal/llm"
	"github.com/valpere/politone/internal/orchestrator"
	"github.com/valpere/politone/internal/rewriter"
)

const (
	AppName    = "politone"
	EnvPrefix  = "POLITONE"
	ConfigName = "politone"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Log      LogConfig      `mapstructure:"log"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Heartbeat       time.Duration `mapstructure:"heartbeat"`
}

type PipelineConfig struct {
	MaxTextLength      int           `mapstructure:"max_text_length"`
	MaxPromptLength    int           `mapstructure:"max_prompt_length"`
	MaxSelectionLength int           `mapstructure:"max_selection_length"`
	ContextWindow      int           `mapstructure:"context_window"`
	ValidationRetries  int           `mapstructure:"validation_retries"`
	CallRetries        int           `mapstructure:"call_retries"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
	CallTimeout        time.Duration `mapstructure:"call_timeout"`
	AnalysisTimeout    time.Duration `mapstructure:"analysis_timeout"`
	FlagWarnings       bool          `mapstructure:"flag_warnings"`
}

type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	// APIKeyEnv names the environment variable holding the key when APIKey
	// is empty. Defaults to the provider's conventional variable.
	APIKeyEnv    string    `mapstructure:"api_key_env"`
	BaseURL      string    `mapstructure:"base_url"`
	Tiers        llm.Tiers `mapstructure:"tiers"`
	AnalysisTier int       `mapstructure:"analysis_tier"`
}

type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxEntries    int           `mapstructure:"max_entries"`
	DBPath        string        `mapstructure:"db_path"`
}

type RulesConfig struct {
	// Path points to a YAML rule file merged over the built-in rules.
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// DataDir is where the SQLite database lives by default.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// ConfigDir is searched for politone.yaml after the working directory.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.request_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.heartbeat", 15*time.Second)

	v.SetDefault("pipeline.max_text_length", 1000)
	v.SetDefault("pipeline.max_prompt_length", 500)
	v.SetDefault("pipeline.max_selection_length", 300)
	v.SetDefault("pipeline.context_window", chunker.DefaultWindowRunes)
	v.SetDefault("pipeline.validation_retries", 1)
	v.SetDefault("pipeline.call_retries", 2)
	v.SetDefault("pipeline.retry_backoff", 500*time.Millisecond)
	v.SetDefault("pipeline.call_timeout", 30*time.Second)
	v.SetDefault("pipeline.analysis_timeout", 45*time.Second)
	v.SetDefault("pipeline.flag_warnings", false)

	v.SetDefault("llm.provider", llm.ProviderOllama)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.api_key_env", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.tiers", []map[string]any{
		{"model": "qwen2.5:7b", "max_tokens": 1024},
		{"model": "qwen2.5:32b", "max_tokens": 1024},
	})
	v.SetDefault("llm.analysis_tier", 0)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", cache.DefaultTTL)
	v.SetDefault("cache.sweep_interval", cache.DefaultSweepInterval)
	v.SetDefault("cache.max_entries", cache.DefaultMaxEntries)
	v.SetDefault("cache.db_path", filepath.Join(DataDir(), AppName+".db"))

	v.SetDefault("rules.path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads configuration. An explicit path must exist; otherwise
// ./politone.yaml and the XDG config directory are searched and a missing
// file is not an error. Environment variables such as
// POLITONE_LLM_PROVIDER override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(ConfigDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.resolveAPIKey()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var defaultKeyEnv = map[string]string{
	llm.ProviderOpenAI:     "OPENAI_API_KEY",
	llm.ProviderOpenRouter: "OPENROUTER_API_KEY",
	llm.ProviderDeepSeek:   "DEEPSEEK_API_KEY",
	llm.ProviderGemini:     "GEMINI_API_KEY",
}

func (c *Config) resolveAPIKey() {
	if c.LLM.APIKey != "" {
		return
	}
	env := c.LLM.APIKeyEnv
	if env == "" {
		env = defaultKeyEnv[strings.ToLower(c.LLM.Provider)]
	}
	if env != "" {
		c.LLM.APIKey = os.Getenv(env)
	}
}

// Validate checks the settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return ErrNoAddr
	}
	if !slices.Contains(llm.Providers(), strings.ToLower(c.LLM.Provider)) {
		return fmt.Errorf("%w %q (available: %s)", ErrUnknownProvider, c.LLM.Provider, strings.Join(llm.Providers(), ", "))
	}
	if err := c.LLM.Tiers.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrNoTiers, err)
	}
	if c.LLM.AnalysisTier < 0 || c.LLM.AnalysisTier >= len(c.LLM.Tiers) {
		return ErrInvalidAnalysisTier
	}

	p := c.Pipeline
	for _, n := range []int{p.MaxTextLength, p.MaxPromptLength, p.MaxSelectionLength, p.ContextWindow} {
		if n <= 0 {
			return ErrInvalidLength
		}
	}
	if p.ValidationRetries < 0 || p.CallRetries < 0 {
		return ErrInvalidRetries
	}
	for _, d := range []time.Duration{p.CallTimeout, p.AnalysisTimeout, c.Server.RequestTimeout} {
		if d <= 0 {
			return ErrInvalidTimeout
		}
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return ErrInvalidTTL
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w %q", ErrInvalidLogLevel, c.Log.Level)
	}
	return nil
}

// CapabilityConfig is what llm.New needs.
func (c *Config) CapabilityConfig() llm.Config {
	return llm.Config{
		Provider: c.LLM.Provider,
		APIKey:   c.LLM.APIKey,
		BaseURL:  c.LLM.BaseURL,
		Tiers:    c.LLM.Tiers,
	}
}

func (c *Config) callPolicy() llm.Policy {
	return llm.Policy{
		Attempts: c.Pipeline.CallRetries + 1,
		Backoff:  c.Pipeline.RetryBackoff,
		Timeout:  c.Pipeline.CallTimeout,
	}
}

func (c *Config) AnalysisConfig() analysis.Config {
	tier := llm.Tier(c.LLM.AnalysisTier)
	return analysis.Config{
		Tier:      tier,
		MaxTokens: c.LLM.Tiers.MaxTokens(tier),
		Policy:    c.callPolicy(),
		Timeout:   c.Pipeline.AnalysisTimeout,
	}
}

func (c *Config) RewriterConfig() rewriter.Config {
	return rewriter.Config{Tiers: c.LLM.Tiers, Policy: c.callPolicy()}
}

func (c *Config) PipelineConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxTextLength:      c.Pipeline.MaxTextLength,
		MaxPromptLength:    c.Pipeline.MaxPromptLength,
		MaxSelectionLength: c.Pipeline.MaxSelectionLength,
		ContextWindow:      c.Pipeline.ContextWindow,
		ValidationRetries:  c.Pipeline.ValidationRetries,
		FlagWarnings:       c.Pipeline.FlagWarnings,
		Tiers:              c.LLM.Tiers,
	}
}

// CacheSettings returns the cache tuning; TTL is zero when caching is off.
func (c *Config) CacheSettings() cache.Config {
	if !c.Cache.Enabled {
		return cache.Config{MaxEntries: c.Cache.MaxEntries}
	}
	return cache.Config{TTL: c.Cache.TTL, MaxEntries: c.Cache.MaxEntries}
}
