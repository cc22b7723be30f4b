package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultModels is the set of classifier services the gateway fans out to,
// in dispatch order.
var DefaultModels = []string{"prompt-guard", "pii-detect", "hate-detect", "content-class"}

var defaultModelURLs = map[string]string{
	"prompt-guard":  "http://model-prompt-guard:8000",
	"pii-detect":    "http://model-pii-detect:8000",
	"hate-detect":   "http://model-hate-detect:8000",
	"content-class": "http://model-content-class:8000",
}

type Config struct {
	Server  ServerConfig
	Models  ModelConfig
	Breaker BreakerConfig
	Retry   RetryConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type ModelConfig struct {
	// Names in configured dispatch order; URLs keyed by name.
	Names          []string
	URLs           map[string]string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
}

type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

type RetryConfig struct {
	Enabled bool
	// MaxAttempts counts the first attempt, so 2 means one retry.
	MaxAttempts int
	Wait        time.Duration
}

// Load reads configuration from the environment. Keys are case-insensitive
// and unrecognised variables are ignored.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	for name, u := range defaultModelURLs {
		v.SetDefault(envKey(name), u)
	}
	v.SetDefault("model_timeout_seconds", 0.08)
	v.SetDefault("model_connect_timeout", 0.02)
	v.SetDefault("cb_failure_threshold", 5)
	v.SetDefault("cb_recovery_timeout", 30.0)
	v.SetDefault("cb_success_threshold", 3)
	v.SetDefault("retry_enabled", true)
	v.SetDefault("retry_max_attempts", 2)
	v.SetDefault("retry_wait_ms", 10)

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("host"),
			Port: v.GetInt("port"),
		},
		Models: ModelConfig{
			Names:          append([]string(nil), DefaultModels...),
			URLs:           make(map[string]string, len(DefaultModels)),
			RequestTimeout: secondsToDuration(v.GetFloat64("model_timeout_seconds")),
			ConnectTimeout: secondsToDuration(v.GetFloat64("model_connect_timeout")),
		},
		Breaker: BreakerConfig{
			FailureThreshold: v.GetInt("cb_failure_threshold"),
			RecoveryTimeout:  secondsToDuration(v.GetFloat64("cb_recovery_timeout")),
			SuccessThreshold: v.GetInt("cb_success_threshold"),
		},
		Retry: RetryConfig{
			Enabled:     v.GetBool("retry_enabled"),
			MaxAttempts: v.GetInt("retry_max_attempts"),
			Wait:        time.Duration(v.GetInt("retry_wait_ms")) * time.Millisecond,
		},
	}
	for _, name := range cfg.Models.Names {
		cfg.Models.URLs[name] = v.GetString(envKey(name))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Models.RequestTimeout <= 0 {
		return fmt.Errorf("config: model_timeout_seconds must be positive")
	}
	if c.Models.ConnectTimeout <= 0 {
		return fmt.Errorf("config: model_connect_timeout must be positive")
	}
	for name, raw := range c.Models.URLs {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: invalid URL %q for model %s", raw, name)
		}
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("config: cb_failure_threshold must be at least 1")
	}
	if c.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("config: cb_success_threshold must be at least 1")
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("config: cb_recovery_timeout must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry_max_attempts must be at least 1")
	}
	if c.Retry.Wait < 0 {
		return fmt.Errorf("config: retry_wait_ms must not be negative")
	}
	return nil
}

// envKey maps a model name to its URL variable, e.g.
// prompt-guard -> model_prompt_guard_url.
func envKey(name string) string {
	return "model_" + strings.ReplaceAll(name, "-", "_") + "_url"
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
