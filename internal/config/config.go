package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the watch, relay and serve commands.
type Config struct {
	Detect    DetectConfig    `yaml:"detect"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Extract   ExtractConfig   `yaml:"extract"`
	Summarize SummarizeConfig `yaml:"summarize"`
	Feed      FeedConfig      `yaml:"feed"`
	Relay     RelayConfig     `yaml:"relay"`
	LogDir    string          `yaml:"log_dir"`
	Debug     bool            `yaml:"debug"`
}

// DetectConfig controls the change detector's trigger cadences.
type DetectConfig struct {
	URLPoll  time.Duration `yaml:"url_poll"` // URL change check cycle
	Fallback time.Duration `yaml:"fallback"` // recompute even without mutations
	// ViewPatterns are URL substrings that identify a thread view.
	ViewPatterns []string `yaml:"view_patterns"`
}

// DispatchConfig is the channel-level retry policy.
type DispatchConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type ExtractConfig struct {
	ReadabilityFallback bool `yaml:"readability_fallback"`
}

// SummarizeConfig covers both the client and the Ollama-backed service.
type SummarizeConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	Listen     string        `yaml:"listen"`
	Model      string        `yaml:"model"`
	OllamaHost string        `yaml:"ollama_host"`
}

type FeedConfig struct {
	Port int `yaml:"port"`
}

// RelayConfig selects the boundary. An empty URL means in-process.
type RelayConfig struct {
	Port int    `yaml:"port"`
	URL  string `yaml:"url"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Detect: DetectConfig{
			URLPoll:      500 * time.Millisecond,
			Fallback:     2 * time.Second,
			ViewPatterns: []string{"#inbox/", "#all/"},
		},
		Dispatch: DispatchConfig{
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
		Summarize: SummarizeConfig{
			BaseURL:    "http://localhost:5000",
			Timeout:    30 * time.Second,
			Listen:     "localhost:5000",
			Model:      "llama3.2",
			OllamaHost: "http://localhost:11434",
		},
		Feed:   FeedConfig{Port: 19292},
		Relay:  RelayConfig{Port: 19293},
		LogDir: filepath.Join(home, ".local", "share", "threadsum"),
	}
}

// DefaultPath returns ~/.config/threadsum/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "threadsum", "config.yaml")
}

// Load returns Default() overlaid with the YAML file at path (if it exists)
// and then with environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("THREADSUM_SUMMARIZER_URL"); v != "" {
		c.Summarize.BaseURL = v
	}
	if v := os.Getenv("THREADSUM_LOG_DIR"); v != "" {
		c.LogDir = v
	}
	if v := os.Getenv("THREADSUM_MODEL"); v != "" {
		c.Summarize.Model = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Summarize.OllamaHost = v
	}
	if v := os.Getenv("THREADSUM_RELAY_URL"); v != "" {
		c.Relay.URL = v
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Detect.URLPoll <= 0 {
		return fmt.Errorf("detect.url_poll must be positive, got %s", c.Detect.URLPoll)
	}
	if c.Detect.Fallback <= 0 {
		return fmt.Errorf("detect.fallback must be positive, got %s", c.Detect.Fallback)
	}
	if len(c.Detect.ViewPatterns) == 0 {
		return fmt.Errorf("detect.view_patterns must not be empty")
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch.max_retries must not be negative, got %d", c.Dispatch.MaxRetries)
	}
	if c.Dispatch.RetryDelay < 0 {
		return fmt.Errorf("dispatch.retry_delay must not be negative, got %s", c.Dispatch.RetryDelay)
	}
	if c.Summarize.BaseURL == "" {
		return fmt.Errorf("summarize.base_url must be set")
	}
	if c.Summarize.Timeout <= 0 {
		return fmt.Errorf("summarize.timeout must be positive, got %s", c.Summarize.Timeout)
	}
	return nil
}
