// Package config handles Saathi configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/saathi/config.yaml, /etc/saathi/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "saathi", "config.yaml"))
	}

	paths = append(paths, "/etc/saathi/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Saathi configuration.
type Config struct {
	Listen       ListenConfig       `yaml:"listen"`
	Gemini       GeminiConfig       `yaml:"gemini"`
	Conversation ConversationConfig `yaml:"conversation"`
	Breaker      BreakerConfig      `yaml:"breaker"`
	Stream       StreamConfig       `yaml:"stream"`
	ArchivePath  string             `yaml:"archive_path"`
	LogLevel     string             `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// GeminiConfig defines upstream generation settings.
type GeminiConfig struct {
	// APIKey authenticates against the generative language API.
	// Usually written as ${GEMINI_API_KEY} and expanded at load time.
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string `yaml:"base_url"`
	// Models is the fallback chain, tried in order.
	Models []string `yaml:"models"`
	// TimeoutSec bounds a single generation attempt (default 30).
	TimeoutSec int `yaml:"timeout_sec"`
	// MaxOutputTokens caps reply length (default 800).
	MaxOutputTokens int `yaml:"max_output_tokens"`
}

// ConversationConfig tunes history and onboarding behavior.
type ConversationConfig struct {
	// MaxHistory is the hard cap on stored turns per session (default 18).
	MaxHistory int `yaml:"max_history"`
	// SummarizeAfter triggers compaction when history exceeds it (default 12).
	SummarizeAfter int `yaml:"summarize_after"`
	// KeepRecent turns survive compaction verbatim (default 4).
	KeepRecent int `yaml:"keep_recent"`
	// SessionTTLMin expires idle sessions. 0 disables expiry.
	SessionTTLMin int `yaml:"session_ttl_min"`
	// EchoExtraction also runs slot extraction against model replies,
	// matching the legacy behavior. Off by default: a model can echo or
	// invent values the customer never stated.
	EchoExtraction bool `yaml:"echo_extraction"`
}

// BreakerConfig tunes the upstream circuit breaker.
type BreakerConfig struct {
	Threshold   int `yaml:"threshold"`    // consecutive failures before opening (default 3)
	CooldownSec int `yaml:"cooldown_sec"` // how long the breaker stays open (default 60)
}

// StreamConfig tunes paced delivery of replies.
type StreamConfig struct {
	PaceMs int `yaml:"pace_ms"` // delay between fragments (default 18)
}

// Timeout returns the per-attempt generation timeout.
func (g GeminiConfig) Timeout() time.Duration {
	if g.TimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(g.TimeoutSec) * time.Second
}

// SessionTTL returns the idle session expiry, or 0 if disabled.
func (c ConversationConfig) SessionTTL() time.Duration {
	if c.SessionTTLMin <= 0 {
		return 0
	}
	return time.Duration(c.SessionTTLMin) * time.Minute
}

// Cooldown returns the breaker cooldown window.
func (b BreakerConfig) Cooldown() time.Duration {
	if b.CooldownSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(b.CooldownSec) * time.Second
}

// Pace returns the streaming fragment interval.
func (s StreamConfig) Pace() time.Duration {
	if s.PaceMs <= 0 {
		return 18 * time.Millisecond
	}
	return time.Duration(s.PaceMs) * time.Millisecond
}

// LoadDotenv loads a .env file from the working directory if present.
// A missing file is not an error; a malformed one is.
func LoadDotenv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	return godotenv.Load()
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration. The Gemini API key is taken
// from the environment so the server can run without a config file.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Gemini: GeminiConfig{
			APIKey:          os.Getenv("GEMINI_API_KEY"),
			Models:          []string{"gemini-2.0-flash", "gemini-2.0-flash-lite", "gemini-1.5-flash"},
			TimeoutSec:      30,
			MaxOutputTokens: 800,
		},
		Conversation: ConversationConfig{
			MaxHistory:     18,
			SummarizeAfter: 12,
			KeepRecent:     4,
		},
		Breaker: BreakerConfig{Threshold: 3, CooldownSec: 60},
		Stream:  StreamConfig{PaceMs: 18},
	}
}
