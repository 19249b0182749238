// Package config provides configuration types and defaults for repoloop.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/zjrosen/repoloop/internal/log"
	"github.com/zjrosen/repoloop/internal/tracing"
)

// Config holds all configuration options for repoloop.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Generation GenerationConfig `mapstructure:"generation"`
	Publishing PublishingConfig `mapstructure:"publishing"`
	Session    SessionConfig    `mapstructure:"session"`
	Store      StoreConfig      `mapstructure:"store"`
	Tracing    tracing.Config   `mapstructure:"tracing"`
}

// ServerConfig configures the HTTP daemon and the CLI's view of it.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`             // listen address for `serve`
	URL             string        `mapstructure:"url"`              // base URL the CLI commands talk to
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // grace period for runners on exit
	Heartbeat       time.Duration `mapstructure:"heartbeat"`        // SSE keepalive interval
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// GenerationConfig configures the content generation provider.
type GenerationConfig struct {
	Provider   string        `mapstructure:"provider"` // "openrouter" (default) or "gemini"
	Model      string        `mapstructure:"model"`
	BaseURL    string        `mapstructure:"base_url"`
	MaxTokens  int           `mapstructure:"max_tokens"`
	Timeout    time.Duration `mapstructure:"timeout"`
	PromptFile string        `mapstructure:"prompt_file"` // optional template file, hot reloaded
}

// PublishingConfig configures the git/gh publisher.
type PublishingConfig struct {
	Visibility     string        `mapstructure:"visibility"` // "private" (default), "public" or "internal"
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	AuthCacheTTL   time.Duration `mapstructure:"auth_cache_ttl"`
	GitUserName    string        `mapstructure:"git_user_name"`
	GitUserEmail   string        `mapstructure:"git_user_email"`
}

// SessionConfig holds per-run defaults.
type SessionConfig struct {
	DefaultPrefix  string        `mapstructure:"default_prefix"`
	IterationDelay time.Duration `mapstructure:"iteration_delay"`
	MaxIterations  int           `mapstructure:"max_iterations"` // 0 means unlimited
}

// StoreConfig configures the SQLite session store.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // default: ~/.config/repoloop/repoloop.db
}

const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"

	DefaultModel       = "x-ai/grok-4-fast"
	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultPrefix      = "repoloop"
)

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:3001",
			URL:             "http://127.0.0.1:3001",
			ShutdownTimeout: 30 * time.Second,
			Heartbeat:       30 * time.Second,
		},
		Generation: GenerationConfig{
			Provider:  ProviderOpenRouter,
			Model:     DefaultModel,
			BaseURL:   "https://openrouter.ai/api/v1",
			MaxTokens: 4096,
			Timeout:   2 * time.Minute,
		},
		Publishing: PublishingConfig{
			Visibility:     "private",
			CommandTimeout: 60 * time.Second,
			AuthCacheTTL:   5 * time.Minute,
			GitUserName:    "repoloop",
			GitUserEmail:   "repoloop@users.noreply.github.com",
		},
		Session: SessionConfig{
			DefaultPrefix:  DefaultPrefix,
			IterationDelay: 3 * time.Second,
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    DefaultStorePath(),
		},
		Tracing: tracing.Config{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     DefaultTracesFilePath(),
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  "repoloop",
		},
	}
}

// ConfigDir returns ~/.config/repoloop or empty string if home dir unavailable.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "repoloop")
}

// DefaultStorePath returns the default SQLite database location.
func DefaultStorePath() string {
	dir := ConfigDir()
	if dir == "" {
		return "repoloop.db"
	}
	return filepath.Join(dir, "repoloop.db")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// Validate checks the whole configuration, returning the first problem found.
func (c Config) Validate() error {
	if err := ValidateGeneration(c.Generation); err != nil {
		return err
	}
	if err := ValidatePublishing(c.Publishing); err != nil {
		return err
	}
	if err := ValidateSession(c.Session); err != nil {
		return err
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store.path is required when the store is enabled")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return ValidateTracing(c.Tracing)
}

// ValidateGeneration checks generation settings.
func ValidateGeneration(g GenerationConfig) error {
	switch g.Provider {
	case "", ProviderOpenRouter, ProviderGemini:
	default:
		return fmt.Errorf("generation.provider must be %q or %q, got %q", ProviderOpenRouter, ProviderGemini, g.Provider)
	}
	if g.MaxTokens < 0 {
		return fmt.Errorf("generation.max_tokens must not be negative, got %d", g.MaxTokens)
	}
	if g.Timeout < 0 {
		return fmt.Errorf("generation.timeout must not be negative, got %s", g.Timeout)
	}
	return nil
}

// ValidatePublishing checks publisher settings.
func ValidatePublishing(p PublishingConfig) error {
	switch p.Visibility {
	case "", "private", "public", "internal":
	default:
		return fmt.Errorf("publishing.visibility must be \"private\", \"public\", or \"internal\", got %q", p.Visibility)
	}
	if p.CommandTimeout < 0 {
		return fmt.Errorf("publishing.command_timeout must not be negative, got %s", p.CommandTimeout)
	}
	if p.AuthCacheTTL < 0 {
		return fmt.Errorf("publishing.auth_cache_ttl must not be negative, got %s", p.AuthCacheTTL)
	}
	return nil
}

// ValidateSession checks session defaults.
func ValidateSession(s SessionConfig) error {
	if s.DefaultPrefix != "" && !prefixPattern.MatchString(s.DefaultPrefix) {
		return fmt.Errorf("session.default_prefix %q may only contain letters, digits, '.', '_' and '-'", s.DefaultPrefix)
	}
	if s.IterationDelay < 0 {
		return fmt.Errorf("session.iteration_delay must not be negative, got %s", s.IterationDelay)
	}
	if s.MaxIterations < 0 {
		return fmt.Errorf("session.max_iterations must not be negative, got %d", s.MaxIterations)
	}
	return nil
}

// EffectiveModel returns the model a session uses when it names none. The
// OpenRouter default is swapped for the Gemini default under that provider.
func (g GenerationConfig) EffectiveModel() string {
	if g.Provider == ProviderGemini && (g.Model == "" || g.Model == DefaultModel) {
		return DefaultGeminiModel
	}
	if g.Model == "" {
		return DefaultModel
	}
	return g.Model
}

// ValidPrefix reports whether prefix can be used in a repository name.
func ValidPrefix(prefix string) bool {
	return prefixPattern.MatchString(prefix)
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(t tracing.Config) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}

	switch t.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", t.Exporter)
	}

	if t.Enabled {
		if t.Exporter == "file" && t.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if t.Exporter == "otlp" && t.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# repoloop configuration

server:
  # Address the daemon listens on (repoloop serve)
  addr: 127.0.0.1:3001
  # Base URL the CLI commands use to reach the daemon
  url: http://127.0.0.1:3001
  # How long shutdown waits for running sessions to stop
  shutdown_timeout: 30s
  # Keepalive interval for the /api/events stream
  heartbeat: 30s
  # Allowed browser origins for the API (empty allows any origin)
  cors_origins: []

generation:
  # openrouter or gemini
  provider: openrouter
  model: x-ai/grok-4-fast
  base_url: https://openrouter.ai/api/v1
  max_tokens: 4096
  timeout: 2m
  # Optional prompt template file; edits are picked up without a restart.
  # The template may reference {{GOAL}}.
  prompt_file: ""

publishing:
  # private, public or internal
  visibility: private
  # Upper bound for each git/gh command
  command_timeout: 60s
  # How long a successful "gh auth status" result is reused
  auth_cache_ttl: 5m
  git_user_name: repoloop
  git_user_email: repoloop@users.noreply.github.com

session:
  # Repository names are <prefix>-<iteration>-<random>
  default_prefix: repoloop
  # Pause between iterations
  iteration_delay: 3s
  # Upper bound on iterations per run (0 = unlimited)
  max_iterations: 0

store:
  # Persist session history to SQLite
  enabled: true
  # path: ~/.config/repoloop/repoloop.db

tracing:
  enabled: false
  # none, file, stdout or otlp
  exporter: file
  # file_path: ~/.config/repoloop/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
