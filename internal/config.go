package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Registry file names inside the registry directory.
const (
	LogFileName        = "issues.jsonl"
	CacheFileName      = "db.sqlite"
	SocketFileName     = "td.sock"
	PIDFileName        = "daemon.pid"
	LockFileName       = "daemon.lock"
	TraceInboxFileName = "trace_inbox.jsonl"
	ConfigFileName     = "config.yaml"
)

// DefaultRegistryDir is the per-project registry directory.
const DefaultRegistryDir = ".tandas"

// Generation providers.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config represents the application configuration, loaded from
// <registry>/config.yaml when present.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Registry RegistryConfig    `yaml:"registry"`
	Daemon   DaemonConfig      `yaml:"daemon"`
	AI       AIConfig          `yaml:"ai"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Registry.Validate(); err != nil {
		return err
	}
	if err := c.Daemon.Validate(); err != nil {
		return err
	}
	return c.AI.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// RegistryConfig locates the registry directory.
type RegistryConfig struct {
	Dir string `yaml:"dir"`
}

// Validate validates the registry configuration.
func (c *RegistryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// LogPath returns the path of the authoritative JSONL log.
func (c *RegistryConfig) LogPath() string { return filepath.Join(c.Dir, LogFileName) }

// CachePath returns the path of the SQLite query cache.
func (c *RegistryConfig) CachePath() string { return filepath.Join(c.Dir, CacheFileName) }

// SocketPath returns the daemon's unix socket path.
func (c *RegistryConfig) SocketPath() string { return filepath.Join(c.Dir, SocketFileName) }

// PIDPath returns the daemon pid file path.
func (c *RegistryConfig) PIDPath() string { return filepath.Join(c.Dir, PIDFileName) }

// LockPath returns the daemon lock file path.
func (c *RegistryConfig) LockPath() string { return filepath.Join(c.Dir, LockFileName) }

// TraceInboxPath returns the trace inbox path.
func (c *RegistryConfig) TraceInboxPath() string { return filepath.Join(c.Dir, TraceInboxFileName) }

// ConfigPath returns the configuration file path.
func (c *RegistryConfig) ConfigPath() string { return filepath.Join(c.Dir, ConfigFileName) }

// Root returns the project root the registry directory lives in.
func (c *RegistryConfig) Root() string { return filepath.Dir(c.Dir) }

// DaemonConfig holds daemon behavior configuration.
type DaemonConfig struct {
	// IntervalSeconds is the cache-to-log export period.
	IntervalSeconds int `yaml:"interval_seconds"`
	// HTTPPort, when non-zero, exposes the read-only HTTP API.
	HTTPPort int `yaml:"http_port"`
	// TraceDir, when set, is watched for new trace artifacts.
	TraceDir string `yaml:"trace_dir"`
}

// Interval returns the export period as a duration.
func (c *DaemonConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Address returns the HTTP listen address.
func (c *DaemonConfig) Address() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// Validate validates the daemon configuration.
func (c *DaemonConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.IntervalSeconds, validation.Required, validation.Min(1), validation.Max(3600)),
		validation.Field(&c.HTTPPort, validation.Min(0), validation.Max(65535)),
	)
}

// AIConfig selects the test-generation provider.
type AIConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// Validate validates the AI configuration.
func (c *AIConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.In(ProviderClaude, ProviderOpenAI, ProviderGemini)),
	)
}

// NewDefaultConfig returns a Config with sensible default values for a
// registry rooted at dir.
func NewDefaultConfig(dir string) *Config {
	if dir == "" {
		dir = DefaultRegistryDir
	}
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Registry: RegistryConfig{
			Dir: dir,
		},
		Daemon: DaemonConfig{
			IntervalSeconds: 30,
			TraceDir:        "traces",
		},
		AI: AIConfig{
			Provider: ProviderClaude,
		},
	}
}
