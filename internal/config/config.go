package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// EnvPrefix is the prefix for environment overrides, e.g. INBOXAGENT_GMAIL_LABEL.
const EnvPrefix = "INBOXAGENT"

// GmailConfig configures the watched mailbox and the OAuth artifacts.
type GmailConfig struct {
	// Label is the human-readable label name the poller watches.
	Label string `mapstructure:"label" yaml:"label"`

	// PollInterval is the pause between the end of one cycle and the start of the next.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// PageSize caps the number of messages fetched per cycle.
	PageSize int64 `mapstructure:"page_size" yaml:"page_size"`

	// KeysPath points to the OAuth client keys (installed or web shape).
	KeysPath string `mapstructure:"keys_path" yaml:"keys_path"`

	// CredentialsPath points to the stored user credentials.
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
}

// StoreConfig selects and configures the idempotency/session store.
type StoreConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver"`
	SQLitePath    string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix" yaml:"redis_prefix"`
}

// WorkspaceConfig locates per-sender conversation workspaces.
type WorkspaceConfig struct {
	Root string `mapstructure:"root" yaml:"root"`

	// Template is an optional starter document copied into new workspaces.
	Template string `mapstructure:"template" yaml:"template"`
}

// AgentConfig configures the external agent executor command.
type AgentConfig struct {
	Command string        `mapstructure:"command" yaml:"command"`
	Args    []string      `mapstructure:"args" yaml:"args"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Debug  bool   `mapstructure:"debug" yaml:"debug"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Config is the top-level configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir" yaml:"data_dir"`
	Gmail     GmailConfig     `mapstructure:"gmail" yaml:"gmail"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Workspace WorkspaceConfig `mapstructure:"workspace" yaml:"workspace"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// DefaultConfigPath returns ~/.config/inboxagent/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "inboxagent", "config.yaml")
}

// DefaultDataDir returns the platform data directory for inboxagent.
func DefaultDataDir() string {
	return filepath.Join(userDataDir(), "inboxagent")
}

func userDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support")
	case "windows":
		if v := os.Getenv("LOCALAPPDATA"); v != "" {
			return v
		}
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg
	}
	return filepath.Join(homeDir(), ".local", "share")
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())

	v.SetDefault("gmail.label", "agent")
	v.SetDefault("gmail.poll_interval", "60s")
	v.SetDefault("gmail.page_size", 10)
	v.SetDefault("gmail.keys_path", "")
	v.SetDefault("gmail.credentials_path", "")

	v.SetDefault("store.driver", StoreSQLite)
	v.SetDefault("store.sqlite_path", "")
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", "inboxagent")

	v.SetDefault("workspace.root", "")
	v.SetDefault("workspace.template", "")

	v.SetDefault("agent.command", "")
	v.SetDefault("agent.args", []string{})
	v.SetDefault("agent.timeout", "10m")

	v.SetDefault("server.metrics_addr", ":9090")

	v.SetDefault("log.debug", false)
	v.SetDefault("log.format", "text")
}

// Load reads configuration from the YAML file at path, then applies
// INBOXAGENT_* environment overrides and defaults. A missing file is not
// an error. An empty path means DefaultConfigPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolvePaths fills data-dir relative defaults for unset paths.
func (c *Config) resolvePaths() {
	if c.Gmail.KeysPath == "" {
		c.Gmail.KeysPath = filepath.Join(c.DataDir, "client_secret.json")
	}
	if c.Gmail.CredentialsPath == "" {
		c.Gmail.CredentialsPath = filepath.Join(c.DataDir, "credentials.json")
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = filepath.Join(c.DataDir, "inboxagent.db")
	}
	if c.Workspace.Root == "" {
		c.Workspace.Root = filepath.Join(c.DataDir, "conversations")
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Gmail.Label) == "" {
		return fmt.Errorf("gmail.label must not be empty")
	}
	if c.Gmail.PollInterval < time.Second {
		return fmt.Errorf("gmail.poll_interval must be at least 1s, got %s", c.Gmail.PollInterval)
	}
	if c.Gmail.PageSize < 1 || c.Gmail.PageSize > 500 {
		return fmt.Errorf("gmail.page_size must be between 1 and 500, got %d", c.Gmail.PageSize)
	}

	switch c.Store.Driver {
	case StoreSQLite:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for the redis store")
		}
	default:
		return fmt.Errorf("invalid store.driver %q, must be one of: sqlite, redis", c.Store.Driver)
	}

	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("agent.timeout must be positive, got %s", c.Agent.Timeout)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q, must be one of: text, json", c.Log.Format)
	}

	return nil
}
