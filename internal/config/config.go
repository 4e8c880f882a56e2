// ABOUTME: Configuration loading and parsing for coven-inbox
// ABOUTME: Supports YAML or TOML files with ${VAR} expansion, duration parsing and COVEN_INBOX_* overrides

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// COVEN_INBOX_SERVER_HTTP_ADDR.
const EnvPrefix = "COVEN_INBOX"

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "COVEN_INBOX_CONFIG"

// minSecretLength matches the HS256 secret length required by the auth package.
const minSecretLength = 32

// Config represents the complete coven-inbox configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Moderation ModerationConfig `yaml:"moderation" toml:"moderation"`
	Client     ClientConfig     `yaml:"client" toml:"client"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the gateway listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr" split_words:"true"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path" split_words:"true"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret" split_words:"true"`
	TokenTTL  time.Duration `yaml:"-" toml:"-" split_words:"true"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl" ignored:"true"`
}

// ModerationConfig holds the word-list moderation settings
type ModerationConfig struct {
	Enabled bool     `yaml:"enabled" toml:"enabled" split_words:"true"`
	Words   []string `yaml:"words" toml:"words" split_words:"true"`
	Mask    string   `yaml:"mask" toml:"mask" split_words:"true"`
}

// ClientConfig holds the chat client settings
type ClientConfig struct {
	GatewayURL string `yaml:"gateway_url" toml:"gateway_url" split_words:"true"`
	Token      string `yaml:"token" toml:"token" split_words:"true"`
	DedupeSize int    `yaml:"dedupe_size" toml:"dedupe_size" split_words:"true"`

	RequestTimeout time.Duration `yaml:"-" toml:"-" split_words:"true"`
	MinBackoff     time.Duration `yaml:"-" toml:"-" split_words:"true"`
	MaxBackoff     time.Duration `yaml:"-" toml:"-" split_words:"true"`
	DedupeTTL      time.Duration `yaml:"-" toml:"-" split_words:"true"`

	// Raw string values for file unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout" ignored:"true"`
	MinBackoffRaw     string `yaml:"min_backoff" toml:"min_backoff" ignored:"true"`
	MaxBackoffRaw     string `yaml:"max_backoff" toml:"max_backoff" ignored:"true"`
	DedupeTTLRaw      string `yaml:"dedupe_ttl" toml:"dedupe_ttl" ignored:"true"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" split_words:"true"`
	Format string `yaml:"format" toml:"format" split_words:"true"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "127.0.0.1:8080"},
		Database: DatabaseConfig{Path: defaultDatabasePath()},
		Auth:     AuthConfig{TokenTTL: 24 * time.Hour},
		Moderation: ModerationConfig{
			Mask: "*",
		},
		Client: ClientConfig{
			GatewayURL:     "http://127.0.0.1:8080",
			DedupeSize:     4096,
			RequestTimeout: 15 * time.Second,
			MinBackoff:     500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			DedupeTTL:      10 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the configuration file at path on top of the defaults, then
// applies environment overrides. An empty path skips the file.
// Environment variables in the format ${VAR_NAME} are expanded in the file.
// Files ending in .toml are parsed as TOML, anything else as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		expanded := expandEnvVars(string(data))

		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(expanded, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}

		if err := parseDurations(cfg); err != nil {
			return nil, fmt.Errorf("parsing durations: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ResolvePath returns the config file to load: $COVEN_INBOX_CONFIG, else
// coven/inbox.yaml or coven/inbox.toml under the user config directory if
// present, else "".
func ResolvePath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"inbox.yaml", "inbox.yml", "inbox.toml"} {
		p := filepath.Join(dir, "coven", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks settings shared by every command.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if c.Client.RequestTimeout <= 0 {
		return fmt.Errorf("client.request_timeout must be positive")
	}
	if c.Client.MinBackoff <= 0 {
		return fmt.Errorf("client.min_backoff must be positive")
	}
	if c.Client.MaxBackoff < c.Client.MinBackoff {
		return fmt.Errorf("client.max_backoff (%s) must not be below client.min_backoff (%s)", c.Client.MaxBackoff, c.Client.MinBackoff)
	}
	if c.Client.DedupeTTL <= 0 || c.Client.DedupeSize <= 0 {
		return fmt.Errorf("client.dedupe_ttl and client.dedupe_size must be positive")
	}
	if c.Moderation.Enabled && len([]rune(c.Moderation.Mask)) != 1 {
		return fmt.Errorf("moderation.mask must be a single character")
	}
	return nil
}

// ValidateServer checks what the gateway needs on top of Validate.
func (c *Config) ValidateServer() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	return nil
}

// ValidateClient checks what the chat client needs on top of Validate.
func (c *Config) ValidateClient() error {
	if c.Client.GatewayURL == "" {
		return fmt.Errorf("client.gateway_url is required")
	}
	if c.Client.Token == "" {
		return fmt.Errorf("client.token is required")
	}
	return nil
}

// MaskRune returns the moderation mask character.
func (c *Config) MaskRune() rune {
	r := []rune(c.Moderation.Mask)
	if len(r) == 0 {
		return '*'
	}
	return r[0]
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"client.request_timeout", cfg.Client.RequestTimeoutRaw, &cfg.Client.RequestTimeout},
		{"client.min_backoff", cfg.Client.MinBackoffRaw, &cfg.Client.MinBackoff},
		{"client.max_backoff", cfg.Client.MaxBackoffRaw, &cfg.Client.MaxBackoff},
		{"client.dedupe_ttl", cfg.Client.DedupeTTLRaw, &cfg.Client.DedupeTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func defaultDatabasePath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "coven", "inbox.db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "coven", "inbox.db")
	}
	return "inbox.db"
}
