package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/wricardo/pokerboy/game/session"
	"github.com/wricardo/pokerboy/observability"
)

var (
	ErrConfigNotFound = errors.New("configuration not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "POKERBOY_"

// Config is the client configuration
type Config struct {
	Name              string
	ServerURL         string
	Username          string
	SecretsDir        string
	LogLevel          string
	HeartbeatInterval time.Duration
	JoinPollInterval  time.Duration
	JoinMaxAttempts   int
	CreateTimeout     time.Duration
	AutoClaimAdmin    bool
	APIHost           string
	APIPort           int
}

// fileConfig mirrors the TOML layout. Durations are strings like "10ms".
type fileConfig struct {
	Name              string `toml:"name"`
	ServerURL         string `toml:"server_url"`
	Username          string `toml:"username"`
	SecretsDir        string `toml:"secrets_dir"`
	LogLevel          string `toml:"log_level"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	JoinPollInterval  string `toml:"join_poll_interval"`
	JoinMaxAttempts   int    `toml:"join_max_attempts"`
	CreateTimeout     string `toml:"create_timeout"`
	AutoClaimAdmin    bool   `toml:"auto_claim_admin"`
	APIHost           string `toml:"api_host"`
	APIPort           int    `toml:"api_port"`
}

// Default returns the built-in configuration
func Default() *Config {
	opts := session.DefaultOptions()
	return &Config{
		Name:              "default",
		ServerURL:         "ws://localhost:4000/socket",
		SecretsDir:        defaultSecretsDir(),
		LogLevel:          "info",
		HeartbeatInterval: 30 * time.Second,
		JoinPollInterval:  opts.JoinPollInterval,
		JoinMaxAttempts:   opts.JoinMaxAttempts,
		CreateTimeout:     opts.CreateTimeout,
		AutoClaimAdmin:    opts.AutoClaimAdmin,
		APIHost:           "localhost",
		APIPort:           8080,
	}
}

func defaultSecretsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pokerboy/secrets"
	}
	return filepath.Join(home, ".pokerboy", "secrets")
}

// Load reads a TOML file over the defaults. Keys absent from the file keep
// their default value.
func Load(path string) (*Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.apply(meta, raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: %s: unknown key %q", ErrInvalidConfig, path, undecoded[0].String())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) apply(meta toml.MetaData, raw fileConfig) error {
	if meta.IsDefined("name") {
		c.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("server_url") {
		c.ServerURL = strings.TrimSpace(raw.ServerURL)
	}
	if meta.IsDefined("username") {
		c.Username = strings.TrimSpace(raw.Username)
	}
	if meta.IsDefined("secrets_dir") {
		c.SecretsDir = strings.TrimSpace(raw.SecretsDir)
	}
	if meta.IsDefined("log_level") {
		c.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("join_max_attempts") {
		c.JoinMaxAttempts = raw.JoinMaxAttempts
	}
	if meta.IsDefined("auto_claim_admin") {
		c.AutoClaimAdmin = raw.AutoClaimAdmin
	}
	if meta.IsDefined("api_host") {
		c.APIHost = strings.TrimSpace(raw.APIHost)
	}
	if meta.IsDefined("api_port") {
		c.APIPort = raw.APIPort
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"heartbeat_interval", raw.HeartbeatInterval, &c.HeartbeatInterval},
		{"join_poll_interval", raw.JoinPollInterval, &c.JoinPollInterval},
		{"create_timeout", raw.CreateTimeout, &c.CreateTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	return nil
}

// ApplyEnv overrides fields from POKERBOY_* variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("SERVER_URL", &c.ServerURL)
	str("USERNAME", &c.Username)
	str("SECRETS_DIR", &c.SecretsDir)
	str("LOG_LEVEL", &c.LogLevel)
	str("API_HOST", &c.APIHost)

	if v, ok := lookup(EnvPrefix + "API_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sAPI_PORT: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		c.APIPort = port
	}

	if v, ok := lookup(EnvPrefix + "AUTO_CLAIM_ADMIN"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sAUTO_CLAIM_ADMIN: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		c.AutoClaimAdmin = enabled
	}

	return nil
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return fmt.Errorf("%w: server_url is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("%w: server_url: %v", ErrInvalidConfig, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("%w: server_url scheme must be ws, wss, http or https", ErrInvalidConfig)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: server_url has no host", ErrInvalidConfig)
	}

	if c.SecretsDir == "" {
		return fmt.Errorf("%w: secrets_dir is required", ErrInvalidConfig)
	}
	if _, err := observability.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat_interval must be positive", ErrInvalidConfig)
	}
	if c.JoinPollInterval <= 0 {
		return fmt.Errorf("%w: join_poll_interval must be positive", ErrInvalidConfig)
	}
	if c.JoinMaxAttempts < 1 {
		return fmt.Errorf("%w: join_max_attempts must be at least 1", ErrInvalidConfig)
	}
	if c.CreateTimeout < 0 {
		return fmt.Errorf("%w: create_timeout cannot be negative", ErrInvalidConfig)
	}
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("%w: api_port %d out of range", ErrInvalidConfig, c.APIPort)
	}

	return nil
}

// DirectoryOptions converts the join settings for session.NewDirectory
func (c *Config) DirectoryOptions() session.Options {
	return session.Options{
		JoinPollInterval: c.JoinPollInterval,
		JoinMaxAttempts:  c.JoinMaxAttempts,
		CreateTimeout:    c.CreateTimeout,
		AutoClaimAdmin:   c.AutoClaimAdmin,
	}
}

// APIAddr returns host:port for the local API
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

// Save writes the configuration as TOML
func (c *Config) Save(path string) error {
	raw := fileConfig{
		Name:              c.Name,
		ServerURL:         c.ServerURL,
		Username:          c.Username,
		SecretsDir:        c.SecretsDir,
		LogLevel:          c.LogLevel,
		HeartbeatInterval: c.HeartbeatInterval.String(),
		JoinPollInterval:  c.JoinPollInterval.String(),
		JoinMaxAttempts:   c.JoinMaxAttempts,
		CreateTimeout:     c.CreateTimeout.String(),
		AutoClaimAdmin:    c.AutoClaimAdmin,
		APIHost:           c.APIHost,
		APIPort:           c.APIPort,
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(raw); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
