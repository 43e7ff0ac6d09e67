package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"juryflow/jury"
)

// Config holds all settings of the juryflow service.
type Config struct {
	Jury    JuryConfig    `mapstructure:"jury"`
	Journal JournalConfig `mapstructure:"journal"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Log     LogConfig     `mapstructure:"log"`
}

// JuryConfig configures the pool created on first start. Once the journal has
// history these values are ignored in favour of the recorded ones.
type JuryConfig struct {
	Members      []string      `mapstructure:"members"`
	MinSize      int           `mapstructure:"min_size"`
	SwapInterval time.Duration `mapstructure:"swap_interval"`
	// Rotation is a cron spec for automatic reselection. Empty means every
	// SwapInterval; "off" disables the scheduler.
	Rotation     string `mapstructure:"rotation"`
	AutoFinalize bool   `mapstructure:"auto_finalize"`
	// Seed fixes the draw entropy. Only meant for test deployments.
	Seed string `mapstructure:"seed"`
}

type JournalConfig struct {
	Driver      string        `mapstructure:"driver"`
	DSN         string        `mapstructure:"dsn"`
	Path        string        `mapstructure:"path"`
	MaxConns    int32         `mapstructure:"max_conns"`
	ConnTimeout time.Duration `mapstructure:"conn_timeout"`
	AutoMigrate bool          `mapstructure:"auto_migrate"`

	// RelayInterval is how often the postgres outbox is drained; zero disables
	// the relay.
	RelayInterval time.Duration `mapstructure:"relay_interval"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	Issuer       string        `mapstructure:"issuer"`
	AdminKeyHash string        `mapstructure:"admin_key_hash"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
	Debug      bool   `mapstructure:"debug"`
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	RotationOff = "off"
)

// Load reads path (optional) and JURYFLOW_* environment overrides, e.g.
// JURYFLOW_JOURNAL_DSN for journal.dsn.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("JURYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("jury.members", []string{})
	v.SetDefault("jury.min_size", 3)
	v.SetDefault("jury.swap_interval", "24h")
	v.SetDefault("jury.rotation", "")
	v.SetDefault("jury.auto_finalize", false)
	v.SetDefault("jury.seed", "")

	v.SetDefault("journal.driver", DriverSQLite)
	v.SetDefault("journal.dsn", "")
	v.SetDefault("journal.path", "juryflow.db")
	v.SetDefault("journal.max_conns", 10)
	v.SetDefault("journal.conn_timeout", "10s")
	v.SetDefault("journal.auto_migrate", true)
	v.SetDefault("journal.relay_interval", "1s")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "15s")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "juryflow")
	v.SetDefault("auth.admin_key_hash", "")
	v.SetDefault("auth.token_ttl", "1h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.debug", false)
}

// Validate checks the settings that do not depend on journal contents. Pool
// rules (size, parity, membership count) are enforced by jury.New when the
// pool is first created.
func (c *Config) Validate() error {
	if err := c.validateJury(); err != nil {
		return fmt.Errorf("jury config: %w", err)
	}
	if err := c.validateJournal(); err != nil {
		return fmt.Errorf("journal config: %w", err)
	}
	if err := c.validateAuth(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	if c.HTTP.Addr == "" {
		return errors.New("http config: addr cannot be empty")
	}
	return nil
}

func (c *Config) validateJury() error {
	if c.Jury.SwapInterval < 0 {
		return errors.New("swap_interval cannot be negative")
	}
	return nil
}

func (c *Config) validateJournal() error {
	switch c.Journal.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Journal.Path == "" {
			return errors.New("path cannot be empty for sqlite")
		}
	case DriverPostgres:
		if c.Journal.DSN == "" {
			return errors.New("dsn cannot be empty for postgres")
		}
		if c.Journal.MaxConns <= 0 {
			return errors.New("max_conns must be positive")
		}
	default:
		return fmt.Errorf("unknown driver %q", c.Journal.Driver)
	}
	return nil
}

func (c *Config) validateAuth() error {
	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("token_ttl must be positive")
	}
	return nil
}

// PoolConfig converts the jury section into the pool's configuration.
func (c *Config) PoolConfig() jury.Config {
	return jury.Config{MinJurySize: c.Jury.MinSize, SwapInterval: c.Jury.SwapInterval}
}

// RotationSpec returns the cron spec for automatic reselection and false when
// rotation is disabled.
func (c *Config) RotationSpec() (string, bool) {
	switch {
	case c.Jury.Rotation == RotationOff:
		return "", false
	case c.Jury.Rotation != "":
		return c.Jury.Rotation, true
	case c.Jury.SwapInterval > 0:
		return "@every " + c.Jury.SwapInterval.String(), true
	default:
		return "", false
	}
}
