/*
config.go - Daemon configuration

PURPOSE:
  Loads territoryd settings from a TOML file and the environment.

PRIORITY (highest to lowest):
  1. Environment variables with the TERRITORY_ prefix
     (TERRITORY_DATABASE_PATH, TERRITORY_HTTP_ADDR, ...)
  2. The TOML file (explicit path, or territory.toml in . or /etc/territoryd)
  3. Built-in defaults

EXAMPLE territory.toml:

  [http]
  addr = ":8080"
  request_timeout = "15s"

  [database]
  path = "territory.db"

  [retry]
  max_attempts = 4
  initial_interval = "25ms"

SEE ALSO:
  - cmd/territoryd: Loads this once at startup
  - logging: Consumes the [log] section
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/warp/territory-engine/generic"
	"github.com/warp/territory-engine/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TERRITORY"

// Config holds all daemon configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      logging.Config `mapstructure:"log"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Payout   PayoutConfig   `mapstructure:"payout"`
}

// AppConfig holds application-wide settings.
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"` // development, production
	// Scenarios enables the demo data endpoints, which wipe the database.
	Scenarios bool `mapstructure:"scenarios"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Addr               string        `mapstructure:"addr"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
}

// DatabaseConfig holds the SQLite location.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RetryConfig bounds retries of transient storage failures.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// Policy converts the section into a generic.RetryPolicy.
func (r RetryConfig) Policy() generic.RetryPolicy {
	return generic.RetryPolicy{
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
	}
}

// PayoutConfig holds settlement settings.
type PayoutConfig struct {
	// ChunkSize is how many approved rows one payout transaction settles.
	ChunkSize int `mapstructure:"chunk_size"`
}

// IsProduction reports whether the daemon runs in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Load reads configuration. An empty path searches for territory.toml; a
// missing file is fine in that case. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("territory")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/territoryd")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "territoryd")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.scenarios", false)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.request_timeout", 15*time.Second)
	v.SetDefault("http.cors_allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	v.SetDefault("database.path", "territory.db")

	def := logging.DefaultConfig()
	v.SetDefault("log.level", def.Level)
	v.SetDefault("log.format", def.Format)
	v.SetDefault("log.output", def.Output)

	retry := generic.DefaultRetryPolicy()
	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.initial_interval", retry.InitialInterval)
	v.SetDefault("retry.max_interval", retry.MaxInterval)

	v.SetDefault("payout.chunk_size", 100)
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	var problems []string

	if c.App.Env != "development" && c.App.Env != "production" {
		problems = append(problems, fmt.Sprintf("app.env must be development or production, got %q", c.App.Env))
	}
	if c.App.Scenarios && c.IsProduction() {
		problems = append(problems, "app.scenarios cannot be enabled in production")
	}
	if c.HTTP.Addr == "" {
		problems = append(problems, "http.addr is required")
	}
	if c.HTTP.RequestTimeout <= 0 {
		problems = append(problems, "http.request_timeout must be positive")
	}
	if c.Database.Path == "" {
		problems = append(problems, "database.path is required")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, "log.level: "+err.Error())
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		problems = append(problems, fmt.Sprintf("log.format must be json or console, got %q", c.Log.Format))
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry.max_attempts must be at least 1")
	}
	if c.Retry.MaxInterval > 0 && c.Retry.MaxInterval < c.Retry.InitialInterval {
		problems = append(problems, "retry.max_interval must not be below retry.initial_interval")
	}
	if c.Payout.ChunkSize < 1 {
		problems = append(problems, "payout.chunk_size must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
