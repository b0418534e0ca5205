// Package serv owns the service-side concerns around the query layer:
// configuration, the shared store connection and logger construction.
package serv

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the service configuration, read from a config file with
// environment variable overrides (prefix DS_).
type Config struct {
	// Application name used in log messages
	AppName string `mapstructure:"app_name"`

	// Logging level, one of debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`

	// Logging format: "json" or "console"
	LogFormat string `mapstructure:"log_format"`

	// Database connection settings
	DB Database `mapstructure:"database"`
}

// Database holds store connection settings.
type Database struct {
	URI            string        `mapstructure:"uri"`
	DBName         string        `mapstructure:"dbname"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ConnectRetries uint          `mapstructure:"connect_retries"`
}

// ReadInConfig reads and decodes the configuration file at path.
func ReadInConfig(path string) (*Config, error) {
	vi := viper.New()
	vi.SetConfigFile(path)
	vi.SetEnvPrefix("DS")
	vi.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vi.AutomaticEnv()

	vi.SetDefault("app_name", "docstore")
	vi.SetDefault("log_level", "debug")
	vi.SetDefault("log_format", "console")
	vi.SetDefault("database.uri", "mongodb://localhost:27017")
	vi.SetDefault("database.connect_timeout", 10*time.Second)
	vi.SetDefault("database.connect_retries", 3)

	if err := vi.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config: %s", path)
	}

	c := &Config{}
	if err := vi.Unmarshal(c); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if c.DB.DBName == "" {
		return nil, errors.New("config: database.dbname is required")
	}
	return c, nil
}
