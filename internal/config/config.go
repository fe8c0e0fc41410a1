// Package config loads nanoq settings from a YAML file and NANOQ_ prefixed
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/tobsdb/nanoq/internal/adapter"
	"github.com/tobsdb/nanoq/internal/adapter/memory"
	"github.com/tobsdb/nanoq/internal/adapter/sqlite"
	"github.com/tobsdb/nanoq/internal/query"
	"github.com/tobsdb/nanoq/pkg"
)

const EnvPrefix = "NANOQ"

type Config struct {
	Database struct {
		Id string `mapstructure:"id"`
		// path to a schema DSL file
		Schema string `mapstructure:"schema"`
	} `mapstructure:"database"`

	Storage struct {
		// memory | sqlite
		Adapter  string `mapstructure:"adapter"`
		Path     string `mapstructure:"path"`
		Compress bool   `mapstructure:"compress"`
	} `mapstructure:"storage"`

	Server struct {
		Port  int  `mapstructure:"port"`
		Debug bool `mapstructure:"debug"`
	} `mapstructure:"server"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Cache struct {
		Size int `mapstructure:"size"`
	} `mapstructure:"cache"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.id", "nanoq")
	v.SetDefault("database.schema", "")
	v.SetDefault("storage.adapter", "memory")
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.compress", false)
	v.SetDefault("server.port", 7085)
	v.SetDefault("server.debug", false)
	v.SetDefault("log.level", "error")
	v.SetDefault("cache.size", query.DefaultCacheSize)
}

// LoadConfig reads path when it is set, then applies environment overrides
// such as NANOQ_STORAGE_ADAPTER=sqlite.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Adapter {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite adapter")
		}
	default:
		return fmt.Errorf("Unknown storage adapter %q", c.Storage.Adapter)
	}
	if c.Database.Id == "" {
		return fmt.Errorf("database.id is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("Invalid server port %d", c.Server.Port)
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("Invalid cache size %d", c.Cache.Size)
	}
	return nil
}

// LogLevel is the configured level, raised to debug when server.debug is set.
func (c *Config) LogLevel() pkg.LogLevel {
	if c.Server.Debug {
		return pkg.LogLevelDebug
	}
	return pkg.ParseLogLevel(c.Log.Level)
}

// Apply pushes the process-wide settings into the logger and the query caches.
func (c *Config) Apply() error {
	pkg.SetLogLevel(c.LogLevel())
	return query.SetCacheSize(c.Cache.Size)
}

func (c *Config) NewAdapter() (adapter.Adapter, error) {
	switch c.Storage.Adapter {
	case "sqlite":
		if err := os.MkdirAll(c.Storage.Path, 0755); err != nil {
			return nil, err
		}
		a, err := sqlite.New(c.Storage.Path, c.Storage.Compress)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "memory":
		return memory.New(), nil
	}
	return nil, fmt.Errorf("Unknown storage adapter %q", c.Storage.Adapter)
}

// ReadSchema returns the schema DSL text, or "" when no schema file is set.
func (c *Config) ReadSchema() (string, error) {
	if c.Database.Schema == "" {
		return "", nil
	}
	buf, err := os.ReadFile(c.Database.Schema)
	if err != nil {
		return "", fmt.Errorf("read schema: %w", err)
	}
	return string(buf), nil
}
