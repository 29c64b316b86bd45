// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "STRATA"

const (
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
	DefaultBranch          = "main"
	DefaultObjectCacheSize = 1024
)

type Config struct {
	Root            string `mapstructure:"root"`
	LogLevel        string `mapstructure:"log_level"`  // debug, info, warn, error
	LogFormat       string `mapstructure:"log_format"` // console or json
	DefaultBranch   string `mapstructure:"default_branch"`
	ObjectCacheSize int    `mapstructure:"object_cache_size"`

	Audit struct {
		Path string `mapstructure:"path"` // empty keeps the audit trail in memory
	} `mapstructure:"audit"`

	Auth struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"auth"`
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	v.SetDefault("root", filepath.Join(home, ".strata", "repos"))
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", DefaultLogFormat)
	v.SetDefault("default_branch", DefaultBranch)
	v.SetDefault("object_cache_size", DefaultObjectCacheSize)
	v.SetDefault("audit.path", "")
	v.SetDefault("auth.secret", "")
}

// Load reads configuration from path (optional) and STRATA_* environment variables.
// Nested keys map to env names with underscores, e.g. STRATA_AUDIT_PATH.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("config: root is required")
	}
	if c.DefaultBranch == "" {
		return fmt.Errorf("config: default_branch is required")
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("config: log_format must be console or json, got %q", c.LogFormat)
	}
	if c.ObjectCacheSize <= 0 {
		return fmt.Errorf("config: object_cache_size must be positive, got %d", c.ObjectCacheSize)
	}
	return nil
}
