package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	URL             string        `mapstructure:"url"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	HTTPAuth        bool          `mapstructure:"http_auth"`
	HTTPUsername    string        `mapstructure:"http_username"`
	HTTPPassword    string        `mapstructure:"http_password"`
	LazyServer      bool          `mapstructure:"lazy_server"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	LazyReadTimeout time.Duration `mapstructure:"lazy_read_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	AllowInsecure   bool          `mapstructure:"allow_insecure"`
}

type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	StatePath   string        `mapstructure:"state_path"`
	SearchIndex string        `mapstructure:"search_index"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	UpdateInterval       time.Duration `mapstructure:"update_interval"`
	CleanupInterval      time.Duration `mapstructure:"cleanup_interval"`
	HousekeepingInterval time.Duration `mapstructure:"housekeeping_interval"`
	ArticleLimit         int           `mapstructure:"article_limit"`
	CacheLimit           int           `mapstructure:"cache_limit"`
	MinUpdateLimit       int           `mapstructure:"min_update_limit"`
	MaxPageSize          int           `mapstructure:"max_page_size"`
	MaxIDListLength      int           `mapstructure:"max_id_list_length"`
	FreshMaxAge          time.Duration `mapstructure:"fresh_max_age"`
	Workers              int           `mapstructure:"workers"`
	DecodeBudget         int64         `mapstructure:"decode_budget"`
	ProbeSubscriptions   bool          `mapstructure:"probe_subscriptions"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".ttsync")

	return &Config{
		Server: ServerConfig{
			ConnectTimeout:  8 * time.Second,
			ReadTimeout:     10 * time.Second,
			LazyReadTimeout: 15 * time.Minute,
			UserAgent:       "ttsync/1.0 (https://github.com/pders01/ttsync)",
		},
		Database: DatabaseConfig{
			Path:        filepath.Join(dataDir, "cache.db"),
			StatePath:   filepath.Join(dataDir, "state.db"),
			SearchIndex: filepath.Join(dataDir, "index.bleve"),
			Timeout:     1 * time.Second,
		},
		Sync: SyncConfig{
			UpdateInterval:       30 * time.Minute,
			CleanupInterval:      24 * time.Hour,
			HousekeepingInterval: 10 * time.Minute,
			ArticleLimit:         5000,
			CacheLimit:           400,
			MinUpdateLimit:       50,
			MaxPageSize:          200,
			MaxIDListLength:      100,
			FreshMaxAge:          24 * time.Hour,
			Workers:              4,
			DecodeBudget:         32 << 20,
			ProbeSubscriptions:   true,
		},
		Log: LogConfig{
			Level:      "off",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Default returns the built-in configuration without touching disk.
func Default() *Config {
	return defaultConfig()
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Leaf defaults, so a file that sets one key of a section keeps the rest
	// and every key is visible to AutomaticEnv.
	for section, values := range sections(defaultConfig()) {
		for key, value := range values {
			v.SetDefault(section+"."+key, value)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		homeDir, _ := os.UserHomeDir()
		configDir := filepath.Join(homeDir, ".config", "ttsync")

		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	// TTSYNC_SERVER_PASSWORD etc.
	v.SetEnvPrefix("TTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPaths(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects values the sync engine cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.Sync.ArticleLimit <= 0:
		return fmt.Errorf("sync.article_limit must be positive, got %d", c.Sync.ArticleLimit)
	case c.Sync.MaxPageSize <= 0:
		return fmt.Errorf("sync.max_page_size must be positive, got %d", c.Sync.MaxPageSize)
	case c.Sync.MaxIDListLength <= 0:
		return fmt.Errorf("sync.max_id_list_length must be positive, got %d", c.Sync.MaxIDListLength)
	case c.Sync.Workers <= 0:
		return fmt.Errorf("sync.workers must be positive, got %d", c.Sync.Workers)
	}
	return nil
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" || path == ":memory:" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

func expandPaths(cfg *Config) {
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Database.StatePath = expandPath(cfg.Database.StatePath)
	cfg.Database.SearchIndex = expandPath(cfg.Database.SearchIndex)
	cfg.Log.File = expandPath(cfg.Log.File)
}

// sections flattens cfg into the TOML layout. Durations are written as
// strings so the file stays readable.
func sections(config *Config) map[string]map[string]any {
	return map[string]map[string]any{
		"server": {
			"url":               config.Server.URL,
			"username":          config.Server.Username,
			"password":          config.Server.Password,
			"http_auth":         config.Server.HTTPAuth,
			"http_username":     config.Server.HTTPUsername,
			"http_password":     config.Server.HTTPPassword,
			"lazy_server":       config.Server.LazyServer,
			"connect_timeout":   config.Server.ConnectTimeout.String(),
			"read_timeout":      config.Server.ReadTimeout.String(),
			"lazy_read_timeout": config.Server.LazyReadTimeout.String(),
			"user_agent":        config.Server.UserAgent,
			"allow_insecure":    config.Server.AllowInsecure,
		},
		"database": {
			"path":         config.Database.Path,
			"state_path":   config.Database.StatePath,
			"search_index": config.Database.SearchIndex,
			"timeout":      config.Database.Timeout.String(),
		},
		"sync": {
			"update_interval":       config.Sync.UpdateInterval.String(),
			"cleanup_interval":      config.Sync.CleanupInterval.String(),
			"housekeeping_interval": config.Sync.HousekeepingInterval.String(),
			"article_limit":         config.Sync.ArticleLimit,
			"cache_limit":           config.Sync.CacheLimit,
			"min_update_limit":      config.Sync.MinUpdateLimit,
			"max_page_size":         config.Sync.MaxPageSize,
			"max_id_list_length":    config.Sync.MaxIDListLength,
			"fresh_max_age":         config.Sync.FreshMaxAge.String(),
			"workers":               config.Sync.Workers,
			"decode_budget":         config.Sync.DecodeBudget,
			"probe_subscriptions":   config.Sync.ProbeSubscriptions,
		},
		"log": {
			"level":        config.Log.Level,
			"file":         config.Log.File,
			"max_size_mb":  config.Log.MaxSizeMB,
			"max_backups":  config.Log.MaxBackups,
			"max_age_days": config.Log.MaxAgeDays,
		},
	}
}

func Save(config *Config, path string) error {
	v := viper.New()
	for section, values := range sections(config) {
		v.Set(section, values)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
