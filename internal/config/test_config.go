package config

import "time"

// TestConfig returns a config suitable for testing
func TestConfig() *Config {
	cfg := defaultConfig()
	cfg.Server = ServerConfig{
		URL:             "http://127.0.0.1/tt-rss/",
		Username:        "admin",
		Password:        "password",
		ConnectTimeout:  2 * time.Second,
		ReadTimeout:     5 * time.Second,
		LazyReadTimeout: 10 * time.Second,
		UserAgent:       "ttsync-test/1.0",
		AllowInsecure:   true,
	}
	cfg.Database = DatabaseConfig{
		Path:    ":memory:",
		Timeout: 1 * time.Second,
	}
	cfg.Sync.Workers = 2
	cfg.Log = LogConfig{Level: "off"}
	return cfg
}
