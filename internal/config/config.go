// Package config loads the provider's configuration from a directory of
// per-concern YAML files, falling back to in-code defaults for any file
// that is absent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flarenet/ftso-feed-provider/internal/aggregator"
	"github.com/flarenet/ftso-feed-provider/internal/cache"
	"github.com/flarenet/ftso-feed-provider/internal/domain"
	"github.com/flarenet/ftso-feed-provider/internal/failover"
	"github.com/flarenet/ftso-feed-provider/internal/ratelimit"
	"github.com/flarenet/ftso-feed-provider/internal/validator"
	"github.com/flarenet/ftso-feed-provider/internal/warmer"
)

// ServerConfig holds the HTTP surface's tunables.
type ServerConfig struct {
	ListenAddr              string
	GracefulShutdownTimeout time.Duration
	ReadinessTimeout        time.Duration
	LogLevel                string
}

// SourceConfig describes one exchange ingest connection.
type SourceConfig struct {
	Id         string   `yaml:"id"`
	WSURL      string   `yaml:"ws_url"`
	Categories []string `yaml:"categories"`
	Enabled    bool     `yaml:"enabled"`
}

// FeedConfig names one feed the provider serves.
type FeedConfig struct {
	Category string `yaml:"category"`
	Name     string `yaml:"name"`
}

// Config is the provider's fully resolved configuration.
type Config struct {
	Server     ServerConfig
	Cache      cache.Config
	RateLimit  ratelimit.Config
	Validator  validator.Config
	Aggregator aggregator.Config
	Warmer     warmer.Config
	Failover   failover.Config
	Sources    []SourceConfig
	Feeds      []FeedConfig
}

// Load reads server.yaml, sources.yaml, and feeds.yaml from configDir, using
// defaults for any file that does not exist, then applies environment
// overrides at the edges.
func Load(configDir string) (*Config, error) {
	cfg := &Config{
		Server:     defaultServerConfig(),
		Cache:      cache.DefaultConfig(),
		RateLimit:  ratelimit.DefaultConfig(),
		Validator:  validator.DefaultConfig(),
		Aggregator: aggregator.DefaultConfig(),
		Warmer:     warmer.DefaultConfig(),
		Failover:   failover.DefaultConfig(),
	}

	if err := loadServerConfig(configDir, cfg); err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}
	if err := loadSourcesConfig(configDir, cfg); err != nil {
		return nil, fmt.Errorf("load sources config: %w", err)
	}
	if err := loadFeedsConfig(configDir, cfg); err != nil {
		return nil, fmt.Errorf("load feeds config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:              ":8080",
		GracefulShutdownTimeout: 30 * time.Second,
		ReadinessTimeout:        5 * time.Second,
		LogLevel:                "info",
	}
}

func loadServerConfig(configDir string, cfg *Config) error {
	path := filepath.Join(configDir, "server.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	var raw struct {
		ListenAddr              string `yaml:"listen_addr"`
		GracefulShutdownTimeout string `yaml:"graceful_shutdown_timeout"`
		ReadinessTimeout        string `yaml:"readiness_timeout"`
		LogLevel                string `yaml:"log_level"`
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read server config: %w", err)
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal server config: %w", err)
	}

	if raw.ListenAddr != "" {
		cfg.Server.ListenAddr = raw.ListenAddr
	}
	if raw.LogLevel != "" {
		cfg.Server.LogLevel = raw.LogLevel
	}
	if raw.GracefulShutdownTimeout != "" {
		d, err := time.ParseDuration(raw.GracefulShutdownTimeout)
		if err != nil {
			return fmt.Errorf("parse graceful_shutdown_timeout: %w", err)
		}
		cfg.Server.GracefulShutdownTimeout = d
	}
	if raw.ReadinessTimeout != "" {
		d, err := time.ParseDuration(raw.ReadinessTimeout)
		if err != nil {
			return fmt.Errorf("parse readiness_timeout: %w", err)
		}
		cfg.Server.ReadinessTimeout = d
	}
	return nil
}

func loadSourcesConfig(configDir string, cfg *Config) error {
	path := filepath.Join(configDir, "sources.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.Sources = defaultSources()
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sources config: %w", err)
	}

	var raw struct {
		Sources []SourceConfig `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal sources config: %w", err)
	}
	cfg.Sources = raw.Sources
	return nil
}

func defaultSources() []SourceConfig {
	return []SourceConfig{
		{Id: "binance", WSURL: "wss://stream.binance.com:9443/ws", Categories: []string{"crypto"}, Enabled: true},
		{Id: "coinbase", WSURL: "wss://ws-feed.exchange.coinbase.com", Categories: []string{"crypto"}, Enabled: true},
		{Id: "kraken", WSURL: "wss://ws.kraken.com", Categories: []string{"crypto"}, Enabled: true},
		{Id: "okx", WSURL: "wss://ws.okx.com:8443/ws/v5/public", Categories: []string{"crypto"}, Enabled: true},
	}
}

func loadFeedsConfig(configDir string, cfg *Config) error {
	path := filepath.Join(configDir, "feeds.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.Feeds = defaultFeeds()
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read feeds config: %w", err)
	}

	var raw struct {
		Feeds []FeedConfig `yaml:"feeds"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal feeds config: %w", err)
	}
	cfg.Feeds = raw.Feeds
	return nil
}

func defaultFeeds() []FeedConfig {
	return []FeedConfig{
		{Category: "crypto", Name: "BTC/USD"},
		{Category: "crypto", Name: "ETH/USD"},
	}
}

// applyEnvOverrides layers environment variables over file-sourced config at
// the edges (no package-level mutable config singleton; these overrides are
// applied once, here, before Config is threaded through constructors).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FTSO_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("FTSO_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("FTSO_GRACEFUL_SHUTDOWN_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Server.GracefulShutdownTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("FTSO_READINESS_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Server.ReadinessTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("FTSO_CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxEntries = n
		}
	}
	if v := os.Getenv("FTSO_RATE_LIMIT_MAX_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.MaxRequests = n
		}
	}
}

func validateConfig(cfg *Config) error {
	if len(cfg.Feeds) == 0 {
		return fmt.Errorf("at least one feed must be configured")
	}
	for _, f := range cfg.Feeds {
		if _, ok := domain.ParseCategory(f.Category); !ok {
			return fmt.Errorf("feed %q: unrecognized category %q", f.Name, f.Category)
		}
	}

	if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	enabled := 0
	for _, s := range cfg.Sources {
		if s.WSURL == "" {
			return fmt.Errorf("source %q: ws_url is required", s.Id)
		}
		if s.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one source must be enabled")
	}

	return nil
}
