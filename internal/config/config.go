// Package config loads and validates indexer configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Sink kinds.
const (
	SinkNone     = "none"
	SinkMemory   = "memory"
	SinkPostgres = "postgres"
	SinkSQLite   = "sqlite"
)

// Notify kinds.
const (
	NotifyNone   = "none"
	NotifyMemory = "memory"
	NotifyPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Grids   []GridConfig  `mapstructure:"grids"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// FetchRPS limits payload fetches per client; 0 disables the limit.
	FetchRPS   float64 `mapstructure:"fetch_rps"`
	FetchBurst int     `mapstructure:"fetch_burst"`
}

// CrawlConfig governs the master crawl over a data space.
type CrawlConfig struct {
	Root       string   `mapstructure:"root"`
	Depth      int      `mapstructure:"depth"`
	Tags       []string `mapstructure:"tags"`
	LinkLocal  bool     `mapstructure:"link_local"`
	Descriptor string   `mapstructure:"descriptor"`
	Exclude    []string `mapstructure:"exclude"`
}

// GridConfig names a grid backend and its constructor arguments.
type GridConfig struct {
	Name   string         `mapstructure:"name"`
	Config map[string]any `mapstructure:"config"`
}

// SinkConfig selects where exported index documents go.
type SinkConfig struct {
	Kind      string `mapstructure:"kind"`
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	ChunkSize int    `mapstructure:"chunk_size"`
}

// NotifyConfig holds metadata for export notifications.
type NotifyConfig struct {
	Kind      string `mapstructure:"kind"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SIGNAC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.fetch_rps", 0)
	v.SetDefault("server.fetch_burst", 10)
	v.SetDefault("crawl.root", ".")
	v.SetDefault("crawl.depth", 0)
	v.SetDefault("crawl.tags", []string{})
	v.SetDefault("crawl.link_local", true)
	v.SetDefault("crawl.descriptor", "signac_access.yaml")
	v.SetDefault("crawl.exclude", []string{})
	v.SetDefault("sink.kind", SinkMemory)
	v.SetDefault("sink.table", "signac_index")
	v.SetDefault("sink.chunk_size", 1000)
	v.SetDefault("notify.kind", NotifyNone)
	v.SetDefault("notify.topic", "signac-index-exports")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.FetchRPS < 0 {
		return fmt.Errorf("server.fetch_rps must be >= 0")
	}
	if c.Crawl.Root == "" {
		return fmt.Errorf("crawl.root is required")
	}
	if c.Crawl.Depth < 0 {
		return fmt.Errorf("crawl.depth must be >= 0")
	}
	if c.Crawl.Descriptor == "" {
		return fmt.Errorf("crawl.descriptor is required")
	}
	for i, g := range c.Grids {
		if g.Name == "" {
			return fmt.Errorf("grids[%d].name is required", i)
		}
	}
	switch c.Sink.Kind {
	case SinkNone, SinkMemory:
	case SinkPostgres, SinkSQLite:
		if c.Sink.DSN == "" {
			return fmt.Errorf("sink.dsn is required for sink.kind %q", c.Sink.Kind)
		}
	default:
		return fmt.Errorf("unknown sink.kind %q", c.Sink.Kind)
	}
	if c.Sink.ChunkSize <= 0 {
		return fmt.Errorf("sink.chunk_size must be > 0")
	}
	switch c.Notify.Kind {
	case NotifyNone, NotifyMemory:
	case NotifyPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic are required for pubsub")
		}
	default:
		return fmt.Errorf("unknown notify.kind %q", c.Notify.Kind)
	}
	return nil
}
