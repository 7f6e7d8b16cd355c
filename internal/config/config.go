// Package config loads and validates mirror configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tkuosman/partsmirror/internal/orchestrator"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Site    SiteConfig    `mapstructure:"site"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Extract ExtractConfig `mapstructure:"extract"`
	Assets  AssetsConfig  `mapstructure:"assets"`
	DB      DBConfig      `mapstructure:"db"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SiteConfig identifies the listing site being mirrored.
type SiteConfig struct {
	BaseURL    string                  `mapstructure:"base_url"`
	Categories []orchestrator.Category `mapstructure:"categories"`
}

// CrawlerConfig governs fetch pacing and HTTP behavior.
type CrawlerConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	DelaySeconds   int    `mapstructure:"delay_seconds"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ExtractConfig overrides the listing-table marker labels.
type ExtractConfig struct {
	BlockMarker       string `mapstructure:"block_marker"`
	PartNumberMarker  string `mapstructure:"part_number_marker"`
	DescriptionMarker string `mapstructure:"description_marker"`
}

// AssetsConfig sets paths for the local image mirror.
type AssetsConfig struct {
	BaseDir   string `mapstructure:"base_dir"`
	BackupDir string `mapstructure:"backup_dir"`
	// RootMarker is the URL path segment after which the deterministic
	// local path begins.
	RootMarker string `mapstructure:"root_marker"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// MetricsConfig controls the operational HTTP endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PARTSMIRROR")
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
	v.SetDefault("crawler.user_agent", "partsmirror-bot/0.1")
	v.SetDefault("crawler.delay_seconds", 1)
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("assets.base_dir", "data/images")
	v.SetDefault("assets.backup_dir", "data/backups")
	v.SetDefault("assets.root_marker", "images/")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.DelaySeconds < 0 {
		return fmt.Errorf("crawler.delay_seconds must be >= 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Assets.BaseDir == "" {
		return fmt.Errorf("assets.base_dir must be set")
	}
	if c.Assets.BackupDir == "" {
		return fmt.Errorf("assets.backup_dir must be set")
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be > 0 when metrics are enabled")
	}
	for _, cat := range c.Site.Categories {
		if cat.URL == "" {
			return fmt.Errorf("site.categories entries must have a url")
		}
	}
	return nil
}

// Delay converts the configured pacing into a duration.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Crawler.DelaySeconds) * time.Second
}

// Timeout converts the HTTP timeout config into a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}
