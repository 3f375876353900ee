// Package config loads vigil's configuration. The loaded Config is an
// explicit value materialized once per run and passed down; nothing reads
// configuration mid-cycle, so a single cycle never observes a config
// change halfway through (no read skew within a run).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Webhook    WebhookConfig    `mapstructure:"webhook" yaml:"webhook"`
	Validation ValidationConfig `mapstructure:"validation" yaml:"validation"`
	Engine     EngineConfig     `mapstructure:"engine" yaml:"engine"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Retention  RetentionConfig  `mapstructure:"retention" yaml:"retention"`
}

// DatabaseConfig locates the SQLite state database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// WebhookConfig describes the notification channel.
type WebhookConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Pacing  time.Duration `mapstructure:"pacing" yaml:"pacing"`
}

// ValidationConfig describes the installation-token validation service.
type ValidationConfig struct {
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	Token         string        `mapstructure:"token" yaml:"token"`
	ClientVersion string        `mapstructure:"client_version" yaml:"client_version"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// EngineConfig tunes the evaluation cycle.
type EngineConfig struct {
	// Subjects lists the ids evaluated each run. The hosting platform
	// normally supplies these; the standalone binary reads them from here.
	Subjects []int64 `mapstructure:"subjects" yaml:"subjects"`

	// Workers bounds subject fan-out. 1 means sequential evaluation.
	Workers int `mapstructure:"workers" yaml:"workers"`

	// NotifySubjectErrors also sends per-subject evaluation failures to
	// the channel instead of only logging them.
	NotifySubjectErrors bool `mapstructure:"notify_subject_errors" yaml:"notify_subject_errors"`

	// SuppressFirstRun suppresses flag-flip headlines for never-seen
	// subjects.
	SuppressFirstRun bool `mapstructure:"suppress_first_run" yaml:"suppress_first_run"`

	// FirstRunDetail still emits added-detail bodies on a first run.
	FirstRunDetail bool `mapstructure:"first_run_detail" yaml:"first_run_detail"`

	// ChunkLimit caps outgoing message size in bytes.
	ChunkLimit int `mapstructure:"chunk_limit" yaml:"chunk_limit"`
}

// CacheConfig tunes the collector TTL cache.
type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl" yaml:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// RetentionConfig tunes the purge command.
type RetentionConfig struct {
	SnapshotWindow time.Duration `mapstructure:"snapshot_window" yaml:"snapshot_window"`
}

// Dump renders the effective configuration as YAML.
func (c Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: "vigil.db"},
		Webhook: WebhookConfig{
			Timeout: 10 * time.Second,
			Pacing:  2 * time.Second,
		},
		Validation: ValidationConfig{
			ClientVersion: "0.1.0",
			Timeout:       10 * time.Second,
		},
		Engine: EngineConfig{
			Workers:          1,
			SuppressFirstRun: true,
			ChunkLimit:       2000,
		},
		Cache: CacheConfig{
			TTL:             30 * time.Minute,
			CleanupInterval: 10 * time.Minute,
		},
		Retention: RetentionConfig{
			SnapshotWindow: 60 * 24 * time.Hour,
		},
	}
}

// Load reads configuration from an optional file plus VIGIL_* environment
// overrides, layered over the defaults. An empty path skips the file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VIGIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, def Config) {
	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("webhook.url", def.Webhook.URL)
	v.SetDefault("webhook.timeout", def.Webhook.Timeout)
	v.SetDefault("webhook.pacing", def.Webhook.Pacing)
	v.SetDefault("validation.endpoint", def.Validation.Endpoint)
	v.SetDefault("validation.token", def.Validation.Token)
	v.SetDefault("validation.client_version", def.Validation.ClientVersion)
	v.SetDefault("validation.timeout", def.Validation.Timeout)
	v.SetDefault("engine.subjects", def.Engine.Subjects)
	v.SetDefault("engine.workers", def.Engine.Workers)
	v.SetDefault("engine.notify_subject_errors", def.Engine.NotifySubjectErrors)
	v.SetDefault("engine.suppress_first_run", def.Engine.SuppressFirstRun)
	v.SetDefault("engine.first_run_detail", def.Engine.FirstRunDetail)
	v.SetDefault("engine.chunk_limit", def.Engine.ChunkLimit)
	v.SetDefault("cache.ttl", def.Cache.TTL)
	v.SetDefault("cache.cleanup_interval", def.Cache.CleanupInterval)
	v.SetDefault("retention.snapshot_window", def.Retention.SnapshotWindow)
}
