package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Mode constants for the tracker.
const (
	ModeDemo   = "demo"
	ModeRemote = "remote"
)

// RemoteConfig holds connection settings for the remote store backend.
type RemoteConfig struct {
	// PostgresDSN is the connection string for the relational backend.
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`

	// RedisAddr is the address of the Redis instance carrying realtime
	// change events.
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`

	// RedisDB selects the Redis logical database.
	RedisDB int `mapstructure:"redis_db" yaml:"redis_db"`
}

// EngineConfig holds tuning knobs for the reconciliation engine.
type EngineConfig struct {
	// ScanIntervalSec is the overdue-scan period in seconds.
	ScanIntervalSec int `mapstructure:"scan_interval_sec" yaml:"scan_interval_sec"`

	// DebounceMs is the realtime refetch coalescing window in milliseconds.
	DebounceMs int `mapstructure:"debounce_ms" yaml:"debounce_ms"`

	// RollbackOnFailure restores the pre-mutation snapshot when a remote
	// persistence call terminally fails. Off by default: the optimistic
	// state is kept and the failure is surfaced as a notice.
	RollbackOnFailure bool `mapstructure:"rollback_on_failure" yaml:"rollback_on_failure"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mode        string       `mapstructure:"mode" yaml:"mode"`
	LocalDBPath string       `mapstructure:"local_db_path" yaml:"local_db_path"`
	MetricsAddr string       `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	Remote      RemoteConfig `mapstructure:"remote" yaml:"remote"`
	Engine      EngineConfig `mapstructure:"engine" yaml:"engine"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/researchtracker/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "researchtracker", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Mode:        ModeDemo,
		LocalDBPath: filepath.Join(filepath.Dir(DefaultConfigPath()), "tracker.db"),
		MetricsAddr: "127.0.0.1:9187",
		Remote: RemoteConfig{
			RedisAddr: "127.0.0.1:6379",
		},
		Engine: EngineConfig{
			ScanIntervalSec: 30,
			DebounceMs:      500,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("mode", ModeDemo)
	v.SetDefault("metrics_addr", "127.0.0.1:9187")
	v.SetDefault("remote.redis_addr", "127.0.0.1:6379")
	v.SetDefault("engine.scan_interval_sec", 30)
	v.SetDefault("engine.debounce_ms", 500)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Engine.ScanIntervalSec <= 0 {
		cfg.Engine.ScanIntervalSec = 30
	}
	if cfg.Engine.DebounceMs <= 0 {
		cfg.Engine.DebounceMs = 500
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("mode", cfg.Mode)
	v.Set("local_db_path", cfg.LocalDBPath)
	v.Set("metrics_addr", cfg.MetricsAddr)
	v.Set("remote", cfg.Remote)
	v.Set("engine", cfg.Engine)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
