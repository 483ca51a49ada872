package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Platform PlatformConfig `mapstructure:"platform"`
	Store    StoreConfig    `mapstructure:"store"`
	Deploy   DeployConfig   `mapstructure:"deploy"`
	History  HistoryConfig  `mapstructure:"history"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// PlatformConfig configures the remote workflow-automation platform API.
type PlatformConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	APIKeyHeader   string  `mapstructure:"api_key_header"`
	RequestTimeout int     `mapstructure:"request_timeout"`
	MaxRetries     int     `mapstructure:"max_retries"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
	Burst          int     `mapstructure:"burst"`
	PageSize       int     `mapstructure:"page_size"`
}

type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

type DeployConfig struct {
	Concurrency int  `mapstructure:"concurrency"`
	Permissive  bool `mapstructure:"permissive"`
	DryRun      bool `mapstructure:"dry_run"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggerConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	Output    string `mapstructure:"output"`
	AddCaller bool   `mapstructure:"add_caller"`
}

func Load() (*Config, error) {
	viper.SetConfigName("deployer")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/flowdeploy")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("FLOWDEPLOY")

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, defaults and env vars are enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Platform.BaseURL == "" {
		return nil, fmt.Errorf("platform.base_url is required")
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("platform.api_key_header", "X-N8N-API-KEY")
	viper.SetDefault("platform.request_timeout", 30)
	viper.SetDefault("platform.max_retries", 3)
	viper.SetDefault("platform.requests_per_sec", 5.0)
	viper.SetDefault("platform.burst", 5)
	viper.SetDefault("platform.page_size", 100)

	viper.SetDefault("store.dir", "./templates")

	viper.SetDefault("deploy.concurrency", 4)
	viper.SetDefault("deploy.permissive", false)
	viper.SetDefault("deploy.dry_run", false)

	viper.SetDefault("history.enabled", true)
	viper.SetDefault("history.path", "./flowdeploy.db")

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "json")
	viper.SetDefault("logger.output", "stdout")
	viper.SetDefault("logger.add_caller", true)
}

func (c *PlatformConfig) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}
