// internal/config/config.go
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application. Components never read
// ambient process state; the loaded value is threaded through constructors.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`
	DBURL    string `mapstructure:"DB_URL"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	GithubToken string `mapstructure:"GITHUB_TOKEN"`
	Mode        string `mapstructure:"MODE"`
	Topic       string `mapstructure:"TOPIC"`
	FetchLimit  int    `mapstructure:"FETCH_LIMIT"`

	TrendingDays     int    `mapstructure:"TRENDING_DAYS"`
	TrendingMinStars int    `mapstructure:"TRENDING_MIN_STARS"`
	TrendingLanguage string `mapstructure:"TRENDING_LANGUAGE"`

	SurgeThreshold   float64 `mapstructure:"SURGE_THRESHOLD"`
	TopRisers        int     `mapstructure:"TOP_RISERS"`
	ActiveWindowDays int     `mapstructure:"ACTIVE_WINDOW_DAYS"`
	RetentionDays    int     `mapstructure:"DB_RETENTION_DAYS"`
	TopNDetails      int     `mapstructure:"TOP_N_DETAILS"`

	LLMProvider string `mapstructure:"LLM_PROVIDER"`
	LLMAPIKey   string `mapstructure:"LLM_API_KEY"`
	LLMBaseURL  string `mapstructure:"LLM_BASE_URL"`
	LLMModel    string `mapstructure:"LLM_MODEL"`
}

// LoadConfig reads configuration from an optional .env file and environment
// variables, applying defaults and validating required fields.
func LoadConfig() (*Config, error) {
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("MODE", "topic")
	viper.SetDefault("TOPIC", "claude-code")
	viper.SetDefault("FETCH_LIMIT", 100)
	viper.SetDefault("TRENDING_DAYS", 7)
	viper.SetDefault("TRENDING_MIN_STARS", 50)
	viper.SetDefault("TRENDING_LANGUAGE", "")
	viper.SetDefault("SURGE_THRESHOLD", 0.3)
	viper.SetDefault("TOP_RISERS", 5)
	viper.SetDefault("ACTIVE_WINDOW_DAYS", 7)
	viper.SetDefault("DB_RETENTION_DAYS", 90)
	viper.SetDefault("TOP_N_DETAILS", 50)
	viper.SetDefault("LLM_PROVIDER", "zhipu")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.Mode != "topic" && cfg.Mode != "trending" {
		return nil, errors.New("MODE must be either 'topic' or 'trending'")
	}
	if cfg.Mode == "topic" && cfg.Topic == "" {
		return nil, errors.New("TOPIC is required when MODE is 'topic'")
	}
	if cfg.SurgeThreshold < 0 || cfg.SurgeThreshold > 1 {
		return nil, errors.New("SURGE_THRESHOLD must be between 0 and 1")
	}
	if cfg.FetchLimit <= 0 {
		return nil, errors.New("FETCH_LIMIT must be positive")
	}
	if cfg.RetentionDays <= 0 {
		return nil, errors.New("DB_RETENTION_DAYS must be positive")
	}

	return &cfg, nil
}
