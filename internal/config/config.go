package config

import (
	"errors"
	"fmt"
	"time"

	"homerules/internal/utils"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	DBURL           string `mapstructure:"DB_URL"`
	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	MQTTBroker      string `mapstructure:"MQTT_BROKER"`
	MQTTClientID    string `mapstructure:"MQTT_CLIENT_ID"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	HTTPAddr        string `mapstructure:"HTTP_ADDR"`
	ProgramID       string `mapstructure:"PROGRAM_ID"`
	DebounceMS      int    `mapstructure:"DEBOUNCE_MS"`
	Workers         int    `mapstructure:"WORKERS"`
	MDNSName        string `mapstructure:"MDNS_NAME"`
	RemoteWS        string `mapstructure:"REMOTE_WS"`
	RemoteRetrySecs int    `mapstructure:"REMOTE_RETRY_SECS"`
	AgentID         string `mapstructure:"AGENT_ID"`
}

var defaults = map[string]any{
	"MQTT_CLIENT_ID":    "homerules-engine",
	"LOG_LEVEL":         "info",
	"HTTP_ADDR":         ":5069",
	"PROGRAM_ID":        "default",
	"DEBOUNCE_MS":       int(utils.DebounceWindow / time.Millisecond),
	"WORKERS":           8,
	"MDNS_NAME":         "homerules.local",
	"REMOTE_RETRY_SECS": 2,
}

// LoadConfig reads configuration from file, .env, or env vars
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file")
	}

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		DBURL:           v.GetString("DB_URL"),
		RedisAddr:       v.GetString("REDIS_ADDR"),
		MQTTBroker:      v.GetString("MQTT_BROKER"),
		MQTTClientID:    v.GetString("MQTT_CLIENT_ID"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		HTTPAddr:        v.GetString("HTTP_ADDR"),
		ProgramID:       v.GetString("PROGRAM_ID"),
		DebounceMS:      v.GetInt("DEBOUNCE_MS"),
		Workers:         v.GetInt("WORKERS"),
		MDNSName:        v.GetString("MDNS_NAME"),
		RemoteWS:        v.GetString("REMOTE_WS"),
		RemoteRetrySecs: v.GetInt("REMOTE_RETRY_SECS"),
		AgentID:         v.GetString("AGENT_ID"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	if c.DebounceMS < 0 {
		return fmt.Errorf("DEBOUNCE_MS must not be negative, got %d", c.DebounceMS)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	return nil
}

// Debounce returns the program's quiet period
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// RemoteRetry returns the delay between bridge reconnects
func (c *Config) RemoteRetry() time.Duration {
	return time.Duration(c.RemoteRetrySecs) * time.Second
}
