package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const configFilePath = "astrobox-sim.json"

// Config is the simulator's configuration.
type Config struct {
	Address  string        `mapstructure:"address"`
	APIKey   string        `mapstructure:"api-key"`
	Interval time.Duration `mapstructure:"interval"`
	LogLevel string        `mapstructure:"log-level"`
}

// field: default value
var defaults = map[string]any{
	"address":   ":5000",
	"api-key":   "",
	"interval":  "1s",
	"log-level": "INFO",
}

// InitConfig reads configuration from an optional JSON file and environment
// variables (ADDRESS, API_KEY, INTERVAL, LOG_LEVEL). Environment variables
// take precedence over the file.
func InitConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	for field, value := range defaults {
		v.SetDefault(field, value)
		v.BindEnv(field)
	}

	if _, err := os.Stat(configFilePath); err == nil {
		v.SetConfigFile(configFilePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", config.Interval)
	}
	return &config, nil
}
