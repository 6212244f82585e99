package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const configFilePath = "astrobox-monitor.json"

// Config is the monitor's configuration.
type Config struct {
	URL       string `mapstructure:"url"`
	APIKey    string `mapstructure:"api-key"`
	WSToken   string `mapstructure:"ws-token"`
	LogLevel  string `mapstructure:"log-level"`
	LogFile   string `mapstructure:"log-file"`
	PrefsPath string `mapstructure:"prefs-path"`
}

var requiredFields = []string{
	"url",
}

// field: default value
var optionalFields = map[string]any{
	"api-key":    "",
	"ws-token":   "",
	"log-level":  "INFO",
	"log-file":   "astrobox-monitor.log",
	"prefs-path": defaultPrefsPath,
}

// InitConfig reads configuration from an optional JSON file and ASTROBOX_*
// environment variables, which take precedence over the file.
func InitConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("astrobox")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	for _, field := range requiredFields {
		v.BindEnv(field)
	}
	for field, value := range optionalFields {
		v.SetDefault(field, value)
		v.BindEnv(field)
	}

	if _, err := os.Stat(configFilePath); err == nil {
		v.SetConfigFile(configFilePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
	}

	for _, field := range requiredFields {
		if !v.IsSet(field) {
			return nil, fmt.Errorf("missing required config field: %s", field)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	return &config, nil
}
