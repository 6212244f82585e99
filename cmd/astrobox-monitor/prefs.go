package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	astrobox "github.com/astroprint/astrobox-go"
)

const defaultPrefsPath = "~/.config/astrobox-monitor/prefs.toml"

// Prefs is what the monitor remembers between runs.
type Prefs struct {
	ShowComms bool `toml:"show_comms"`
	// LastState seeds the store so the dashboard has something to show
	// before the first snapshot arrives.
	LastState astrobox.Bootstrap `toml:"last_state"`
}

// LoadPrefs reads preferences from path. A missing or unreadable file yields
// the zero Prefs.
func LoadPrefs(path string) Prefs {
	var prefs Prefs
	resolved, err := expandPath(path)
	if err != nil {
		return prefs
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warningf("read prefs: %v", err)
		}
		return prefs
	}
	if err := toml.Unmarshal(data, &prefs); err != nil {
		log.Warningf("parse prefs %s: %v", resolved, err)
		return Prefs{}
	}
	return prefs
}

// SavePrefs writes preferences to path, creating directories as needed.
func SavePrefs(path string, p Prefs) error {
	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}
	if err := os.WriteFile(resolved, data, 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
