// Package config manages persistent daemon preferences for audiorelayd.
// Settings are stored as JSON at os.UserConfigDir()/audiorelayd/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds all persistent daemon preferences.
type Config struct {
	ListenAddr       string        `json:"listen_addr"`
	OutputDeviceID   int           `json:"output_device_id"`
	QueueMaxDuration time.Duration `json:"queue_max_duration"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:       "0.0.0.0:4433",
		OutputDeviceID:   -1,
		QueueMaxDuration: 2 * time.Second,
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audiorelayd", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned — never an error.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
