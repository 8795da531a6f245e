// Package config holds user preferences for the personaut tool. The config
// lives in .personaut/config.json next to the projects it governs, with a
// home-directory fallback when no workspace-local directory can be used.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds user preferences.
type Config struct {
	Provider string `json:"provider"` // "anthropic" or "openai"
	APIKey   string `json:"api_key"`
	BaseURL  string `json:"base_url,omitempty"`
	Model    string `json:"model,omitempty"`

	RequestTimeoutSec  int  `json:"request_timeout_sec"`  // per agent call
	StallCeilingSec    int  `json:"stall_ceiling_sec"`    // generation liveness ceiling
	AutosaveDebounceMs int  `json:"autosave_debounce_ms"` // coalescing window for auto-saves
	AutoRunDelayMs     int  `json:"auto_run_delay_ms"`    // pause between auto-run steps
	DebugMode          bool `json:"debug_mode"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Provider:           "anthropic",
		RequestTimeoutSec:  120,
		StallCeilingSec:    60,
		AutosaveDebounceMs: 750,
		AutoRunDelayMs:     1500,
	}
}

// RequestTimeout returns the per-call timeout as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// StallCeiling returns the generation liveness ceiling as a duration.
func (c Config) StallCeiling() time.Duration {
	return time.Duration(c.StallCeilingSec) * time.Second
}

// AutosaveDebounce returns the auto-save coalescing window.
func (c Config) AutosaveDebounce() time.Duration {
	return time.Duration(c.AutosaveDebounceMs) * time.Millisecond
}

// AutoRunDelay returns the pause between auto-run iteration steps.
func (c Config) AutoRunDelay() time.Duration {
	return time.Duration(c.AutoRunDelayMs) * time.Millisecond
}

// ConfigDir returns the directory where config is stored. A project-local
// .personaut directory wins over the home-level fallback.
func ConfigDir() (string, error) {
	if cwd, err := os.Getwd(); err == nil {
		localDir := filepath.Join(cwd, ".personaut")
		if stat, err := os.Stat(localDir); (err == nil && stat.IsDir()) || os.IsNotExist(err) {
			return localDir, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".personaut"), nil
}

// ConfigFile returns the full path to the config file.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the configuration from disk. A missing file yields defaults.
func Load() (Config, error) {
	path, err := ConfigFile()
	if err != nil {
		return DefaultConfig(), err
	}
	return LoadFrom(path)
}

// LoadFrom reads the configuration from an explicit path.
func LoadFrom(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return DefaultConfig(), err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), err
	}
	if env := os.Getenv("PERSONAUT_API_KEY"); env != "" {
		cfg.APIKey = env
	}
	return cfg, nil
}

// Save writes the configuration to disk.
func Save(cfg Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	path, err := ConfigFile()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
