package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "anthropic" {
		t.Errorf("default provider = %q", cfg.Provider)
	}
	if cfg.StallCeilingSec != 60 {
		t.Errorf("default stall ceiling = %d", cfg.StallCeilingSec)
	}
}

func TestLoadFromMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"provider": "openai", "model": "gpt-4o", "autosave_debounce_ms": 200}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "openai" || cfg.Model != "gpt-4o" {
		t.Errorf("overrides lost: %+v", cfg)
	}
	if cfg.AutosaveDebounceMs != 200 {
		t.Errorf("autosave debounce = %d", cfg.AutosaveDebounceMs)
	}
	// Fields absent from the file keep defaults.
	if cfg.RequestTimeoutSec != 120 {
		t.Errorf("request timeout = %d", cfg.RequestTimeoutSec)
	}
}

func TestEnvAPIKeyOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"api_key": "from-file"}`), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PERSONAUT_API_KEY", "from-env")
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "from-env" {
		t.Errorf("api key = %q, want env override", cfg.APIKey)
	}
}
