package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type testConfig struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func (c *testConfig) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("port must be positive, got %d", c.Port)
	}
	return nil
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "name: tanda\nport: 8080\n")
	var cfg testConfig
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "tanda" || cfg.Port != 8080 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_CONFIG_NAME", "expanded")
	path := writeConfig(t, "name: ${TEST_CONFIG_NAME}\nport: 1\n")
	var cfg testConfig
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "expanded" {
		t.Errorf("name = %q, want expanded", cfg.Name)
	}
}

func TestLoadRunsValidation(t *testing.T) {
	path := writeConfig(t, "name: bad\nport: -1\n")
	var cfg testConfig
	if err := Load(path, &cfg); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg := testConfig{Name: "default", Port: 1}
	loaded, err := LoadOptional(filepath.Join(t.TempDir(), "nothere.yaml"), &cfg)
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if loaded {
		t.Fatal("loaded should be false for missing file")
	}
	if cfg.Name != "default" {
		t.Errorf("target was modified: %+v", cfg)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	in := testConfig{Name: "saved", Port: 9}
	if err := Save(path, &in); err != nil {
		t.Fatalf("save: %v", err)
	}
	var out testConfig
	if err := Load(path, &out); err != nil {
		t.Fatalf("load: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: %+v vs %+v", out, in)
	}
}
