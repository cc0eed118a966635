package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	if _, err := ReadConfig(path); err == nil {
		t.Fatal("expected an error when the configuration file is missing")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default configuration file to be created: %v", err)
	}

	cfg, err := ReadConfig(path)
	if err != nil {
		t.Fatalf("Error reading configuration file: %v", err)
	}
	if cfg.AppPort != 7777 || cfg.ServerMode != "tpc" || cfg.Directory.Backend != "memory" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestReadConfigKeepsDefaultsForMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"app_port": 61613, "server_mode": "reactor"}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := ReadConfig(path)
	if err != nil {
		t.Fatalf("Error reading configuration file: %v", err)
	}
	if cfg.AppPort != 61613 || cfg.ServerMode != "reactor" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.ConnectTimeout != "30s" || cfg.WebSocket.Path != "/stomp" {
		t.Errorf("defaults lost: %+v", cfg)
	}

	got, err := GetConfig()
	if err != nil || got.AppPort != 61613 {
		t.Errorf("GetConfig did not return cached configuration: %+v %v", got, err)
	}
}

func TestReadConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadConfig(path); err == nil {
		t.Error("expected invalid JSON error")
	}
}
