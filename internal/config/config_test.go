package config

import (
	"path/filepath"
	"testing"
)

func TestHome_Override(t *testing.T) {
	SetConfigDir("/tmp/custom-home")
	defer SetConfigDir("")

	if got, want := Home(), "/tmp/custom-home"; got != want {
		t.Errorf("Home() = %q, want %q", got, want)
	}
}

func TestConfigPath(t *testing.T) {
	SetConfigDir("/tmp/custom-home")
	defer SetConfigDir("")

	got := ConfigPath()
	want := filepath.Join("/tmp/custom-home", "config.toml")
	if got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
}

func TestSaveAndLoad(t *testing.T) {
	SetConfigDir(t.TempDir())
	defer SetConfigDir("")

	cfg := &Config{
		RAMBudgetBytes: 1 << 30,
		SecurityLevel:  128,
		Persist: Persist{
			Dir:      "contract_states",
			Compress: true,
		},
	}
	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.RAMBudgetBytes != cfg.RAMBudgetBytes {
		t.Errorf("RAMBudgetBytes = %d, want %d", got.RAMBudgetBytes, cfg.RAMBudgetBytes)
	}
	if got.SecurityLevel != cfg.SecurityLevel {
		t.Errorf("SecurityLevel = %d, want %d", got.SecurityLevel, cfg.SecurityLevel)
	}
	if got.Persist != cfg.Persist {
		t.Errorf("Persist = %+v, want %+v", got.Persist, cfg.Persist)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	SetConfigDir(t.TempDir())
	defer SetConfigDir("")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RAMBudgetBytes != 0 {
		t.Errorf("RAMBudgetBytes = %d, want 0", cfg.RAMBudgetBytes)
	}
}

func TestGetSet_UnknownKey(t *testing.T) {
	SetConfigDir(t.TempDir())
	defer SetConfigDir("")

	if _, err := Get("nonexistent"); err == nil {
		t.Error("Get() with unknown key: expected error, got nil")
	}
	if err := Set("nonexistent", "x"); err == nil {
		t.Error("Set() with unknown key: expected error, got nil")
	}
}

func TestGetSet_RAMBudget(t *testing.T) {
	SetConfigDir(t.TempDir())
	defer SetConfigDir("")

	if err := Set("ram_budget_bytes", "2147483648"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := Get("ram_budget_bytes")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "2147483648" {
		t.Errorf("Get(ram_budget_bytes) = %q, want %q", got, "2147483648")
	}
}
