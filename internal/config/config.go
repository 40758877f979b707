// Package config manages the state engine's on-disk configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the ~/.stateengine/config.toml file.
type Config struct {
	// RAMBudgetBytes is the process-wide resident-byte ceiling enforced by
	// the LRU accountant. Zero means unlimited: no eviction is triggered.
	RAMBudgetBytes uint64 `toml:"ram_budget_bytes,omitempty" json:"ram_budget_bytes"`

	// SecurityLevel selects the KangarooTwelve capacity (2*level/8 bytes
	// per cached intermediate). Only 128 is currently supported.
	SecurityLevel int `toml:"security_level,omitempty" json:"security_level"`

	Persist Persist `toml:"persist,omitempty" json:"persist"`
}

// Persist holds on-disk chunk persistence preferences.
type Persist struct {
	Dir      string `toml:"dir,omitempty" json:"dir"`
	Compress bool   `toml:"compress,omitempty" json:"compress"`
}

// configDirOverride is set from the --config-dir flag via SetConfigDir. The
// STATEENGINE_HOME env var is read separately by Home.
var configDirOverride string

// SetConfigDir allows the CLI to pass in the --config-dir value.
func SetConfigDir(dir string) {
	configDirOverride = dir
}

// Home returns the config directory path.
// Precedence: --config-dir flag / SetConfigDir > STATEENGINE_HOME env > ~/.stateengine
func Home() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	if v := os.Getenv("STATEENGINE_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".stateengine")
	}
	return filepath.Join(home, ".stateengine")
}

// ConfigPath returns the full path to config.toml.
func ConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// EnsureDir creates the config home directory if it does not exist.
func EnsureDir() error {
	return os.MkdirAll(Home(), 0o755)
}

// Load reads config.toml and returns a Config struct.
// If the file does not exist, it returns a zero-value Config (defaults).
func Load() (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config.toml: %w", err)
	}
	return cfg, nil
}

// Save writes the Config struct back to config.toml.
func Save(cfg *Config) error {
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o644)
}

// validKeys lists the dot-separated keys that can be used with Get/Set.
var validKeys = map[string]bool{
	"ram_budget_bytes": true,
	"security_level":   true,
	"persist.dir":      true,
	"persist.compress": true,
}

// Get retrieves a single config value by dot-separated key.
func Get(key string) (string, error) {
	if !validKeys[key] {
		return "", fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	return getField(cfg, key)
}

// Set sets a single config value by dot-separated key.
func Set(key, value string) error {
	if !validKeys[key] {
		return fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := Load()
	if err != nil {
		return err
	}
	if err := setField(cfg, key, value); err != nil {
		return err
	}
	return Save(cfg)
}

func getField(cfg *Config, key string) (string, error) {
	switch key {
	case "ram_budget_bytes":
		return strconv.FormatUint(cfg.RAMBudgetBytes, 10), nil
	case "security_level":
		return strconv.Itoa(cfg.SecurityLevel), nil
	case "persist.dir":
		return cfg.Persist.Dir, nil
	case "persist.compress":
		return strconv.FormatBool(cfg.Persist.Compress), nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

func setField(cfg *Config, key, value string) error {
	switch key {
	case "ram_budget_bytes":
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("ram_budget_bytes must be a non-negative integer: %w", err)
		}
		cfg.RAMBudgetBytes = v
	case "security_level":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("security_level must be an integer: %w", err)
		}
		cfg.SecurityLevel = v
	case "persist.dir":
		cfg.Persist.Dir = value
	case "persist.compress":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("persist.compress must be a bool: %w", err)
		}
		cfg.Persist.Compress = v
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}
