package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/hackerby888/qubic-core-lite/internal/config"
	"github.com/hackerby888/qubic-core-lite/internal/registry"
)

// parseContractIndex parses a CLI-supplied contract index, which is always
// a small non-negative integer identifying a contract's memory region.
func parseContractIndex(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid contract index %q: %w", s, err)
	}
	return uint32(v), nil
}

// openRegistry loads config.toml (honoring --config-dir) and constructs a
// Registry from it, returning the resolved config alongside so callers can
// read securityLevel without reloading. Every stateenginectl subcommand
// that touches an engine goes through this so they all share the same RAM
// budget and persist directory defaults.
func openRegistry() (*registry.Registry, *config.Config, error) {
	config.SetConfigDir(ConfigDir)
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	if cfg.Persist.Dir == "" {
		cfg.Persist.Dir = filepath.Join(config.Home(), "contract_states")
	}
	if cfg.SecurityLevel == 0 {
		cfg.SecurityLevel = 128
	}

	return registry.New(cfg.RAMBudgetBytes, cfg.Persist.Dir, cfg.Persist.Compress), cfg, nil
}
