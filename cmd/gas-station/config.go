package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional on-disk configuration loaded via --config. It
// exists for deployments that prefer a checked-in file over a long flag
// list; any value present here is overridden by an explicitly-set flag of
// the same name, since flags are the operator's last word.
type fileConfig struct {
	NodeURL           string        `yaml:"node_url"`
	ListenAddr        string        `yaml:"listen_addr"`
	SponsorAddress    string        `yaml:"sponsor_address"`
	SignerSidecarURL  string        `yaml:"signer_sidecar_url"`
	RedisAddr         string        `yaml:"redis_addr"`
	SelectionOrder    string        `yaml:"selection_order"`
	ReplenishInterval time.Duration `yaml:"replenish_interval"`
	ReapInterval      time.Duration `yaml:"reap_interval"`
	MinPoolCount      int           `yaml:"min_pool_count"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return &cfg, nil
}
