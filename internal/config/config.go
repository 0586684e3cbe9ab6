// Package config loads process-wide settings from the environment,
// optionally seeded by a .env file.
package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds the node's runtime settings.
type Config struct {
	ListenAddr    string
	MiningAddress string
}

const defaultListenAddr = ":3000"

// Load reads LISTEN_ADDR and MINING_ADDRESS from the environment, after
// optionally loading a .env file in the working directory. A missing .env
// file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	cfg := &Config{
		ListenAddr:    os.Getenv("LISTEN_ADDR"),
		MiningAddress: os.Getenv("MINING_ADDRESS"),
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	return cfg, nil
}

// SetMiningAddress overrides the configured mining address, the only
// lifecycle mutation a running process performs on its own config.
func (c *Config) SetMiningAddress(addr string) {
	c.MiningAddress = addr
}
