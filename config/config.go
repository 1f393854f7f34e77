// Package config loads the agent's TOML configuration file.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

const (
	defaultLogLevel = "info"
)

// ChannelConfig describes one assigned channel address. The address may
// carry channel arguments after the channel's separator character, e.g.
// https://controller/path|--ua curl/8.0
type ChannelConfig struct {
	Address string `toml:"address"`
}

type Config struct {
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`

	Channels []ChannelConfig `toml:"channels"`
}

func Load(path string) (*Config, error) {
	var config Config
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	if config.LogLevel == "" {
		config.LogLevel = defaultLogLevel
	}

	if len(config.Channels) == 0 {
		return nil, fmt.Errorf("config file %s assigns no channels", path)
	}
	for _, channel := range config.Channels {
		if channel.Address == "" {
			return nil, fmt.Errorf("config file %s contains a channel with no address", path)
		}
	}

	return &config, nil
}
