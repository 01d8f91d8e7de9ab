package config

import "github.com/BurntSushi/toml"

// Load reads a TOML file at path into a copy of DefaultConfig, so unset
// fields keep their default value.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
