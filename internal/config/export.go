package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// InitConfig writes the default configuration file to ~/.modelmux/modelmux.toml.
// If the file already exists it is not overwritten. It returns the path and
// whether a new file was written.
func InitConfig() (string, bool, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".modelmux")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", false, fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}

	if err := writeConfig(path, DefaultConfig()); err != nil {
		return "", false, err
	}
	return path, true, nil
}

// ExportConfig writes the current config to path. The format follows the
// file extension: .yaml/.yml writes YAML, anything else TOML.
func ExportConfig(path string) error {
	return writeConfig(path, Get())
}

// ImportConfig reads a TOML or YAML config file, validates it and makes it
// the current config. The imported config is also persisted to the active
// config file so changes survive restarts.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Backends = nil
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if len(cfg.Backends) == 0 {
		cfg.Backends = DefaultConfig().Backends
	}
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)
	normalize(cfg)

	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)

	if dest := ConfigFilePath(); dest != "" {
		if err := writeConfig(dest, cfg); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}
	return nil
}

func writeConfig(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = toml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
