package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Emin017/RTL2GDS/internal/layoutjson"
)

// EnvConfig names a config file that takes precedence over the search path.
const EnvConfig = "RTL2GDS_CONFIG"

// EnvHome overrides the installation root used for built-in tool paths.
const EnvHome = "RTL2GDS_HOME"

const defaultHome = "/opt/rtl2gds"

// Load reads and parses a config from the given YAML file path, then fills
// every unset field with its default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	cfg.Source = path
	return &cfg, nil
}

// Default returns the built-in config.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// LoadDefault loads the first config found in $RTL2GDS_CONFIG,
// ./rtl2gds.yaml and ~/.rtl2gds/config.yaml. When none exists the built-in
// defaults are returned. A $RTL2GDS_CONFIG naming a missing file is an error.
func LoadDefault() (*Config, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return Load(p)
	}

	candidates := []string{"rtl2gds.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".rtl2gds", "config.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Default(), nil
}

// DefaultHistoryPath is the SQLite file used when history.dsn is empty.
func DefaultHistoryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".rtl2gds", "history.db"), nil
}

func applyDefaults(cfg *Config) {
	root := os.Getenv(EnvHome)
	if root == "" {
		root = defaultHome
	}
	t := &cfg.Tools
	if t.BinDir == "" {
		t.BinDir = filepath.Join(root, "bin")
	}
	if t.ToolDir == "" {
		t.ToolDir = filepath.Join(root, "tools")
	}
	if t.FoundryDir == "" {
		t.FoundryDir = filepath.Join(root, "foundry", "sky130")
	}
	if t.ScriptDir == "" {
		t.ScriptDir = filepath.Join(t.ToolDir, "iEDA", "script")
	}
	if t.ConfigDir == "" {
		t.ConfigDir = filepath.Join(t.ToolDir, "iEDA", "iEDA_config")
	}
	if t.SDCFile == "" {
		t.SDCFile = filepath.Join(t.ToolDir, "default.sdc")
	}
	if cfg.Chunk.MaxBytes == 0 {
		cfg.Chunk.MaxBytes = layoutjson.DefaultMaxBytes
	}
}
