package config

import (
	"time"

	"github.com/Emin017/RTL2GDS/internal/step"
)

// Config describes the tool installation and the driver's own settings.
type Config struct {
	Tools        Tools               `yaml:"tools"`
	Commands     map[string][]string `yaml:"commands"`
	StageTimeout string              `yaml:"stage_timeout"`
	Chunk        Chunk               `yaml:"chunk"`
	History      History             `yaml:"history"`

	// Source is the file the config was loaded from, empty for built-in defaults.
	Source string `yaml:"-"`
}

// Tools locates the EDA binaries, their scripts and the process design kit.
type Tools struct {
	BinDir     string `yaml:"bin_dir"`
	ToolDir    string `yaml:"tool_dir"`
	ScriptDir  string `yaml:"script_dir"`
	ConfigDir  string `yaml:"config_dir"`
	FoundryDir string `yaml:"foundry_dir"`
	SDCFile    string `yaml:"sdc_file"`
}

// Chunk controls how layout JSON dumps are split.
type Chunk struct {
	MaxBytes int64 `yaml:"max_bytes"`
	Workers  int   `yaml:"workers"`
}

// History configures the run-history database.
type History struct {
	DSN      string `yaml:"dsn"`
	Disabled bool   `yaml:"disabled"`
}

// CommandOverrides converts the commands section into catalog overrides.
func (c *Config) CommandOverrides() map[step.ID][]string {
	if len(c.Commands) == 0 {
		return nil
	}
	out := make(map[step.ID][]string, len(c.Commands))
	for k, argv := range c.Commands {
		out[step.ID(k)] = argv
	}
	return out
}

// Timeout returns the per-stage subprocess timeout, zero when unset.
// Validate reports unparseable values.
func (c *Config) Timeout() time.Duration {
	if c.StageTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.StageTimeout)
	if err != nil {
		return 0
	}
	return d
}
