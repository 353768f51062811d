package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/Emin017/RTL2GDS/internal/step"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for semantic errors. It returns every problem
// found, or nil when the config is usable.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	for _, pair := range []struct {
		field, value string
	}{
		{"tools.bin_dir", cfg.Tools.BinDir},
		{"tools.tool_dir", cfg.Tools.ToolDir},
		{"tools.foundry_dir", cfg.Tools.FoundryDir},
	} {
		if pair.value == "" {
			errs = append(errs, ValidationError{Field: pair.field, Message: "is required"})
		}
	}

	// Sorted so the report order is stable.
	names := make([]string, 0, len(cfg.Commands))
	for name := range cfg.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		field := "commands." + name
		id, err := step.Parse(name)
		if err != nil || id == step.Init {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("unknown stage %q", name)})
			continue
		}
		if len(cfg.Commands[name]) == 0 {
			errs = append(errs, ValidationError{Field: field, Message: "command must not be empty"})
		}
	}

	if cfg.StageTimeout != "" {
		if d, err := time.ParseDuration(cfg.StageTimeout); err != nil {
			errs = append(errs, ValidationError{Field: "stage_timeout", Message: fmt.Sprintf("invalid duration %q", cfg.StageTimeout)})
		} else if d < 0 {
			errs = append(errs, ValidationError{Field: "stage_timeout", Message: "must not be negative"})
		}
	}

	if cfg.Chunk.MaxBytes <= 0 {
		errs = append(errs, ValidationError{Field: "chunk.max_bytes", Message: "must be positive"})
	}
	if cfg.Chunk.Workers < 0 {
		errs = append(errs, ValidationError{Field: "chunk.workers", Message: "must not be negative"})
	}

	return errs
}
