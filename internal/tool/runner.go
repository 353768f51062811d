// Package tool runs the external EDA programs as blocking subprocesses.
package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Emin017/RTL2GDS/internal/config"
)

// Invocation is one subprocess call.
type Invocation struct {
	Argv   []string
	Env    map[string]string // overlaid on the current process environment
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, inv Invocation) (exitCode int, err error)
}

// ExecRunner implements CommandRunner with os/exec. It applies no timeout
// of its own; cancel ctx to stop a hung tool.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, inv Invocation) (int, error) {
	if len(inv.Argv) == 0 {
		return -1, errors.New("exec: empty command")
	}
	cmd := exec.CommandContext(ctx, inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = inv.Dir
	cmd.Env = MergeEnv(os.Environ(), inv.Env)
	cmd.Stdout = inv.Stdout
	cmd.Stderr = inv.Stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("exec %s: %w", inv.Argv[0], err)
	}
	return 0, nil
}

// MergeEnv overlays overrides on a KEY=VALUE environment. Overridden keys
// are replaced in place and new keys are appended sorted by name.
func MergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if v, ok := overrides[k]; ok {
			out = append(out, k+"="+v)
			seen[k] = true
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

// ToolchainEnv returns the variables that locate the EDA installation.
// PATH and LD_LIBRARY_PATH are prefixed onto the current values.
func ToolchainEnv(t config.Tools) map[string]string {
	return map[string]string{
		"PATH": joinList(
			filepath.Join(t.BinDir, "iEDA"),
			filepath.Join(t.BinDir, "yosys", "bin"),
			os.Getenv("PATH"),
		),
		"LD_LIBRARY_PATH":      joinList(filepath.Join(t.BinDir, "lib"), os.Getenv("LD_LIBRARY_PATH")),
		"FOUNDRY_DIR":          t.FoundryDir,
		"TCL_SCRIPT_DIR":       t.ScriptDir,
		"CONFIG_DIR":           t.ConfigDir,
		"RUST_BACKTRACE":       "1",
		"VERILOG_INCLUDE_DIRS": "",
	}
}

func joinList(parts ...string) string {
	var keep []string
	for _, p := range parts {
		if p != "" {
			keep = append(keep, p)
		}
	}
	return strings.Join(keep, string(os.PathListSeparator))
}
