package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Emin017/RTL2GDS/internal/db"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"run", "step", "next", "status", "signoff", "split", "history", "config", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestSubcommandHelp(t *testing.T) {
	for _, args := range [][]string{
		{"run", "--help"},
		{"step", "--help"},
		{"signoff", "--help"},
		{"split", "--help"},
		{"history", "--help"},
		{"history", "reset", "--help"},
		{"config", "validate", "--help"},
		{"config", "show", "--help"},
	} {
		out, err := executeCommand(args...)
		if err != nil {
			t.Errorf("%v failed: %v", args, err)
		}
		if out == "" {
			t.Errorf("%v produced no output", args)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}

func TestNextAndStatus(t *testing.T) {
	dir := t.TempDir()
	design := writeFile(t, dir, "gcd.yaml", `
TOP_NAME: gcd
RTL_FILE: gcd.v
CLK_PORT_NAME: clk
CLK_FREQ_MHZ: 100
CORE_UTIL: 0.5
RESULT_DIR: `+filepath.Join(dir, "results")+`
`)

	out, err := executeCommand("next", "-c", design)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if strings.TrimSpace(out) != "synthesis" {
		t.Errorf("next = %q, want synthesis", out)
	}

	out, err = executeCommand("status", "-c", design, "--format", "json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, `"finished_stage": "init"`) || !strings.Contains(out, `"expected_stage": "synthesis"`) {
		t.Errorf("status json = %s", out)
	}

	out, err = executeCommand("status", "-c", design, "--format", "text")
	if err != nil {
		t.Fatalf("status text: %v", err)
	}
	if !strings.Contains(out, "gcd") || !strings.Contains(out, "synthesis") {
		t.Errorf("status text = %s", out)
	}
}

func TestNextRequiresConfig(t *testing.T) {
	nextCmd.Flags().Set("config", "")
	if _, err := executeCommand("next"); err == nil {
		t.Error("expected error without --config")
	}
}

func TestStepRejectsUnknownStage(t *testing.T) {
	if _, err := executeCommand("step", "bogus"); err == nil {
		t.Error("expected error for unknown stage")
	}
}

func TestSignoffRejectsUnknownCheck(t *testing.T) {
	_, err := executeCommand("signoff", "lvs")
	if err == nil || !strings.Contains(err.Error(), "want sta or drc") {
		t.Errorf("err = %v", err)
	}
}

func TestSplitCommand(t *testing.T) {
	dir := t.TempDir()
	layout := writeFile(t, dir, "gcd_routing.json", `{"design": "gcd", "data": [{"id": 1}, {"id": 2},]}`)

	out, err := executeCommand("split", layout, "--max-bytes", "1024", "--workers", "1")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("split output = %q", out)
	}
	if lines[0] != filepath.Join(dir, "gcd_routing-header.json") || lines[1] != filepath.Join(dir, "gcd_routing-0.json") {
		t.Errorf("split output = %q", out)
	}
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.yaml", `
tools:
  bin_dir: /opt/rtl2gds/bin
commands:
  placment: ["iEDA"]
`)
	good := writeFile(t, dir, "good.yaml", `
tools:
  bin_dir: /opt/rtl2gds/bin
  tool_dir: /opt/rtl2gds/tools
  foundry_dir: /opt/rtl2gds/foundry/sky130
`)
	defer func() { toolsConfig = "" }()

	out, err := executeCommand("config", "validate", "--tools-config", bad)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(out, "commands.placment") {
		t.Errorf("output = %s", out)
	}

	out, err = executeCommand("config", "validate", "--tools-config", good)
	if err != nil {
		t.Fatalf("validate good config: %v\n%s", err, out)
	}
	if !strings.Contains(out, "is valid") {
		t.Errorf("output = %s", out)
	}
}

func TestConfigShow(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tools.yaml", `
tools:
  tool_dir: /srv/eda/tools
stage_timeout: 2h
`)
	defer func() { toolsConfig = "" }()

	out, err := executeCommand("config", "show", "--tools-config", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"# source: " + path, "tool_dir: /srv/eda/tools", "script_dir: /srv/eda/tools/iEDA/script", "stage_timeout: 2h"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}
}

func TestHistoryReset(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "history.db")
	cfgPath := writeFile(t, dir, "tools.yaml", "history:\n  dsn: "+dsn+"\n")
	defer func() {
		toolsConfig = ""
		historyResetCmd.Flags().Set("yes", "false")
	}()

	d, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := d.RecordStageRun(&db.StageRun{RunID: "r1", TopName: "gcd", Stage: "synthesis", Outcome: db.OutcomeSuccess}); err != nil {
		t.Fatal(err)
	}
	d.Close()

	if _, err := executeCommand("history", "reset", "--tools-config", cfgPath); err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("reset without --yes: err = %v", err)
	}

	out, err := executeCommand("history", "reset", "--yes", "--tools-config", cfgPath)
	if err != nil {
		t.Fatalf("history reset: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Run history reset (SQLite)") {
		t.Errorf("output = %s", out)
	}

	d, err = db.Open(dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()
	runs, err := d.ListStageRuns("", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("got %d stage runs after reset", len(runs))
	}
}
