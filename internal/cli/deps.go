package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Emin017/RTL2GDS/internal/config"
	"github.com/Emin017/RTL2GDS/internal/db"
	"github.com/Emin017/RTL2GDS/internal/orchestrator"
	"github.com/Emin017/RTL2GDS/internal/pipeline"
	"github.com/Emin017/RTL2GDS/internal/stage"
	"github.com/Emin017/RTL2GDS/internal/step"
	"github.com/Emin017/RTL2GDS/internal/tool"
)

// loadConfig loads the tool config named by --tools-config, or the default one.
func loadConfig() (*config.Config, error) {
	if toolsConfig != "" {
		return config.Load(toolsConfig)
	}
	return config.LoadDefault()
}

// loadValidConfig is loadConfig plus Validate.
func loadValidConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid tool config %s: %v (run 'rtl2gds config validate')", sourceName(cfg), errs[0])
	}
	return cfg, nil
}

func sourceName(cfg *config.Config) string {
	if cfg.Source == "" {
		return "(built-in defaults)"
	}
	return cfg.Source
}

// openHistory opens and migrates the run-history database, returning it
// with a cleanup func. It returns a nil DB when history is disabled.
func openHistory(cfg *config.Config) (*db.DB, func(), error) {
	if cfg.History.Disabled {
		return nil, func() {}, nil
	}
	dsn := cfg.History.DSN
	if dsn == "" {
		p, err := config.DefaultHistoryPath()
		if err != nil {
			return nil, nil, err
		}
		dsn = p
	}
	if !strings.Contains(dsn, "://") && dsn != ":memory:" {
		if err := db.EnsureDir(dsn); err != nil {
			return nil, nil, err
		}
	}
	d, err := db.Open(dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, func() { d.Close() }, nil
}

// newDriver wires the engine and driver for a command. Progress goes to
// the command's stderr.
func newDriver(cmd *cobra.Command, cfg *config.Config, withHistory bool) (*orchestrator.Driver, *stage.Engine, func(), error) {
	catalog, err := step.NewCatalog(cfg.CommandOverrides())
	if err != nil {
		return nil, nil, nil, err
	}
	engine := stage.NewEngine(catalog, tool.ExecRunner{}, cfg)
	engine.SetProgress(cmd.ErrOrStderr())
	driver := orchestrator.NewDriver(engine, cfg)
	driver.SetProgress(cmd.ErrOrStderr())

	cleanup := func() {}
	if withHistory {
		h, closeDB, err := openHistory(cfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open run history: %w", err)
		}
		if h != nil {
			engine.SetRecorder(h)
			driver.SetEvents(h)
		}
		cleanup = closeDB
	}
	return driver, engine, cleanup, nil
}

// loadDesign loads the design config or checkpoint named by the -c flag.
func loadDesign(cmd *cobra.Command) (*pipeline.DesignState, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	return pipeline.Load(path)
}

func addDesignFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "design config or checkpoint YAML")
}
