package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/imgchar/internal/config"
	"github.com/lucasnoah/imgchar/internal/db"
	"github.com/lucasnoah/imgchar/internal/orchestrator"
	"github.com/lucasnoah/imgchar/internal/pgstore"
	"github.com/lucasnoah/imgchar/internal/pipeline"
	"github.com/lucasnoah/imgchar/internal/publish"
	"github.com/lucasnoah/imgchar/internal/stage"
)

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

// openDB opens and migrates the DB, returning it with a cleanup func.
func openDB() (*db.DB, func(), error) {
	dbPath, err := db.DefaultDBPath()
	if err != nil {
		return nil, nil, err
	}
	d, err := db.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, func() { d.Close() }, nil
}

// newPutter returns the publish backend selected by cfg.
func newPutter(ctx context.Context, cfg *config.Config, database *db.DB) (publish.Putter, func(), error) {
	p := cfg.Pipeline.Publish
	switch p.Backend {
	case config.BackendFile:
		return publish.NewFileStore(p.Root), func() {}, nil
	case config.BackendSQLite:
		return publish.NewSQLiteStore(database), func() {}, nil
	case config.BackendPostgres:
		s, err := pgstore.New(ctx, p.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown publish backend %q", p.Backend)
}

// newOrchestrator wires config, stage commands, run store, event DB and
// publisher into an Orchestrator.
func newOrchestrator(cmd *cobra.Command) (*orchestrator.Orchestrator, *config.Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, nil, nil, fmt.Errorf("invalid config: %v", errs[0])
	}

	reg, err := cfg.Registry()
	if err != nil {
		return nil, nil, nil, err
	}
	impls, err := cfg.Impls(nil)
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := pipeline.DefaultStore()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	database, closeDB, err := openDB()
	if err != nil {
		return nil, nil, nil, err
	}
	putter, closePutter, err := newPutter(cmd.Context(), cfg, database)
	if err != nil {
		closeDB()
		return nil, nil, nil, err
	}

	engine := stage.NewEngine(reg, impls)
	orch := orchestrator.NewOrchestrator(engine, cfg.Checker(), putter, store, database, cfg.Pipeline.DatasetFamily)
	orch.SetOutputs(cfg.PublishOutputs())
	if verbose {
		engine.SetProgress(cmd.ErrOrStderr())
		orch.SetProgress(cmd.ErrOrStderr())
	}

	cleanup := func() {
		closePutter()
		closeDB()
	}
	return orch, cfg, cleanup, nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}
