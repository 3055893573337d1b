package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskmaster/workspace/internal/adapters/localstore"
	"github.com/taskmaster/workspace/internal/adapters/remote"
	"github.com/taskmaster/workspace/internal/application/services"
	"github.com/taskmaster/workspace/internal/infrastructure/config"
	"github.com/taskmaster/workspace/internal/infrastructure/logger"
)

const userAgent = "workspace-cli"

// workspace wires the local document and its sync client for one command
type workspace struct {
	cfg    *config.Config
	logger *logger.Logger
	store  *services.DocumentStore
	sync   *services.SyncClient
}

func openWorkspace() (*workspace, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	// Commands print to stdout, so diagnostics go to stderr unless a file is configured.
	logCfg := cfg.Logger
	if logCfg.Output == "stdout" {
		logCfg.Output = "stderr"
	}
	if logCfg.Level == "info" {
		logCfg.Level = "warn"
	}
	appLogger, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	storage := localstore.New(cfg.Client.DataDir)
	store := services.NewDocumentStore(storage, appLogger,
		services.WithSaveDebounce(cfg.Client.SaveDebounce),
	)
	store.Load()

	client := remote.NewClient(cfg.Client.Timeout, userAgent)
	syncClient := services.NewSyncClient(store, storage, client, appLogger,
		services.WithPushDebounce(cfg.Client.PushDebounce),
	)

	ws := &workspace{
		cfg:    cfg,
		logger: appLogger,
		store:  store,
		sync:   syncClient,
	}

	if err := ws.applyEnvConnection(); err != nil {
		ws.close()
		return nil, err
	}
	return ws, nil
}

// applyEnvConnection seeds the sync connection from SYNC_URL and SYNC_API_KEY
// when the device has none yet.
func (w *workspace) applyEnvConnection() error {
	if w.cfg.Client.SyncURL == "" || w.sync.Config().URL != "" {
		return nil
	}
	return w.sync.Configure(w.cfg.Client.SyncURL, w.cfg.Client.APIKey, true)
}

// commit writes pending changes and, with auto-sync on, pushes them before
// the process exits.
func (w *workspace) commit(ctx context.Context) error {
	if err := w.store.Flush(); err != nil {
		return fmt.Errorf("save workspace: %w", err)
	}
	cfg := w.sync.Config()
	if !cfg.AutoSync || !cfg.Configured() {
		return nil
	}
	result := w.sync.PushState(ctx)
	if !result.OK && !result.Busy {
		w.logger.Warnw("Auto push failed", "kind", result.Kind, "error", result.Err)
	}
	return nil
}

func (w *workspace) close() {
	_ = w.sync.Close()
	if err := w.store.Close(); err != nil {
		w.logger.Errorw("Failed to save workspace", "error", err)
	}
	_ = w.logger.Close()
}

// withWorkspace runs fn against an opened workspace. When mutates is set the
// changes are committed afterwards.
func withWorkspace(mutates bool, fn func(cmd *cobra.Command, args []string, ws *workspace) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace()
		if err != nil {
			return err
		}
		defer ws.close()

		if err := fn(cmd, args, ws); err != nil {
			return err
		}
		if mutates {
			return ws.commit(cmd.Context())
		}
		return nil
	}
}
