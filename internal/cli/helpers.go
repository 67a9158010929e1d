package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TRU5T/plexdb/internal/config"
	"github.com/TRU5T/plexdb/internal/engine"
	"github.com/TRU5T/plexdb/internal/logging"
	"github.com/TRU5T/plexdb/internal/progress"
)

// setupEngine loads config, applies persistent-flag overrides, opens the
// persisted log, and returns the engine plus a sink streaming progress
// lines to the command's stdout and the log.
func setupEngine(cmd *cobra.Command) (*engine.Engine, *config.Config, progress.Sink, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if v := cmd.Flag("sqlite3").Value.String(); v != "" {
		cfg.Sqlite3Bin = v
	}
	if v := cmd.Flag("log").Value.String(); v != "" {
		cfg.LogPath = v
	}

	logger, closeLog, err := logging.Open(cfg.LogPath, logging.ParseLevel(cfg.LogLevel))
	if err != nil {
		// A broken log path should not block a repair job.
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		logger = logging.Discard()
		closeLog = func() error { return nil }
	}

	sink := progress.Sink(func(line string) {
		fmt.Fprintln(cmd.OutOrStdout(), line)
		logger.Info(line)
	})

	eng := engine.New(cfg, logger)
	cleanup := func() { _ = closeLog() }
	return eng, cfg, sink, cleanup, nil
}

// fatal wraps an engine error into the short user-facing form: actionable
// message plus the persisted log path when one exists.
func fatal(cfg *config.Config, err error) error {
	if cfg != nil && cfg.LogPath != "" {
		return fmt.Errorf("%v (details: %s)", err, cfg.LogPath)
	}
	return err
}
