package cli

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/hollis-dev/vigil/internal/engine"
	"github.com/hollis-dev/vigil/internal/store"
)

// DaemonOptions holds flags for the daemon command.
type DaemonOptions struct {
	*RootOptions
	Database string
	Interval time.Duration

	Overrides EngineOverrides
}

// NewDaemonCommand creates the daemon command.
func NewDaemonCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DaemonOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run evaluation cycles on an interval",
		Long: `Run evaluation cycles on a fixed interval until interrupted.

Runs never overlap: if a cycle is still in flight when the next tick
fires, the tick is skipped and logged. A terminal validation rejection or
an unhandled run failure deactivates the installation and stops the
daemon.

Example:
  vigil daemon --config ./vigil.yaml --interval 1h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Hour, "time between evaluation runs")

	return cmd
}

func runDaemon(opts *DaemonOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := loadConfig(opts.ConfigFile, opts.Database)
	if err != nil {
		return err
	}
	if err := checkDisabled(cfg.Database.Path); err != nil {
		return err
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	eng, err := buildEngine(cfg, st, opts.Overrides)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	slog.Info("daemon starting", "interval", opts.Interval, "db", cfg.Database.Path)

	var (
		inFlight    atomic.Bool
		wg          sync.WaitGroup
		mu          sync.Mutex
		terminalErr error
	)

	// doRun executes one cycle unless the previous one is still in flight.
	doRun := func() {
		if !inFlight.CompareAndSwap(false, true) {
			slog.Warn("previous run still in flight, skipping tick")
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer inFlight.Store(false)

			_, runErr := eng.Run(ctx)
			if runErr == nil {
				return
			}
			if engine.IsSelfDestruct(runErr) || engine.IsRunFailure(runErr) {
				slog.Error("installation deactivated, stopping daemon", "error", runErr)
				mu.Lock()
				terminalErr = runErr
				mu.Unlock()
				cancel()
				return
			}
			// Transient failure (validation unreachable): retry next tick.
			slog.Error("run failed, retrying next tick", "error", runErr)
		}()
	}

	doRun()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			doRun()
		case <-ctx.Done():
			wg.Wait()
			mu.Lock()
			defer mu.Unlock()
			if terminalErr != nil {
				return WrapExitError(ExitFailure, "installation deactivated", terminalErr)
			}
			slog.Info("daemon stopped")
			return nil
		}
	}
}
