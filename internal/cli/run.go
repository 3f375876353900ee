package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hollis-dev/vigil/internal/engine"
	"github.com/hollis-dev/vigil/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string

	// Overrides allow a hosting platform or test to inject collectors,
	// subjects, and the validation client.
	Overrides EngineOverrides
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one evaluation run",
		Long: `Execute one evaluation run: validate the installation, evaluate every
configured subject against its last snapshot, and dispatch change reports.

Example:
  vigil run --config ./vigil.yaml
  vigil run --db /tmp/vigil.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	return cmd
}

func runOnce(opts *RunOptions, cmd *cobra.Command) error {
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

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	summary, runErr := eng.Run(ctx)
	if runErr != nil {
		_ = formatter.Error(runErr.Error())
		if engine.IsSelfDestruct(runErr) {
			return WrapExitError(ExitFailure, "installation deactivated", runErr)
		}
		return WrapExitError(ExitFailure, "run failed", runErr)
	}

	if opts.Format == "json" {
		return formatter.Success(summary)
	}
	return formatter.Success(fmt.Sprintf("run %s: %d subjects, %d reported, %d failed",
		summary.RunToken, summary.Subjects, summary.Reported, summary.Failed))
}

// signalContext derives a context cancelled by SIGINT/SIGTERM from the
// command's context (which tests may pre-cancel).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
