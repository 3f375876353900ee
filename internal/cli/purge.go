package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/hollis-dev/vigil/internal/store"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	Database  string
	OlderThan time.Duration
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete snapshots of subjects not seen recently",
		Long: `Delete snapshots whose last update is older than the retention window.

A subject that left the directory stops being evaluated, so its snapshot
stops advancing; this sweep reclaims those rows. The ledger is never
purged this way: claimed items must stay claimed.

Example:
  vigil purge --config ./vigil.yaml
  vigil purge --db ./vigil.db --older-than 1440h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 0, "retention window (defaults to config)")

	return cmd
}

func runPurge(opts *PurgeOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := loadConfig(opts.ConfigFile, opts.Database)
	if err != nil {
		return err
	}

	olderThan := opts.OlderThan
	if olderThan <= 0 {
		olderThan = cfg.Retention.SnapshotWindow
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

	ctx, cancel := signalContext(cmd)
	defer cancel()

	n, err := st.PurgeStaleSnapshots(ctx, olderThan)
	if err != nil {
		return WrapExitError(ExitFailure, "purge failed", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return formatter.Success(map[string]any{"purged": n, "older_than": olderThan.String()})
	}
	return formatter.Success(fmt.Sprintf("purged %d stale snapshots (older than %s)", n, olderThan))
}
