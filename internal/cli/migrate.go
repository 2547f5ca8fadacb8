package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/duofusion/internal/config"
	"github.com/roach88/duofusion/internal/staging"
	"github.com/roach88/duofusion/internal/store"
)

// MigrateResult is the JSON payload of the migrate command.
type MigrateResult struct {
	Session  string `json:"session"`
	Location string `json:"location"`
	Already  bool   `json:"already_migrated,omitempty"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate <session-id>",
		Short: "Retry migration of a preserved staging session",
		Long: `Move a session that was left in the staging area to durable storage.

Sessions stay in staging when their migration failed (for example because
the durable volume was full). Once the cause is fixed, this command
completes the move, updates session_info.yaml and the catalog.

Example:
  duofusion migrate 20250314_092653`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runMigrate(opts *RootOptions, id string, cmd *cobra.Command) error {
	ctx := context.Background()
	f := newFormatter(opts, cmd)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	catalog, err := store.Open(store.CatalogPath(cfg.DurableRoot))
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeGeneric, "failed to open session catalog", err)
	}
	defer catalog.Close()

	stagingDir := filepath.Join(cfg.StagingPath, id)
	row, err := catalog.GetSession(ctx, id)
	known := err == nil
	switch {
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return f.fail(ExitCommandError, ErrCodeGeneric, "failed to read session catalog", err)
	case known && row.Migrated:
		return outputMigrate(f, cmd, MigrateResult{Session: id, Location: row.Location, Already: true})
	case known && row.StagingDir != "":
		stagingDir = row.StagingDir
	}

	if _, err := os.Stat(stagingDir); err != nil {
		return f.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("no staged data for session %s", id), err)
	}

	m := staging.NewMigrator(
		staging.WithMigratorLogger(slog.Default()),
		staging.WithRetries(cfg.MigrationRetries),
	)
	loc, err := m.Migrate(ctx, stagingDir, cfg.DurableRoot, id)
	if err != nil {
		return f.fail(ExitFailure, ErrCodeMigration, "migration failed, staging data preserved", err)
	}

	summaryPath := filepath.Join(loc, staging.SummaryFile)
	if sum, err := staging.ReadSummary(summaryPath); err == nil {
		sum.Location = loc
		sum.Migrated = true
		if _, err := staging.WriteSummary(loc, sum); err != nil {
			slog.Warn("failed to update summary", "path", summaryPath, "error", err)
		}
	} else {
		slog.Warn("session has no readable summary", "path", summaryPath, "error", err)
	}

	if known {
		if err := catalog.MarkMigrated(ctx, id, loc); err != nil {
			slog.Warn("failed to update catalog", "session", id, "error", err)
		}
	}

	return outputMigrate(f, cmd, MigrateResult{Session: id, Location: loc})
}

func outputMigrate(f *OutputFormatter, cmd *cobra.Command, res MigrateResult) error {
	if f.Format == "json" {
		return f.Success(res)
	}
	if res.Already {
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s already migrated to %s\n", res.Session, res.Location)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s migrated to %s\n", res.Session, res.Location)
	return nil
}
