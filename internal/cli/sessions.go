package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/duofusion/internal/config"
	"github.com/roach88/duofusion/internal/store"
)

// SessionsOptions holds flags for the sessions command.
type SessionsOptions struct {
	*RootOptions
	Root string // durable root, overrides config
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions",
		Long: `List the sessions in the catalog of the durable root, oldest first.

Examples:
  duofusion sessions
  duofusion sessions --root /data --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Root, "root", "", "durable root (defaults to durable_root from config)")

	return cmd
}

func runSessions(opts *SessionsOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	root, err := durableRoot(opts.Config, opts.Root)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	catalog, err := store.Open(store.CatalogPath(root))
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeGeneric, "failed to open session catalog", err)
	}
	defer catalog.Close()

	sessions, err := catalog.ListSessions(context.Background())
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeGeneric, "failed to list sessions", err)
	}

	if opts.Format == "json" {
		if sessions == nil {
			sessions = []store.Session{}
		}
		return f.Success(sessions)
	}
	printSessions(cmd.OutOrStdout(), sessions)
	return nil
}

// durableRoot returns override when set, otherwise the configured root.
func durableRoot(configPath, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.DurableRoot, nil
}
