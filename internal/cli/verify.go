package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/duofusion/internal/sensor"
	"github.com/roach88/duofusion/internal/staging"
)

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <session-dir>",
		Short: "Check a session directory for consistency",
		Long: `Check that a recorded session is internally consistent:

- metadata rows are numbered 0, 1, 2, ... without gaps
- every artifact marked ok exists on disk, and nothing else does
- the summary counts the same number of frames as the metadata log

Exits 1 when any problem is found.

Example:
  duofusion verify ./records/20250314_092653`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runVerify(opts *RootOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	rep, err := staging.Verify(dir, [2]string{sensor.Optical, sensor.Thermal})
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeNotFound, "cannot read session", err)
	}

	if rep.OK() {
		if opts.Format == "json" {
			return f.Success(rep)
		}
		printReport(cmd.OutOrStdout(), rep)
		return nil
	}

	if opts.Format == "json" {
		_ = f.Error(ErrCodeInconsistent, "session is inconsistent", rep)
	} else {
		printReport(cmd.OutOrStdout(), rep)
	}
	return NewExitError(ExitFailure, "session is inconsistent")
}
