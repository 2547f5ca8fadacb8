package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/duofusion/internal/clock"
	"github.com/roach88/duofusion/internal/config"
	"github.com/roach88/duofusion/internal/engine"
	"github.com/roach88/duofusion/internal/sensor"
	"github.com/roach88/duofusion/internal/session"
	"github.com/roach88/duofusion/internal/status"
	"github.com/roach88/duofusion/internal/store"
)

// PortFactory builds the two sensor ports of a session.
type PortFactory func(clk clock.Clock) (optical, thermal sensor.Port, err error)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	Duration     time.Duration
	Rate         int
	Simulate     bool
	SimFailEvery int
	StatusAddr   string

	// Ports overrides sensor construction (for testing).
	// If nil, --simulate selects simulated ports.
	Ports PortFactory

	// Clock overrides the precision clock (for testing).
	Clock clock.Clock
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	return newRecordCommand(&RecordOptions{RootOptions: rootOpts})
}

func newRecordCommand(opts *RecordOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a synchronized session",
		Long: `Record optical and thermal frames at a fixed rate until stopped.

The session ends on Ctrl-C, after --duration, or when a sensor or the
staging storage fails persistently. Staged data is always drained and
migrated to <durable_root>/records/<session-id>.

Examples:
  duofusion record --simulate --duration 30s
  duofusion record --config ./duofusion.yaml --rate 8 --status-addr :8088`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, cmd)
		},
	}

	cmd.Flags().DurationVarP(&opts.Duration, "duration", "d", 0, "stop after this long (0 = until interrupted)")
	cmd.Flags().IntVarP(&opts.Rate, "rate", "r", config.DefaultRate, "target frame rate (1-25), overrides config")
	cmd.Flags().BoolVar(&opts.Simulate, "simulate", false, "use simulated sensors")
	cmd.Flags().IntVar(&opts.SimFailEvery, "sim-fail-every", 0, "simulated thermal sensor fails every Nth frame")
	cmd.Flags().StringVar(&opts.StatusAddr, "status-addr", "", "serve live status on this address (e.g. :8088)")

	return cmd
}

func runRecord(opts *RecordOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	if cmd.Flags().Changed("rate") {
		cfg.Rate = opts.Rate
		if err := cfg.Validate(); err != nil {
			return f.fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
		}
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.NewPrecision(
			clock.WithSleepThreshold(cfg.SleepThreshold),
			clock.WithSleepMargin(cfg.SleepMargin),
			clock.WithSpinInterval(cfg.SpinInterval),
		)
	}

	ports := opts.Ports
	if ports == nil {
		if !opts.Simulate {
			return f.fail(ExitCommandError, ErrCodeGeneric,
				"no sensor drivers are linked into this build; use --simulate", nil)
		}
		ports = simulatedPorts(opts.SimFailEvery)
	}
	optical, thermal, err := ports(clk)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeGeneric, "failed to open sensors", err)
	}

	catalog, err := store.Open(store.CatalogPath(cfg.DurableRoot))
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeGeneric, "failed to open session catalog", err)
	}
	defer func() {
		if closeErr := catalog.Close(); closeErr != nil {
			slog.Error("error closing catalog", "error", closeErr)
		}
	}()

	broadcaster := status.NewBroadcaster()
	if opts.StatusAddr != "" {
		srv := status.NewServer(broadcaster, status.WithServerLogger(slog.Default()))
		if err := srv.Start(opts.StatusAddr); err != nil {
			return f.fail(ExitCommandError, ErrCodeGeneric, "failed to start status server", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	ctrl, err := session.New(cfg, optical, thermal,
		session.WithClock(clk),
		session.WithLogger(slog.Default()),
		session.WithCatalog(catalog),
		session.WithBroadcaster(broadcaster),
		session.WithDuration(opts.Duration),
	)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	// Use command's context if available (for testing), otherwise create one
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := ctrl.Start(ctx); err != nil {
		return f.fail(ExitFailure, ErrCodeGeneric, "failed to start session", err)
	}

	// Signals go through the cleanup hook so staging is always drained.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping session", "signal", sig)
			session.RunCleanup()
		case <-ctrl.Done():
		}
	}()

	if opts.Format != "json" {
		fmt.Fprintf(cmd.OutOrStdout(), "Recording session %s. Press Ctrl-C to stop.\n", ctrl.ID())
	}

	summary, err := ctrl.Wait()
	if err != nil {
		code := ErrCodeAborted
		if engine.IsMigrationError(err) && !engine.IsPersistentFailure(err) && !engine.IsStorageStalled(err) {
			code = ErrCodeMigration
		}
		if opts.Format == "json" {
			_ = f.Error(code, err.Error(), summary)
		} else {
			if summary != nil {
				printSummary(cmd.OutOrStdout(), summary)
			}
			_ = f.Error(code, err.Error(), nil)
		}
		return WrapExitError(ExitFailure, "session failed", err)
	}

	if opts.Format == "json" {
		return f.Success(summary)
	}
	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

// simulatedPorts returns a factory for bench sensors with realistic
// latencies: the thermal array is the slower device.
func simulatedPorts(failEvery int) PortFactory {
	return func(clk clock.Clock) (sensor.Port, sensor.Port, error) {
		optical := sensor.NewSimulated(sensor.SimConfig{
			Kind:    sensor.SimOptical,
			Latency: 8 * time.Millisecond,
			Jitter:  4 * time.Millisecond,
			Seed:    1,
		}, clk)
		thermal := sensor.NewSimulated(sensor.SimConfig{
			Kind:      sensor.SimThermal,
			Latency:   12 * time.Millisecond,
			Jitter:    6 * time.Millisecond,
			FailEvery: failEvery,
			Seed:      2,
		}, clk)
		return optical, thermal, nil
	}
}
