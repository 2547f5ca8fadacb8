package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/duofusion/internal/capture"
	"github.com/roach88/duofusion/internal/clock"
	"github.com/roach88/duofusion/internal/config"
	"github.com/roach88/duofusion/internal/engine"
	"github.com/roach88/duofusion/internal/quality"
	"github.com/roach88/duofusion/internal/sensor"
	"github.com/roach88/duofusion/internal/staging"
	"github.com/roach88/duofusion/internal/status"
	"github.com/roach88/duofusion/internal/store"
)

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrNotStarted is returned by Wait before Start.
	ErrNotStarted = errors.New("session not started")
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithClock replaces the precision clock built from the config.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		c.clk = clk
	}
}

// WithTokenGenerator replaces the UUIDv7 run token generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(c *Controller) {
		c.tokens = g
	}
}

// WithCatalog records every finished session in st.
func WithCatalog(st *store.Store) Option {
	return func(c *Controller) {
		c.catalog = st
	}
}

// WithBroadcaster publishes live status to b instead of a private
// broadcaster. The controller closes b when the session ends.
func WithBroadcaster(b *status.Broadcaster) Option {
	return func(c *Controller) {
		c.broadcaster = b
	}
}

// WithDuration ends the session after d of scheduled time. Zero records
// until Stop.
func WithDuration(d time.Duration) Option {
	return func(c *Controller) {
		c.duration = d
	}
}

// Controller runs one recording session.
//
// Thread-safety: Start, Stop, Wait, Status and Quality are safe for
// concurrent use. A Controller records at most one session.
type Controller struct {
	cfg         *config.Config
	ports       [2]sensor.Port
	clk         clock.Clock
	logger      *slog.Logger
	tokens      TokenGenerator
	catalog     *store.Store
	broadcaster *status.Broadcaster
	duration    time.Duration

	estimator *quality.Estimator

	mu      sync.Mutex
	started bool
	id      string
	sched   *engine.Scheduler
	done    chan struct{}
	summary *staging.Summary
	err     error
}

// New validates cfg and probes the clock. Both failures are fatal
// configuration errors and no capture is attempted.
func New(cfg *config.Config, optical, thermal sensor.Port, opts ...Option) (*Controller, error) {
	if cfg == nil {
		return nil, engine.NewConfigError("nil config", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if optical == nil || thermal == nil {
		return nil, engine.NewConfigError("both sensor ports are required", nil)
	}

	c := &Controller{
		cfg:    cfg,
		ports:  [2]sensor.Port{optical, thermal},
		logger: slog.Default(),
		tokens: UUIDv7Generator{},
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clk == nil {
		c.clk = clock.NewPrecision(
			clock.WithSleepThreshold(cfg.SleepThreshold),
			clock.WithSleepMargin(cfg.SleepMargin),
			clock.WithSpinInterval(cfg.SpinInterval),
		)
	}
	if c.broadcaster == nil {
		c.broadcaster = status.NewBroadcaster()
	}
	if err := clock.CheckMonotonic(c.clk, clock.DefaultProbeSamples); err != nil {
		return nil, engine.NewClockError(err)
	}
	c.estimator = quality.New(cfg.QualityWindow)
	return c, nil
}

// ID returns the session id, or "" before Start.
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Status returns a latest-wins stream of live status. The channel is
// closed when the session ends.
func (c *Controller) Status() <-chan engine.Status {
	return c.broadcaster.Subscribe().C
}

// Broadcaster returns the status broadcaster, for serving it.
func (c *Controller) Broadcaster() *status.Broadcaster {
	return c.broadcaster
}

// Quality returns the current sync-quality window.
func (c *Controller) Quality() quality.Snapshot {
	return c.estimator.Snapshot()
}

// Start allocates the session, configures both sensors and starts the
// control loop in the background. Cancelling ctx stops the session like
// Stop; termination work runs to completion regardless.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}

	policy, err := c.cfg.Policy()
	if err != nil {
		return engine.NewConfigError("deriving scheduling policy", err)
	}

	names := [2]string{c.ports[0].Name(), c.ports[1].Name()}
	startWall := time.Unix(0, c.clk.Now())
	id, dir, err := staging.CreateSessionDir(c.cfg.StagingPath, c.cfg.DurableRoot, startWall, names[0], names[1])
	if err != nil {
		return fmt.Errorf("allocate session: %w", err)
	}
	logger := c.logger.With("session", id)

	if err := c.configurePorts(ctx); err != nil {
		c.shutdownPorts(logger)
		_ = os.RemoveAll(dir)
		return fmt.Errorf("configure sensors: %w", err)
	}

	writer, err := staging.NewWriter(staging.WriterConfig{
		Dir:                    dir,
		Sensors:                names,
		BatchSize:              c.cfg.MetadataBatchSize,
		Workers:                c.cfg.PayloadWorkers,
		QueueSize:              c.cfg.PayloadQueueSize,
		MaxConsecutiveFailures: c.cfg.MaxConsecutiveWriteFailures,
		DrainTimeout:           c.cfg.DrainTimeout,
	}, staging.WithWriterLogger(logger))
	if err != nil {
		c.shutdownPorts(logger)
		_ = os.RemoveAll(dir)
		return fmt.Errorf("open staging writer: %w", err)
	}

	orch := capture.New(c.clk, c.ports, capture.WithLogger(logger))
	sched := engine.NewScheduler(c.clk, policy, orch, writer, c.estimator,
		engine.WithLogger(logger),
		engine.WithStartupMargin(c.cfg.StartupMargin),
		engine.WithMaxConsecutiveFailures(c.cfg.MaxConsecutiveFailures),
		engine.WithDuration(c.duration),
		engine.WithStatusFunc(func(st engine.Status) {
			st.Session = id
			c.broadcaster.Publish(st)
		}),
	)

	c.started = true
	c.id = id
	c.sched = sched

	run := &run{
		id:       id,
		dir:      dir,
		token:    c.tokens.Generate(),
		startAt:  startWall,
		orch:     orch,
		writer:   writer,
		sched:    sched,
		logger:   logger,
		finished: c.done,
	}
	run.unregister = RegisterCleanup(func() {
		sched.Stop()
		<-run.finished
	})

	logger.Info("session started",
		"dir", dir,
		"rate", c.cfg.Rate,
		"tolerance", c.cfg.FrameTolerance,
		"run_token", run.token)

	go c.execute(ctx, run)
	return nil
}

// Stop requests a cooperative stop. The current tick completes.
func (c *Controller) Stop() {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()
	if sched != nil {
		sched.Stop()
	}
}

// Wait blocks until the session has fully terminated and returns its
// summary. The error is a *engine.RecordingError when the session aborted
// or could not be migrated; the summary is valid in both cases.
func (c *Controller) Wait() (*staging.Summary, error) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}
	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary, c.err
}

// Done is closed when the session has fully terminated.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// run carries the per-session collaborators from Start to termination.
type run struct {
	id         string
	dir        string
	token      string
	startAt    time.Time
	orch       *capture.Orchestrator
	writer     *staging.Writer
	sched      *engine.Scheduler
	logger     *slog.Logger
	finished   chan struct{}
	unregister func()
}

func (c *Controller) execute(ctx context.Context, r *run) {
	res, runErr := r.sched.Run(ctx)
	summary, err := c.terminate(context.WithoutCancel(ctx), r, res, runErr)

	c.mu.Lock()
	c.summary = summary
	c.err = err
	c.mu.Unlock()

	r.unregister()
	close(r.finished)
}

// terminate runs on every exit path: release hardware, drain, migrate,
// write the summary, record the catalog row.
func (c *Controller) terminate(ctx context.Context, r *run, res engine.Result, runErr error) (*staging.Summary, error) {
	if runErr != nil {
		c.logger.Error("session aborted",
			"session", r.id,
			"state", res.State,
			"cause", runErr,
			"at", time.Unix(0, res.EndNS).UTC().Format(time.RFC3339Nano))
	}

	if err := r.orch.Close(); err != nil {
		r.logger.Warn("capture slots did not exit", "error", err)
	}
	c.shutdownPorts(r.logger)

	if err := r.writer.Drain(ctx); err != nil {
		r.logger.Warn("staging drain incomplete, migrating over unsettled writes",
			"dir", r.dir, "error", err)
	}
	if err := r.sched.Settle(); err != nil {
		r.logger.Warn("scheduler settle", "error", err)
	}

	summary := c.buildSummary(r, res, runErr)

	migrator := staging.NewMigrator(
		staging.WithMigratorLogger(r.logger),
		staging.WithRetries(c.cfg.MigrationRetries),
	)
	var migErr error
	loc, err := migrator.Migrate(ctx, r.dir, c.cfg.DurableRoot, r.id)
	if err != nil {
		migErr = engine.NewMigrationError(r.id, r.dir, err)
		r.logger.Error("migration failed, staging data preserved", "dir", r.dir, "error", err)
		summary.Location = r.dir
		summary.Migrated = false
	} else {
		summary.Location = loc
		summary.Migrated = true
	}

	if _, err := staging.WriteSummary(summary.Location, summary); err != nil {
		r.logger.Error("write summary", "dir", summary.Location, "error", err)
	}

	if c.catalog != nil {
		if err := c.catalog.RecordSession(ctx, catalogRow(summary, r.dir)); err != nil {
			r.logger.Error("record session in catalog", "error", err)
		}
	}

	final := engine.Status{
		Session: r.id,
		State:   engine.StateIdle,
		Seq:     max(res.Frames-1, 0),
		Elapsed: res.Duration(),
		Counts:  res.Counts,
		Quality: c.estimator.Snapshot(),
	}
	c.broadcaster.Publish(final)
	c.broadcaster.Close()

	r.logger.Info("session finished",
		"status", summary.Status,
		"frames", res.Frames,
		"success_rate", summary.SuccessRate,
		"location", summary.Location)

	if runErr != nil || migErr != nil {
		return summary, errors.Join(runErr, migErr)
	}
	return summary, nil
}

func (c *Controller) buildSummary(r *run, res engine.Result, runErr error) *staging.Summary {
	s := &staging.Summary{
		SessionID:     r.id,
		RunToken:      r.token,
		StartTime:     r.startAt.UTC(),
		EndTime:       time.Unix(0, res.EndNS).UTC(),
		Duration:      res.Duration(),
		TargetRate:    c.cfg.Rate,
		FrameInterval: c.cfg.FrameInterval(),
		Tolerance:     c.cfg.FrameTolerance,
		Frames:        res.Counts,
		SuccessRate:   staging.Round3(res.Counts.SuccessRate()),
		ActualFPS:     staging.Round3(res.ActualFPS()),
		Quality:       staging.NewQualityStats(c.estimator.Totals()),
		Storage:       r.writer.Stats(),
		Status:        staging.StatusCompleted,
	}
	if runErr != nil {
		s.Status = staging.StatusAborted
		s.FailureCause = runErr.Error()
	}
	return s
}

func catalogRow(s *staging.Summary, stagingDir string) store.Session {
	return store.Session{
		ID:         s.SessionID,
		RunToken:   s.RunToken,
		StartedAt:  s.StartTime,
		EndedAt:    s.EndTime,
		TargetRate: s.TargetRate,
		Status:     s.Status,
		Frames:     s.Frames,
		Quality: store.Quality{
			Samples:           s.Quality.Samples,
			MeanDeltaMS:       s.Quality.MeanDeltaMS,
			WorstDeltaMS:      s.Quality.WorstDeltaMS,
			MeanSchedErrorMS:  s.Quality.MeanSchedErrorMS,
			WorstSchedErrorMS: s.Quality.WorstSchedErrorMS,
			Class:             string(s.Quality.Class),
		},
		StagingDir:   stagingDir,
		Location:     s.Location,
		Migrated:     s.Migrated,
		FailureCause: s.FailureCause,
	}
}

func (c *Controller) configurePorts(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	params := sensor.Params{Rate: c.cfg.Rate}
	for _, p := range c.ports {
		g.Go(func() error {
			if err := p.Configure(gctx, params); err != nil {
				return fmt.Errorf("%s: %w", p.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Controller) shutdownPorts(logger *slog.Logger) {
	var g errgroup.Group
	for _, p := range c.ports {
		g.Go(func() error {
			if err := p.Shutdown(); err != nil {
				logger.Warn("sensor shutdown failed", "sensor", p.Name(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
