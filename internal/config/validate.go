package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/duofusion/internal/engine"
)

//go:embed schema.cue
var schemaSource string

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaVal  cue.Value
	schemaErr  error
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		root := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := root.Err(); err != nil {
			schemaErr = fmt.Errorf("compiling config schema: %w", err)
			return
		}
		schemaVal = root.LookupPath(cue.ParsePath("#Config"))
		if !schemaVal.Exists() {
			schemaErr = fmt.Errorf("config schema has no #Config definition")
		}
	})
	return schemaCtx, schemaVal, schemaErr
}

// Validate checks the configuration against the schema, then verifies
// that the staging and durable roots can be created and written.
func (c *Config) Validate() error {
	if err := c.validateSchema(); err != nil {
		return err
	}
	if c.SleepMargin > c.SleepThreshold {
		return engine.NewConfigError(
			fmt.Sprintf("sleep_margin %v exceeds sleep_threshold %v", c.SleepMargin, c.SleepThreshold), nil)
	}
	if _, err := c.Policy(); err != nil {
		return engine.NewConfigError("deriving scheduling policy", err)
	}
	for _, dir := range []string{c.StagingPath, c.DurableRoot} {
		if err := checkWritable(dir); err != nil {
			return engine.NewConfigError(fmt.Sprintf("directory not writable: %s", dir), err)
		}
	}
	return nil
}

func (c *Config) validateSchema() error {
	ctx, schema, err := loadSchema()
	if err != nil {
		return engine.NewConfigError("loading schema", err)
	}

	val := ctx.Encode(c.schemaView())
	if err := val.Err(); err != nil {
		return engine.NewConfigError("encoding config", err)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return engine.NewConfigError(schemaMessage(err), err)
	}
	return nil
}

// schemaView flattens the config into the schema's field names.
// Durations are passed as integer nanoseconds.
func (c *Config) schemaView() map[string]any {
	return map[string]any{
		"rate":                           c.Rate,
		"frame_tolerance":                c.FrameTolerance,
		"late_threshold":                 int64(c.LateThreshold),
		"startup_margin":                 int64(c.StartupMargin),
		"staging_path":                   c.StagingPath,
		"durable_root":                   c.DurableRoot,
		"metadata_batch_size":            c.MetadataBatchSize,
		"payload_workers":                c.PayloadWorkers,
		"payload_queue_size":             c.PayloadQueueSize,
		"max_consecutive_failures":       c.MaxConsecutiveFailures,
		"max_consecutive_write_failures": c.MaxConsecutiveWriteFailures,
		"quality_window":                 c.QualityWindow,
		"drain_timeout":                  int64(c.DrainTimeout),
		"migration_retries":              c.MigrationRetries,
		"sleep_threshold":                int64(c.SleepThreshold),
		"sleep_margin":                   int64(c.SleepMargin),
		"spin_interval":                  int64(c.SpinInterval),
	}
}

// schemaMessage reduces a CUE error list to its first entry, prefixed by
// the offending field path.
func schemaMessage(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	first := errs[0]
	format, args := first.Msg()
	msg := fmt.Sprintf(format, args...)
	var fields []string
	for _, p := range first.Path() {
		if p != "#Config" {
			fields = append(fields, p)
		}
	}
	if len(fields) > 0 {
		return fmt.Sprintf("%s: %s", strings.Join(fields, "."), msg)
	}
	return msg
}

// checkWritable creates dir if needed and probes it with a temp file.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".duofusion-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(filepath.Clean(name))
}
