package config

import (
	"time"

	"github.com/roach88/duofusion/internal/engine"
)

// Defaults.
const (
	DefaultRate                        = 12
	DefaultFrameTolerance              = 1.2
	DefaultLateThreshold               = time.Millisecond
	DefaultStartupMargin               = 200 * time.Millisecond
	DefaultStagingPath                 = "/dev/shm/duofusion_recordings"
	DefaultDurableRoot                 = "."
	DefaultMetadataBatchSize           = 50
	DefaultPayloadWorkers              = 2
	DefaultPayloadQueueSize            = 64
	DefaultMaxConsecutiveFailures      = 3
	DefaultMaxConsecutiveWriteFailures = 10
	DefaultQualityWindow               = 100
	DefaultDrainTimeout                = 10 * time.Second
	DefaultMigrationRetries            = 3
	DefaultSleepThreshold              = time.Millisecond
	DefaultSleepMargin                 = 500 * time.Microsecond
	DefaultSpinInterval                = 100 * time.Microsecond
)

// Config is the session configuration.
type Config struct {
	// Rate is the target frame rate in frames per second (1-25).
	Rate int `yaml:"rate" mapstructure:"rate"`

	// FrameTolerance is the accepted trigger error as a multiple of the
	// frame interval.
	FrameTolerance float64 `yaml:"frame_tolerance" mapstructure:"frame_tolerance"`

	// LateThreshold separates on-time from late-accepted frames.
	LateThreshold time.Duration `yaml:"late_threshold" mapstructure:"late_threshold"`

	// StartupMargin delays the first target after Start.
	StartupMargin time.Duration `yaml:"startup_margin" mapstructure:"startup_margin"`

	StagingPath string `yaml:"staging_path" mapstructure:"staging_path"`
	DurableRoot string `yaml:"durable_root" mapstructure:"durable_root"`

	MetadataBatchSize           int `yaml:"metadata_batch_size" mapstructure:"metadata_batch_size"`
	PayloadWorkers              int `yaml:"payload_workers" mapstructure:"payload_workers"`
	PayloadQueueSize            int `yaml:"payload_queue_size" mapstructure:"payload_queue_size"`
	MaxConsecutiveFailures      int `yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
	MaxConsecutiveWriteFailures int `yaml:"max_consecutive_write_failures" mapstructure:"max_consecutive_write_failures"`
	QualityWindow               int `yaml:"quality_window" mapstructure:"quality_window"`

	DrainTimeout     time.Duration `yaml:"drain_timeout" mapstructure:"drain_timeout"`
	MigrationRetries int           `yaml:"migration_retries" mapstructure:"migration_retries"`

	SleepThreshold time.Duration `yaml:"sleep_threshold" mapstructure:"sleep_threshold"`
	SleepMargin    time.Duration `yaml:"sleep_margin" mapstructure:"sleep_margin"`
	SpinInterval   time.Duration `yaml:"spin_interval" mapstructure:"spin_interval"`
}

// Default returns a Config populated with the defaults.
func Default() *Config {
	return &Config{
		Rate:                        DefaultRate,
		FrameTolerance:              DefaultFrameTolerance,
		LateThreshold:               DefaultLateThreshold,
		StartupMargin:               DefaultStartupMargin,
		StagingPath:                 DefaultStagingPath,
		DurableRoot:                 DefaultDurableRoot,
		MetadataBatchSize:           DefaultMetadataBatchSize,
		PayloadWorkers:              DefaultPayloadWorkers,
		PayloadQueueSize:            DefaultPayloadQueueSize,
		MaxConsecutiveFailures:      DefaultMaxConsecutiveFailures,
		MaxConsecutiveWriteFailures: DefaultMaxConsecutiveWriteFailures,
		QualityWindow:               DefaultQualityWindow,
		DrainTimeout:                DefaultDrainTimeout,
		MigrationRetries:            DefaultMigrationRetries,
		SleepThreshold:              DefaultSleepThreshold,
		SleepMargin:                 DefaultSleepMargin,
		SpinInterval:                DefaultSpinInterval,
	}
}

// Policy returns the scheduling policy derived from the rate, tolerance
// and late threshold.
func (c *Config) Policy() (engine.Policy, error) {
	return engine.NewPolicy(c.Rate, c.FrameTolerance, c.LateThreshold)
}

// FrameInterval returns 1/rate as a duration.
func (c *Config) FrameInterval() time.Duration {
	return engine.FrameInterval(c.Rate)
}

// ToleranceLimit returns the maximum accepted trigger error.
func (c *Config) ToleranceLimit() time.Duration {
	return engine.ToleranceLimit(c.FrameInterval(), c.FrameTolerance)
}
