package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/duofusion/internal/engine"
)

// EnvPrefix is the environment variable prefix for overrides
// (e.g. DUOFUSION_RATE=15).
const EnvPrefix = "DUOFUSION"

// Load builds a Config from defaults, the optional YAML file at path and
// environment overrides, in increasing precedence. An empty path skips
// the file. The result is validated; any failure is a CONFIG_INVALID
// RecordingError.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, engine.NewConfigError(fmt.Sprintf("config file not found: %s", path), err)
			}
			return nil, engine.NewConfigError("reading config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, engine.NewConfigError("decoding config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so environment overrides are picked up
// by Unmarshal.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("rate", d.Rate)
	v.SetDefault("frame_tolerance", d.FrameTolerance)
	v.SetDefault("late_threshold", d.LateThreshold)
	v.SetDefault("startup_margin", d.StartupMargin)
	v.SetDefault("staging_path", d.StagingPath)
	v.SetDefault("durable_root", d.DurableRoot)
	v.SetDefault("metadata_batch_size", d.MetadataBatchSize)
	v.SetDefault("payload_workers", d.PayloadWorkers)
	v.SetDefault("payload_queue_size", d.PayloadQueueSize)
	v.SetDefault("max_consecutive_failures", d.MaxConsecutiveFailures)
	v.SetDefault("max_consecutive_write_failures", d.MaxConsecutiveWriteFailures)
	v.SetDefault("quality_window", d.QualityWindow)
	v.SetDefault("drain_timeout", d.DrainTimeout)
	v.SetDefault("migration_retries", d.MigrationRetries)
	v.SetDefault("sleep_threshold", d.SleepThreshold)
	v.SetDefault("sleep_margin", d.SleepMargin)
	v.SetDefault("spin_interval", d.SpinInterval)
}
