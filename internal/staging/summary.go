package staging

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/duofusion/internal/engine"
	"github.com/roach88/duofusion/internal/quality"
)

// Session outcomes recorded in Summary.Status.
const (
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// Summary is the session_info document written at the end of a session.
type Summary struct {
	SessionID     string        `json:"session_id" yaml:"session_id"`
	RunToken      string        `json:"run_token" yaml:"run_token"`
	StartTime     time.Time     `json:"start_time" yaml:"start_time"`
	EndTime       time.Time     `json:"end_time" yaml:"end_time"`
	Duration      time.Duration `json:"duration" yaml:"duration"`
	TargetRate    int           `json:"target_rate" yaml:"target_rate"`
	FrameInterval time.Duration `json:"frame_interval" yaml:"frame_interval"`
	Tolerance     float64       `json:"frame_tolerance" yaml:"frame_tolerance"`
	Frames        engine.Counts `json:"frames" yaml:"frames"`
	SuccessRate   float64       `json:"success_rate" yaml:"success_rate"`
	ActualFPS     float64       `json:"actual_fps" yaml:"actual_fps"`
	Quality       QualityStats  `json:"sync_quality" yaml:"sync_quality"`
	Storage       WriterStats   `json:"storage" yaml:"storage"`
	Status        string        `json:"status" yaml:"status"`
	FailureCause  string        `json:"failure_cause,omitempty" yaml:"failure_cause,omitempty"`
	Location      string        `json:"location" yaml:"location"`
	Migrated      bool          `json:"migrated" yaml:"migrated"`
}

// QualityStats is the sync-quality block of a Summary, in milliseconds.
type QualityStats struct {
	Samples           int64         `json:"samples" yaml:"samples"`
	MeanDeltaMS       float64       `json:"mean_delta_ms" yaml:"mean_delta_ms"`
	WorstDeltaMS      float64       `json:"worst_delta_ms" yaml:"worst_delta_ms"`
	MeanSchedErrorMS  float64       `json:"mean_sched_error_ms" yaml:"mean_sched_error_ms"`
	WorstSchedErrorMS float64       `json:"worst_sched_error_ms" yaml:"worst_sched_error_ms"`
	Class             quality.Class `json:"class" yaml:"class"`
}

// NewQualityStats folds session totals into the summary form. The final
// class is derived from the session-wide mean delta.
func NewQualityStats(t quality.Totals) QualityStats {
	class := quality.ClassUnknown
	if t.Samples > 0 {
		class = quality.Classify(t.MeanDelta)
	}
	return QualityStats{
		Samples:           t.Samples,
		MeanDeltaMS:       Millis(t.MeanDelta),
		WorstDeltaMS:      Millis(t.WorstDelta),
		MeanSchedErrorMS:  Millis(t.MeanSchedError),
		WorstSchedErrorMS: Millis(t.WorstSchedErr),
		Class:             class,
	}
}

// Millis converts d to milliseconds rounded to the microsecond.
func Millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Microsecond)) / 1000
}

// Round3 rounds v to three decimals.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// MarshalSummary renders s as YAML with two-space indentation.
func MarshalSummary(s *Summary) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteSummary writes s into dir/session_info.yaml and returns the path.
func WriteSummary(dir string, s *Summary) (string, error) {
	data, err := MarshalSummary(s)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, SummaryFile)
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}

// ReadSummary loads a session_info document.
func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Summary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse summary %s: %w", path, err)
	}
	return &s, nil
}
