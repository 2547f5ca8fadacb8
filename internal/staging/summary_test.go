package staging

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duofusion/internal/engine"
	"github.com/roach88/duofusion/internal/quality"
)

func sampleSummary() *Summary {
	start := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	return &Summary{
		SessionID:     "20250314_092653",
		RunToken:      "test-run-1",
		StartTime:     start,
		EndTime:       start.Add(60500 * time.Millisecond),
		Duration:      60500 * time.Millisecond,
		TargetRate:    12,
		FrameInterval: engine.FrameInterval(12),
		Tolerance:     1.2,
		Frames:        engine.Counts{Total: 726, OnTime: 700, Late: 20, Dropped: 6, Failed: 2},
		SuccessRate:   Round3(720.0 / 726.0),
		ActualFPS:     Round3(720 / 60.5),
		Quality: QualityStats{
			Samples:           720,
			MeanDeltaMS:       2.35,
			WorstDeltaMS:      14.2,
			MeanSchedErrorMS:  0.125,
			WorstSchedErrorMS: 1.8,
			Class:             quality.ClassExcellent,
		},
		Storage:  WriterStats{PayloadsWritten: 1442, RowsFlushed: 726, Flushes: 15},
		Status:   StatusCompleted,
		Location: "/data/records/20250314_092653",
		Migrated: true,
	}
}

func TestMarshalSummary_Golden(t *testing.T) {
	data, err := MarshalSummary(sampleSummary())
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "session_summary", data)
}

func TestWriteSummary_ReadBack(t *testing.T) {
	dir := t.TempDir()
	want := sampleSummary()
	want.Migrated = false
	want.Status = StatusAborted
	want.FailureCause = "CAPTURE_PERSISTENT_FAILURE: sensor failed 3 consecutive ticks"

	path, err := WriteSummary(dir, want)
	require.NoError(t, err)

	got, err := ReadSummary(path)
	require.NoError(t, err)
	assert.True(t, want.StartTime.Equal(got.StartTime))
	assert.True(t, want.EndTime.Equal(got.EndTime))
	assert.Equal(t, want.Duration, got.Duration)
	assert.Equal(t, want.FrameInterval, got.FrameInterval)
	assert.Equal(t, want.Frames, got.Frames)
	assert.Equal(t, want.Quality, got.Quality)
	assert.Equal(t, want.FailureCause, got.FailureCause)
	assert.False(t, got.Migrated)
}

func TestNewQualityStats(t *testing.T) {
	stats := NewQualityStats(quality.Totals{
		Samples:        10,
		MeanDelta:      12345678 * time.Nanosecond,
		WorstDelta:     30 * time.Millisecond,
		MeanSchedError: 1500 * time.Nanosecond,
	})
	assert.Equal(t, 12.346, stats.MeanDeltaMS)
	assert.Equal(t, 30.0, stats.WorstDeltaMS)
	assert.Equal(t, 0.002, stats.MeanSchedErrorMS)
	assert.Equal(t, quality.ClassFair, stats.Class)

	assert.Equal(t, quality.ClassUnknown, NewQualityStats(quality.Totals{}).Class)
}
