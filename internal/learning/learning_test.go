package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatctl/heatctl/internal/model"
)

var recorded = time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)

func sample(deficit, outdoor float64, minutes int, at time.Time) model.LearningSample {
	return model.LearningSample{
		StartTemp:   21 - deficit,
		TargetTemp:  21,
		OutdoorTemp: outdoor,
		Duration:    time.Duration(minutes) * time.Minute,
		RecordedAt:  at,
	}
}

func TestPredictUnknownBelowMinSamples(t *testing.T) {
	m := New(5, 200, 90*24*time.Hour)

	for i := 1; i <= 4; i++ {
		m.Record("z1", sample(float64(i), 0, i*30, recorded.AddDate(0, 0, -i)))
	}

	_, ok := m.Predict("z1", 19, 21, 0)
	assert.False(t, ok, "four samples must not produce a prediction")

	m.Record("z1", sample(5, 0, 150, recorded))
	d, ok := m.Predict("z1", 19, 21, 0)
	require.True(t, ok)
	assert.InDelta(t, 60, d.Minutes(), 1)
}

func TestPredictScalesWithDeficit(t *testing.T) {
	m := New(5, 200, 90*24*time.Hour)

	// 30 minutes per degree, constant outdoor conditions.
	for i := 1; i <= 5; i++ {
		m.Record("z1", sample(float64(i), 0, i*30, recorded.AddDate(0, 0, -i)))
	}

	d, ok := m.Predict("z1", 18, 21, 0)
	require.True(t, ok)
	assert.InDelta(t, 90, d.Minutes(), 1)

	d, ok = m.Predict("z1", 20, 21, 0)
	require.True(t, ok)
	assert.InDelta(t, 30, d.Minutes(), 1)
}

func TestPredictUsesOutdoorTemperature(t *testing.T) {
	m := New(5, 200, 90*24*time.Hour)

	// minutes = 30*deficit - 2*outdoor: colder outside means longer runs.
	cases := []struct {
		deficit, outdoor float64
	}{
		{1, 0}, {2, 0}, {3, -5}, {2, -10}, {4, 5}, {1, -5},
	}
	for i, c := range cases {
		minutes := int(30*c.deficit - 2*c.outdoor)
		m.Record("z1", sample(c.deficit, c.outdoor, minutes, recorded.AddDate(0, 0, -i)))
	}

	d, ok := m.Predict("z1", 19, 21, -10)
	require.True(t, ok)
	assert.InDelta(t, 80, d.Minutes(), 1)

	d, ok = m.Predict("z1", 19, 21, 10)
	require.True(t, ok)
	assert.InDelta(t, 40, d.Minutes(), 1)
}

func TestPredictZeroDeficit(t *testing.T) {
	m := New(5, 200, 90*24*time.Hour)
	for i := 1; i <= 5; i++ {
		m.Record("z1", sample(float64(i), 0, i*30, recorded.AddDate(0, 0, -i)))
	}

	d, ok := m.Predict("z1", 22, 21, 0)
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), d, "already at target needs no pre-heat")
}

func TestPredictDegenerateFit(t *testing.T) {
	m := New(5, 200, 90*24*time.Hour)

	// Identical samples: no spread at all, even the fallback fit degenerates
	// and the prediction stays unknown.
	for i := 0; i < 6; i++ {
		m.Record("z1", sample(2, 0, 60, recorded.AddDate(0, 0, -i)))
	}
	_, ok := m.Predict("z1", 19, 21, 0)
	assert.False(t, ok)

	// Varying deficit at a constant outdoor temperature degenerates only the
	// plane fit; the single-variable fallback still delivers.
	m2 := New(5, 200, 90*24*time.Hour)
	for i := 1; i <= 5; i++ {
		m2.Record("z1", sample(float64(i), 7, i*30, recorded.AddDate(0, 0, -i)))
	}
	d, ok := m2.Predict("z1", 19, 21, 7)
	require.True(t, ok)
	assert.InDelta(t, 60, d.Minutes(), 1)
}

func TestRetentionByCount(t *testing.T) {
	m := New(5, 10, 90*24*time.Hour)

	for i := 0; i < 25; i++ {
		m.Record("z1", sample(2, 0, 60, recorded.Add(time.Duration(i)*time.Hour)))
	}

	assert.Len(t, m.Samples("z1"), 10)
	// The newest sample survives.
	last := m.Samples("z1")[9]
	assert.Equal(t, recorded.Add(24*time.Hour), last.RecordedAt)
}

func TestRetentionByAge(t *testing.T) {
	m := New(2, 200, 30*24*time.Hour)

	m.Record("z1", sample(2, 0, 60, recorded.AddDate(0, 0, -60)))
	m.Record("z1", sample(2, 0, 60, recorded.AddDate(0, 0, -10)))
	m.Record("z1", sample(2, 0, 60, recorded))

	assert.Len(t, m.Samples("z1"), 2, "sample older than the window is pruned")
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m := New(5, 200, 90*24*time.Hour)
	for i := 1; i <= 5; i++ {
		m.Record("z1", sample(float64(i), 0, i*30, recorded.AddDate(0, 0, -i)))
	}

	restored := New(5, 200, 90*24*time.Hour)
	restored.Restore(m.Snapshot())

	d, ok := restored.Predict("z1", 18, 21, 0)
	require.True(t, ok)
	assert.InDelta(t, 90, d.Minutes(), 1)
}

func TestDropZone(t *testing.T) {
	m := New(2, 200, 90*24*time.Hour)
	m.Record("z1", sample(2, 0, 60, recorded))
	m.Record("z1", sample(3, 0, 90, recorded))

	m.DropZone("z1")
	assert.Empty(t, m.Samples("z1"))
	_, ok := m.Predict("z1", 19, 21, 0)
	assert.False(t, ok)
}

func TestZoneStats(t *testing.T) {
	m := New(3, 200, 90*24*time.Hour)
	m.Record("z1", sample(2, 0, 60, recorded))
	m.Record("z1", sample(2, 0, 60, recorded))

	st := m.ZoneStats("z1")
	assert.Equal(t, 2, st.SampleCount)
	assert.False(t, st.Ready)
	assert.Equal(t, 30*time.Minute, st.MeanPerDeg)

	m.Record("z1", sample(2, 0, 60, recorded))
	assert.True(t, m.ZoneStats("z1").Ready)
}
