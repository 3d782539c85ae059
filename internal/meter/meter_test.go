package meter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	_, err := New(-0.1, 0.3)
	assert.Error(t, err)

	_, err = New(1.5, 0.3)
	assert.Error(t, err)

	_, err = New(0.1, 0)
	assert.Error(t, err)

	_, err = New(0.1, 1.5)
	assert.Error(t, err)

	m, err := New(0, 1)
	require.NoError(t, err)
	assert.Equal(t, float32(0), m.GateThreshold())
}

func TestMeasureSilence(t *testing.T) {
	m, err := New(0, 0.3)
	require.NoError(t, err)

	result := m.Measure(make([]int16, 1024))

	assert.Equal(t, float32(0), result.RMS)
	assert.Equal(t, float32(0), result.Peak)
	assert.Equal(t, 0, result.Clipped)
	assert.False(t, result.Gated, "gate disabled at threshold 0")
}

func TestMeasureFullScaleSquare(t *testing.T) {
	m, err := New(0, 1)
	require.NoError(t, err)

	// Alternating full-scale square wave has RMS equal to its peak.
	samples := make([]int16, 100)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 32767
		} else {
			samples[i] = -32768
		}
	}

	result := m.Measure(samples)

	assert.InDelta(t, 1.0, float64(result.RMS), 0.001)
	assert.InDelta(t, 1.0, float64(result.Peak), 0.001)
	assert.Equal(t, 100, result.Clipped)
}

func TestMeasurePeak(t *testing.T) {
	m, err := New(0, 1)
	require.NoError(t, err)

	samples := []int16{0, 100, -16384, 200}
	result := m.Measure(samples)

	assert.InDelta(t, 0.5, float64(result.Peak), 0.001)
	assert.Equal(t, 0, result.Clipped)
}

func TestGating(t *testing.T) {
	m, err := New(0.1, 1)
	require.NoError(t, err)

	quiet := m.Measure(make([]int16, 256))
	assert.True(t, quiet.Gated)

	loud := make([]int16, 256)
	for i := range loud {
		loud[i] = 16384
	}
	result := m.Measure(loud)
	assert.False(t, result.Gated)
}

func TestSmoothingCarriesAcrossChunks(t *testing.T) {
	m, err := New(0, 0.5)
	require.NoError(t, err)

	loud := make([]int16, 256)
	for i := range loud {
		loud[i] = 16384
	}

	first := m.Measure(loud)
	assert.InDelta(t, 0.5, float64(first.SmoothedRMS), 0.001)

	// A silent chunk pulls the average halfway down, not to zero.
	second := m.Measure(make([]int16, 256))
	assert.Equal(t, float32(0), second.RMS)
	assert.InDelta(t, 0.25, float64(second.SmoothedRMS), 0.001)
}

func TestStatsAndReset(t *testing.T) {
	m, err := New(0.5, 1)
	require.NoError(t, err)

	m.Measure(make([]int16, 16))
	m.Measure([]int16{32767, -32768})

	stats := m.GetStats()
	assert.Equal(t, uint64(2), stats.ChunksMeasured)
	assert.Equal(t, uint64(1), stats.ClippedChunks)
	assert.Equal(t, uint64(2), stats.TotalClipped)
	assert.NotZero(t, stats.GatedChunks)
	assert.False(t, stats.LastMeasured.IsZero())

	m.Reset()
	stats = m.GetStats()
	assert.Equal(t, uint64(0), stats.ChunksMeasured)
	assert.Equal(t, uint64(0), stats.GatedChunks)
	assert.True(t, stats.LastMeasured.IsZero())
}
