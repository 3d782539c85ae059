package meter

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// fullScale normalizes PCM-16 magnitudes into [0, 1].
const fullScale = 32768.0

// Meter measures emitted chunks: RMS level, absolute peak, and the number
// of samples pinned at full scale. RMS is smoothed across chunks with an
// exponential moving average so a single quiet block does not flap the
// silence gate.
type Meter struct {
	minRMS    float32 // Gate threshold, normalized 0-1; 0 disables the gate
	smoothing float32 // EMA factor applied to the newest measurement

	// Meter state
	lastRMS float32

	// Statistics
	chunksMeasured uint64
	gatedChunks    uint64
	clippedChunks  uint64
	totalClipped   uint64
	lastMeasured   time.Time

	mu sync.Mutex
}

// Measurement is the per-chunk result.
type Measurement struct {
	RMS         float32 `json:"rms"`          // Normalized RMS of this chunk
	SmoothedRMS float32 `json:"smoothed_rms"` // EMA of RMS across chunks
	Peak        float32 `json:"peak"`         // Normalized absolute peak
	Clipped     int     `json:"clipped"`      // Samples at ±full scale
	Gated       bool    `json:"gated"`        // Below the gate threshold; skip transcription
}

// Stats represents meter statistics for monitoring.
type Stats struct {
	ChunksMeasured uint64    `json:"chunks_measured"`
	GatedChunks    uint64    `json:"gated_chunks"`
	GatedPercent   float64   `json:"gated_percent"`
	ClippedChunks  uint64    `json:"clipped_chunks"`
	TotalClipped   uint64    `json:"total_clipped_samples"`
	LastMeasured   time.Time `json:"last_measured"`
	GateThreshold  float32   `json:"gate_threshold"`
}

// New creates a chunk meter. minRMS gates chunks whose smoothed RMS falls
// below it; smoothing weights the newest chunk in the running average.
func New(minRMS, smoothing float32) (*Meter, error) {
	if minRMS < 0 || minRMS > 1 {
		return nil, fmt.Errorf("gate threshold must be between 0 and 1, got %f", minRMS)
	}

	if smoothing <= 0 || smoothing > 1 {
		return nil, fmt.Errorf("smoothing must be in (0, 1], got %f", smoothing)
	}

	return &Meter{
		minRMS:    minRMS,
		smoothing: smoothing,
	}, nil
}

// Measure computes levels for one chunk and updates the running state.
func (m *Meter) Measure(samples []int16) *Measurement {
	m.mu.Lock()
	defer m.mu.Unlock()

	var energy float64
	var peak int32
	clipped := 0

	for _, s := range samples {
		v := int32(s)
		energy += float64(v) * float64(v)

		abs := v
		if abs < 0 {
			abs = -abs
		}
		if abs > peak {
			peak = abs
		}
		if s == 32767 || s == -32768 {
			clipped++
		}
	}

	rms := float32(0)
	if len(samples) > 0 {
		rms = float32(math.Sqrt(energy/float64(len(samples))) / fullScale)
	}

	smoothed := rms
	if m.chunksMeasured > 0 {
		smoothed = m.smoothing*rms + (1-m.smoothing)*m.lastRMS
	}
	m.lastRMS = smoothed

	gated := m.minRMS > 0 && smoothed < m.minRMS

	m.chunksMeasured++
	if gated {
		m.gatedChunks++
	}
	if clipped > 0 {
		m.clippedChunks++
	}
	m.totalClipped += uint64(clipped)
	m.lastMeasured = time.Now()

	return &Measurement{
		RMS:         rms,
		SmoothedRMS: smoothed,
		Peak:        float32(float64(peak) / fullScale),
		Clipped:     clipped,
		Gated:       gated,
	}
}

// GetStats returns current meter statistics.
func (m *Meter) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	gatedPercent := float64(0)
	if m.chunksMeasured > 0 {
		gatedPercent = float64(m.gatedChunks) / float64(m.chunksMeasured) * 100
	}

	return Stats{
		ChunksMeasured: m.chunksMeasured,
		GatedChunks:    m.gatedChunks,
		GatedPercent:   gatedPercent,
		ClippedChunks:  m.clippedChunks,
		TotalClipped:   m.totalClipped,
		LastMeasured:   m.lastMeasured,
		GateThreshold:  m.minRMS,
	}
}

// Reset clears meter state and statistics.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastRMS = 0
	m.chunksMeasured = 0
	m.gatedChunks = 0
	m.clippedChunks = 0
	m.totalClipped = 0
	m.lastMeasured = time.Time{}
}

// GateThreshold returns the configured gate threshold.
func (m *Meter) GateThreshold() float32 {
	return m.minRMS
}
