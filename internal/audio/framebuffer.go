package audio

import (
	"fmt"
	"sync"
	"time"
)

// FrameBuffer reorders capture frames by sequence number before they reach
// the converter. Frames arriving in order are released immediately; future
// frames are held until the gap fills or exceeds maxGap, at which point the
// missing sequences are written off as lost and processing skips ahead.
type FrameBuffer struct {
	// Sequence tracking
	lastSeq     uint32 // Last released sequence number
	expectedSeq uint32 // Next expected sequence number
	pending     map[uint32][]float32

	// Loss tracking
	lost      map[uint32]bool
	lostCount uint32
	maxGap    uint32 // Maximum sequence gap to wait for

	// Timing and metadata
	lastUpdate  time.Time
	totalFrames uint32

	mu sync.Mutex
}

// FrameBufferStats represents reordering statistics for monitoring.
type FrameBufferStats struct {
	TotalFrames  uint32  `json:"total_frames"`
	LostFrames   uint32  `json:"lost_frames"`
	LossRate     float64 `json:"loss_rate"`
	PendingSeqs  int     `json:"pending_sequences"`
	LastSequence uint32  `json:"last_sequence"`
}

// NewFrameBuffer creates a frame reordering buffer. maxGap bounds how many
// missing frames are waited for before skipping ahead.
func NewFrameBuffer(maxGap uint32) *FrameBuffer {
	if maxGap == 0 {
		maxGap = 20
	}
	return &FrameBuffer{
		pending:    make(map[uint32][]float32),
		lost:       make(map[uint32]bool),
		maxGap:     maxGap,
		lastUpdate: time.Now(),
	}
}

// Add accepts one capture frame and returns the frames now releasable in
// sequence order. The returned slices hold private copies of the sample
// data. Old or duplicate frames are rejected with an error.
func (b *FrameBuffer) Add(sequence uint32, samples []float32) ([][]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastUpdate = time.Now()
	b.totalFrames++

	// First frame sets the starting sequence.
	if b.totalFrames == 1 {
		b.expectedSeq = sequence
		b.lastSeq = sequence - 1
	}

	frame := make([]float32, len(samples))
	copy(frame, samples)

	var released [][]float32

	switch {
	case sequence == b.expectedSeq:
		// Perfect order - release directly
		released = append(released, frame)
		b.lastSeq = sequence
		b.expectedSeq = sequence + 1
		released = b.drainPending(released)

	case sequence > b.expectedSeq:
		// Future frame - hold it
		b.pending[sequence] = frame

		// Write off the gap if it grew too large
		if sequence-b.expectedSeq > b.maxGap {
			b.markMissingAsLost(b.expectedSeq, sequence-1)
			b.expectedSeq = sequence
			released = b.drainPending(released)
		}

	case sequence > b.lastSeq:
		// Late but still ahead of the release point
		b.pending[sequence] = frame
		released = b.drainPending(released)

	default:
		return nil, fmt.Errorf("ignoring old/duplicate frame: seq=%d, lastSeq=%d", sequence, b.lastSeq)
	}

	b.cleanupOldLost()

	return released, nil
}

// drainPending releases consecutive held frames starting at expectedSeq.
// Caller holds the mutex.
func (b *FrameBuffer) drainPending(released [][]float32) [][]float32 {
	for {
		frame, exists := b.pending[b.expectedSeq]
		if !exists {
			break
		}

		released = append(released, frame)
		delete(b.pending, b.expectedSeq)
		delete(b.lost, b.expectedSeq)

		b.lastSeq = b.expectedSeq
		b.expectedSeq++
	}
	return released
}

// markMissingAsLost marks a range of sequence numbers as lost. Caller holds
// the mutex.
func (b *FrameBuffer) markMissingAsLost(start, end uint32) {
	for seq := start; seq <= end; seq++ {
		if _, held := b.pending[seq]; !held {
			b.lost[seq] = true
			b.lostCount++
		}
	}
}

// cleanupOldLost drops loss tracking for long-passed sequences. Caller holds
// the mutex.
func (b *FrameBuffer) cleanupOldLost() {
	if b.lastSeq <= 100 {
		// Subtracting would wrap around and sweep every entry.
		return
	}

	cutoff := b.lastSeq - 100
	for seq := range b.lost {
		if seq < cutoff {
			delete(b.lost, seq)
		}
	}
}

// GetStats returns current reordering statistics.
func (b *FrameBuffer) GetStats() FrameBufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	lossRate := float64(0)
	if b.totalFrames > 0 {
		lossRate = float64(b.lostCount) / float64(b.totalFrames) * 100
	}

	return FrameBufferStats{
		TotalFrames:  b.totalFrames,
		LostFrames:   b.lostCount,
		LossRate:     lossRate,
		PendingSeqs:  len(b.pending),
		LastSequence: b.lastSeq,
	}
}

// GetLastUpdate returns the time of the last accepted frame.
func (b *FrameBuffer) GetLastUpdate() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdate
}
