package audio

import (
	"time"
)

// Chunk represents a full buffer's worth of converted PCM-16 samples emitted
// as one unit. Samples are a private copy made at emission time; a Chunk is
// never mutated after it leaves the converter.
type Chunk struct {
	SessionID   string        `json:"session_id"`
	ChunkID     string        `json:"chunk_id"`
	Index       uint64        `json:"index"` // Emission order, starting at 0
	SampleRate  int           `json:"sample_rate"`
	Samples     []int16       `json:"-"`
	StartSample uint64        `json:"start_sample"` // Position of the first sample in the session
	CreatedAt   time.Time     `json:"created_at"`
	Duration    time.Duration `json:"duration"`
}

// PCMBytes returns the chunk samples as little-endian PCM-16 bytes.
func (c *Chunk) PCMBytes() []byte {
	return SamplesToBytes(c.Samples)
}

// EndSample returns the position one past the last sample in the chunk.
func (c *Chunk) EndSample() uint64 {
	return c.StartSample + uint64(len(c.Samples))
}

// ErrorEvent is the structured error emitted when converting a block of
// samples fails. It carries the failure message and a stack snapshot so the
// downstream consumer can report the fault without halting the pipeline.
type ErrorEvent struct {
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Stack     string    `json:"stack"`
	Timestamp time.Time `json:"timestamp"`
}

// Consumer receives converter output: full chunks in emission order, and
// error events for failed conversion calls.
type Consumer interface {
	OnChunk(chunk *Chunk)
	OnError(event *ErrorEvent)
}
