package audio

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultChunkCapacity is the number of PCM-16 samples accumulated before a
// chunk is emitted.
const DefaultChunkCapacity = 2048

// ConversionError describes a failed conversion call. The whole input block
// is rejected: nothing from the failing call reaches the chunk buffer.
type ConversionError struct {
	SampleIndex int    // Index of the offending sample within the input block
	Reason      string // What made the sample unrepresentable
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion failed at sample %d: %s", e.SampleIndex, e.Reason)
}

// ConverterConfig contains configuration for a sample converter.
type ConverterConfig struct {
	SessionID  string // Owning session, stamped on emitted chunks
	SampleRate int    // Capture sample rate in Hz
	Capacity   int    // Chunk capacity in samples; DefaultChunkCapacity if zero
}

// Converter stream-converts floating-point capture samples into fixed-size
// PCM-16 chunks. Each input sample is scaled, rounded, and clamped to the
// signed 16-bit range, then appended to an internal buffer; when the buffer
// reaches capacity its contents are emitted to the consumer as one immutable
// chunk and the write cursor resets. Partial buffers are never emitted
// implicitly; hosts that want the tail must call Flush explicitly.
type Converter struct {
	sessionID  string
	sampleRate int
	capacity   int
	consumer   Consumer

	buf    []int16
	cursor int

	// Statistics
	samplesIn     uint64
	samplesOut    uint64 // Total samples handed to emitted chunks
	chunksEmitted uint64
	failedCalls   uint64

	mu sync.Mutex
}

// ConverterStats represents converter statistics for monitoring.
type ConverterStats struct {
	SamplesIn     uint64 `json:"samples_in"`
	SamplesOut    uint64 `json:"samples_out"`
	ChunksEmitted uint64 `json:"chunks_emitted"`
	FailedCalls   uint64 `json:"failed_calls"`
	Pending       int    `json:"pending_samples"`
	Capacity      int    `json:"capacity"`
}

// NewConverter creates a new sample converter emitting to the given consumer.
func NewConverter(cfg ConverterConfig, consumer Consumer) (*Converter, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}

	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}

	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = DefaultChunkCapacity
	}
	if capacity < 0 {
		return nil, fmt.Errorf("capacity cannot be negative, got %d", cfg.Capacity)
	}

	return &Converter{
		sessionID:  cfg.SessionID,
		sampleRate: cfg.SampleRate,
		capacity:   capacity,
		consumer:   consumer,
		buf:        make([]int16, capacity),
	}, nil
}

// Process converts one block of floating-point samples, appending the
// results to the chunk buffer and emitting a chunk each time the buffer
// fills. On failure the block is rejected whole: the buffer is untouched,
// exactly one ErrorEvent is delivered to the consumer, and the error is
// returned so the host can decide whether to keep invoking the converter.
//
// Consumer callbacks run after the converter lock is released, so the
// consumer may query the converter (Pending, GetStats) from within them.
func (c *Converter) Process(samples []float32) error {
	chunks, event, err := c.convert(samples)

	for _, chunk := range chunks {
		c.consumer.OnChunk(chunk)
	}
	if event != nil {
		c.consumer.OnError(event)
	}

	return err
}

// convert performs the locked portion of Process: validation, buffering, and
// chunk construction. Emission happens in Process once the lock is dropped.
func (c *Converter) convert(samples []float32) (chunks []*Chunk, event *ErrorEvent, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("conversion panic: %v", r)
			event = c.failureLocked(err)
		}
	}()

	// Reject the block before touching the buffer so a failure can never
	// leave a partially written or corrupted chunk behind.
	for i, s := range samples {
		if !IsFinite(s) {
			convErr := &ConversionError{SampleIndex: i, Reason: fmt.Sprintf("non-finite sample %v", s)}
			return nil, c.failureLocked(convErr), convErr
		}
	}

	for _, s := range samples {
		c.buf[c.cursor] = ConvertSample(s)
		c.cursor++
		c.samplesIn++

		if c.cursor == c.capacity {
			chunks = append(chunks, c.buildChunkLocked())
		}
	}

	return chunks, nil, nil
}

// Flush emits the buffered partial chunk, if any, and resets the cursor.
// Flushing is an explicit host decision; the converter never flushes on its
// own. Returns the emitted chunk or nil when the buffer was empty.
func (c *Converter) Flush() *Chunk {
	c.mu.Lock()
	if c.cursor == 0 {
		c.mu.Unlock()
		return nil
	}
	chunk := c.buildChunkLocked()
	c.mu.Unlock()

	c.consumer.OnChunk(chunk)

	return chunk
}

// Reset discards any buffered samples and resets the write cursor without
// emitting. Statistics are preserved.
func (c *Converter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cursor = 0
}

// Pending returns the number of buffered samples not yet emitted. After any
// Process call this is at most capacity-1.
func (c *Converter) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cursor
}

// Capacity returns the chunk capacity in samples.
func (c *Converter) Capacity() int {
	return c.capacity
}

// GetStats returns current converter statistics.
func (c *Converter) GetStats() ConverterStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ConverterStats{
		SamplesIn:     c.samplesIn,
		SamplesOut:    c.samplesOut,
		ChunksEmitted: c.chunksEmitted,
		FailedCalls:   c.failedCalls,
		Pending:       c.cursor,
		Capacity:      c.capacity,
	}
}

// buildChunkLocked copies the buffered samples into an immutable chunk and
// resets the cursor. The caller holds the mutex and delivers the chunk to
// the consumer after releasing it.
func (c *Converter) buildChunkLocked() *Chunk {
	samples := make([]int16, c.cursor)
	copy(samples, c.buf[:c.cursor])

	chunk := &Chunk{
		SessionID:   c.sessionID,
		ChunkID:     uuid.New().String(),
		Index:       c.chunksEmitted,
		SampleRate:  c.sampleRate,
		Samples:     samples,
		StartSample: c.samplesOut,
		CreatedAt:   time.Now(),
		Duration:    time.Duration(len(samples)) * time.Second / time.Duration(c.sampleRate),
	}

	c.samplesOut += uint64(len(samples))
	c.chunksEmitted++
	c.cursor = 0

	return chunk
}

// failureLocked records a failed call and builds the structured error event
// the caller delivers after releasing the mutex.
func (c *Converter) failureLocked(err error) *ErrorEvent {
	c.failedCalls++
	return &ErrorEvent{
		SessionID: c.sessionID,
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		Timestamp: time.Now(),
	}
}
