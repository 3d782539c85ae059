package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skillvee/audio-stream-service/internal/audio"
	"github.com/skillvee/audio-stream-service/internal/meter"
	"github.com/skillvee/audio-stream-service/internal/store"
	"github.com/skillvee/audio-stream-service/internal/transcription"
)

// Session represents one active capture session: a frame reorder buffer
// feeding a sample converter, with level metering on every emitted chunk.
type Session struct {
	ID          string // Persistent session identifier
	WireID      uint32 // Identifier used on the wire by the capture client
	CandidateID string
	InterviewID string
	DeviceLabel string
	SampleRate  int

	StartTime    time.Time
	LastActivity time.Time

	frames    *audio.FrameBuffer
	converter *audio.Converter
	meter     *meter.Meter

	// Chunk tracking
	chunksStored     uint64
	chunksGated      uint64
	chunksSent       uint64
	chunksSuccessful uint64
	chunksFailed     uint64
	lastErrorMessage string
	conversionErrors uint64

	// In-flight transcription tracking
	transcriptionWG sync.WaitGroup

	manager *Manager

	mu sync.RWMutex
}

// SessionInfo represents session information for monitoring and APIs.
type SessionInfo struct {
	SessionID    string        `json:"session_id"`
	WireID       uint32        `json:"wire_id"`
	CandidateID  string        `json:"candidate_id"`
	InterviewID  string        `json:"interview_id"`
	DeviceLabel  string        `json:"device_label"`
	SampleRate   int           `json:"sample_rate"`
	StartTime    time.Time     `json:"start_time"`
	LastActivity time.Time     `json:"last_activity"`
	Duration     time.Duration `json:"duration"`

	// Frame reordering statistics
	FramesReceived uint32  `json:"frames_received"`
	FramesLost     uint32  `json:"frames_lost"`
	FrameLossRate  float64 `json:"frame_loss_rate"`

	// Conversion statistics
	SamplesConverted uint64 `json:"samples_converted"`
	ChunksEmitted    uint64 `json:"chunks_emitted"`
	PendingSamples   int    `json:"pending_samples"`
	ConversionErrors uint64 `json:"conversion_errors"`

	// Downstream statistics
	ChunksStored     uint64 `json:"chunks_stored"`
	ChunksGated      uint64 `json:"chunks_gated"`
	ChunksSent       uint64 `json:"chunks_sent"`
	ChunksSuccessful uint64 `json:"chunks_successful"`
	ChunksFailed     uint64 `json:"chunks_failed"`
}

// AddFrame feeds one sequenced capture frame into the session pipeline.
// Frames released in order by the reorder buffer are converted immediately.
func (s *Session) AddFrame(sequence uint32, samples []float32) error {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()

	released, err := s.frames.Add(sequence, samples)
	if err != nil {
		return err
	}

	for _, frame := range released {
		if err := s.converter.Process(frame); err != nil {
			// The converter already reported the failure through OnError;
			// the block is dropped and the stream continues.
			s.manager.logger.Warn("Conversion call failed",
				slog.String("session_id", s.ID),
				slog.Uint64("sequence", uint64(sequence)),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// OnChunk handles one emitted chunk: meter, persist, archive, and hand off
// for transcription. The converter delivers chunks after releasing its own
// lock, so this path may query the converter freely.
func (s *Session) OnChunk(chunk *audio.Chunk) {
	m := s.manager
	measurement := s.meter.Measure(chunk.Samples)

	if m.metrics != nil {
		m.metrics.RecordSamplesConverted(len(chunk.Samples))
		m.metrics.RecordChunkEmitted(float64(len(chunk.Samples)) / float64(s.converter.Capacity()))
		m.metrics.RecordChunkLevels(float64(measurement.RMS), measurement.Gated, measurement.Clipped)
	}

	status := store.ChunkStatusPending
	if measurement.Gated {
		status = store.ChunkStatusGated
	}

	rec := &store.ChunkRecord{
		ID:          chunk.ChunkID,
		SessionID:   s.ID,
		Index:       chunk.Index,
		StartSample: chunk.StartSample,
		EndSample:   chunk.EndSample(),
		SampleRate:  chunk.SampleRate,
		DurationMS:  chunk.Duration.Milliseconds(),
		RMS:         float64(measurement.RMS),
		Peak:        float64(measurement.Peak),
		Clipped:     measurement.Clipped,
		Status:      status,
		CreatedAt:   chunk.CreatedAt,
	}

	if err := m.store.InsertChunk(m.ctx, rec); err != nil {
		m.logger.Error("Failed to persist chunk",
			slog.String("session_id", s.ID),
			slog.String("chunk_id", chunk.ChunkID),
			slog.String("error", err.Error()),
		)
	} else {
		s.mu.Lock()
		s.chunksStored++
		s.mu.Unlock()
	}

	if m.archiver != nil {
		if path, err := m.archiver.WriteChunk(chunk); err != nil {
			if m.metrics != nil {
				m.metrics.RecordArchiveError()
			}
			m.logger.Error("Failed to archive chunk",
				slog.String("session_id", s.ID),
				slog.String("chunk_id", chunk.ChunkID),
				slog.String("error", err.Error()),
			)
		} else {
			if m.metrics != nil {
				m.metrics.RecordChunkArchived()
			}
			m.logger.Debug("Chunk archived",
				slog.String("chunk_id", chunk.ChunkID),
				slog.String("path", path),
			)
		}
	}

	if measurement.Gated {
		s.mu.Lock()
		s.chunksGated++
		s.mu.Unlock()

		m.logger.Debug("Chunk gated as silence",
			slog.String("session_id", s.ID),
			slog.String("chunk_id", chunk.ChunkID),
			slog.Float64("smoothed_rms", float64(measurement.SmoothedRMS)),
		)
		return
	}

	m.logger.Info("Audio chunk emitted",
		slog.String("session_id", s.ID),
		slog.String("chunk_id", chunk.ChunkID),
		slog.Uint64("index", chunk.Index),
		slog.Int("samples", len(chunk.Samples)),
		slog.Float64("duration", chunk.Duration.Seconds()),
		slog.Float64("rms", float64(measurement.RMS)),
	)

	if m.transcriptionClient != nil {
		s.transcriptionWG.Add(1)
		go func() {
			defer s.transcriptionWG.Done()
			s.processTranscription(chunk, measurement)
		}()
	}
}

// OnError handles a structured conversion error event.
func (s *Session) OnError(event *audio.ErrorEvent) {
	s.mu.Lock()
	s.conversionErrors++
	s.lastErrorMessage = event.Message
	s.mu.Unlock()

	if s.manager.metrics != nil {
		s.manager.metrics.RecordConversionFailure()
	}

	s.manager.logger.Error("Sample conversion failed",
		slog.String("session_id", s.ID),
		slog.String("message", event.Message),
		slog.String("stack", event.Stack),
	)
}

// processTranscription sends one emitted chunk to the speech-to-text API and
// records the outcome.
func (s *Session) processTranscription(chunk *audio.Chunk, measurement *meter.Measurement) {
	m := s.manager

	s.mu.Lock()
	s.chunksSent++
	s.mu.Unlock()

	audioData := chunk.PCMBytes()
	format := m.transcriptionClient.Format()
	if format == "wav" {
		encoded, err := audio.EncodeWAV(chunk.Samples, chunk.SampleRate)
		if err != nil {
			m.logger.Error("Failed to encode WAV payload",
				slog.String("chunk_id", chunk.ChunkID),
				slog.String("error", err.Error()),
			)
			return
		}
		audioData = encoded
	}

	request := &transcription.Request{
		SessionID: s.ID,
		ChunkID:   chunk.ChunkID,
		Index:     chunk.Index,

		CandidateID: s.CandidateID,
		InterviewID: s.InterviewID,
		DeviceLabel: s.DeviceLabel,

		SampleRate:  chunk.SampleRate,
		Duration:    chunk.Duration,
		StartSample: chunk.StartSample,
		EndSample:   chunk.EndSample(),
		AudioData:   audioData,
		Format:      format,

		RMS:     measurement.RMS,
		Peak:    measurement.Peak,
		Clipped: measurement.Clipped,

		RequestID: fmt.Sprintf("%s_%d", chunk.ChunkID, time.Now().UnixNano()),
		Timestamp: time.Now(),
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.transcriptionTimeout)
	defer cancel()

	if m.metrics != nil {
		m.metrics.RecordTranscriptionRequest()
	}

	startTime := time.Now()
	response, err := m.transcriptionClient.Transcribe(ctx, request)
	duration := time.Since(startTime)

	if err != nil {
		s.mu.Lock()
		s.chunksFailed++
		s.mu.Unlock()

		if m.metrics != nil {
			m.metrics.RecordTranscriptionFailure(duration.Seconds())
		}

		if dbErr := m.store.SetChunkStatus(m.ctx, chunk.ChunkID, store.ChunkStatusFailed); dbErr != nil {
			m.logger.Warn("Failed to mark chunk failed",
				slog.String("chunk_id", chunk.ChunkID),
				slog.String("error", dbErr.Error()),
			)
		}

		m.logger.Error("Transcription failed",
			slog.String("session_id", s.ID),
			slog.String("chunk_id", chunk.ChunkID),
			slog.String("error", err.Error()),
			slog.Float64("duration", duration.Seconds()),
		)
		return
	}

	s.mu.Lock()
	s.chunksSuccessful++
	s.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordTranscriptionSuccess(duration.Seconds())
	}

	if err := m.store.SetChunkTranscript(m.ctx, chunk.ChunkID, response.Text, float64(response.Confidence)); err != nil {
		m.logger.Warn("Failed to persist transcript",
			slog.String("chunk_id", chunk.ChunkID),
			slog.String("error", err.Error()),
		)
	}

	m.logger.Info("Chunk transcription completed",
		slog.String("session_id", s.ID),
		slog.String("chunk_id", chunk.ChunkID),
		slog.String("text", response.Text),
		slog.Float64("confidence", float64(response.Confidence)),
		slog.Float64("duration", duration.Seconds()),
	)
}

// GetSessionInfo returns a monitoring snapshot of the session.
func (s *Session) GetSessionInfo() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frameStats := s.frames.GetStats()
	convStats := s.converter.GetStats()

	return SessionInfo{
		SessionID:    s.ID,
		WireID:       s.WireID,
		CandidateID:  s.CandidateID,
		InterviewID:  s.InterviewID,
		DeviceLabel:  s.DeviceLabel,
		SampleRate:   s.SampleRate,
		StartTime:    s.StartTime,
		LastActivity: s.LastActivity,
		Duration:     time.Since(s.StartTime),

		FramesReceived: frameStats.TotalFrames,
		FramesLost:     frameStats.LostFrames,
		FrameLossRate:  frameStats.LossRate,

		SamplesConverted: convStats.SamplesIn,
		ChunksEmitted:    convStats.ChunksEmitted,
		PendingSamples:   convStats.Pending,
		ConversionErrors: convStats.FailedCalls,

		ChunksStored:     s.chunksStored,
		ChunksGated:      s.chunksGated,
		ChunksSent:       s.chunksSent,
		ChunksSuccessful: s.chunksSuccessful,
		ChunksFailed:     s.chunksFailed,
	}
}
