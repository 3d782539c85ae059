package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/skillvee/audio-stream-service/internal/archive"
	"github.com/skillvee/audio-stream-service/internal/audio"
	"github.com/skillvee/audio-stream-service/internal/meter"
	"github.com/skillvee/audio-stream-service/internal/metrics"
	"github.com/skillvee/audio-stream-service/internal/protocol"
	"github.com/skillvee/audio-stream-service/internal/store"
	"github.com/skillvee/audio-stream-service/internal/transcription"
)

// Manager manages all active capture sessions keyed by their wire identifier.
type Manager struct {
	sessions map[uint32]*Session
	mu       sync.RWMutex

	logger  *slog.Logger
	metrics *metrics.Metrics
	store   *store.Store

	config ManagerConfig

	archiver             *archive.Writer
	transcriptionClient  *transcription.Client
	transcriptionTimeout time.Duration

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// ManagerConfig contains configuration for the session manager.
type ManagerConfig struct {
	DefaultSampleRate   int
	ChunkCapacity       int
	MaxSequenceGap      uint32
	FlushPartialOnClose bool
	SessionTimeout      time.Duration
	MaxSessions         int

	MeterMinRMS    float32
	MeterSmoothing float32

	Transcription transcription.Config

	ArchiveEnabled bool
	ArchiveDir     string
}

// ManagerStats aggregates manager-level statistics for the admin API.
type ManagerStats struct {
	ActiveSessions int                       `json:"active_sessions"`
	Transcription  transcription.ClientStats `json:"transcription"`
	Archive        *archive.Stats            `json:"archive,omitempty"`
}

// NewManager creates a session manager and starts its expiry routine.
func NewManager(logger *slog.Logger, cfg ManagerConfig, st *store.Store, m *metrics.Metrics) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	var transcriptionClient *transcription.Client
	if cfg.Transcription.Endpoint != "" {
		if m != nil && cfg.Transcription.OnRetry == nil {
			cfg.Transcription.OnRetry = m.RecordTranscriptionRetry
		}
		client, err := transcription.NewClient(cfg.Transcription)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create transcription client: %w", err)
		}
		transcriptionClient = client
	}

	var archiver *archive.Writer
	if cfg.ArchiveEnabled {
		w, err := archive.New(cfg.ArchiveDir)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create archive writer: %w", err)
		}
		archiver = w
	}

	mgr := &Manager{
		sessions:             make(map[uint32]*Session),
		logger:               logger,
		metrics:              m,
		store:                st,
		config:               cfg,
		archiver:             archiver,
		transcriptionClient:  transcriptionClient,
		transcriptionTimeout: cfg.Transcription.Timeout,
		ctx:                  ctx,
		cancel:               cancel,
		cleanup:              make(chan struct{}),
	}

	if mgr.transcriptionTimeout <= 0 {
		mgr.transcriptionTimeout = 30 * time.Second
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// HandleHello creates a session for the wire ID, or refreshes an existing one.
func (m *Manager) HandleHello(wireID uint32, hello *protocol.HelloPayload) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.sessions[wireID]; exists {
		m.logger.Warn("Session already exists for wire ID, refreshing activity",
			slog.Uint64("wire_id", uint64(wireID)),
			slog.String("session_id", existing.ID),
		)

		existing.mu.Lock()
		existing.LastActivity = time.Now()
		existing.mu.Unlock()

		return existing, nil
	}

	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		return nil, fmt.Errorf("session limit reached (%d)", m.config.MaxSessions)
	}

	sampleRate := int(hello.SampleRate)
	if sampleRate == 0 {
		sampleRate = m.config.DefaultSampleRate
	}

	now := time.Now()
	session := &Session{
		ID:           uuid.New().String(),
		WireID:       wireID,
		CandidateID:  hello.GetCandidateID(),
		InterviewID:  hello.GetInterviewID(),
		DeviceLabel:  hello.GetDeviceLabel(),
		SampleRate:   sampleRate,
		StartTime:    now,
		LastActivity: now,
		frames:       audio.NewFrameBuffer(m.config.MaxSequenceGap),
		manager:      m,
	}

	chunkMeter, err := meter.New(m.config.MeterMinRMS, m.config.MeterSmoothing)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk meter: %w", err)
	}
	session.meter = chunkMeter

	converter, err := audio.NewConverter(audio.ConverterConfig{
		SessionID:  session.ID,
		SampleRate: sampleRate,
		Capacity:   m.config.ChunkCapacity,
	}, session)
	if err != nil {
		return nil, fmt.Errorf("failed to create converter: %w", err)
	}
	session.converter = converter

	if err := m.store.CreateSession(m.ctx, &store.SessionRecord{
		ID:          session.ID,
		WireID:      wireID,
		CandidateID: session.CandidateID,
		InterviewID: session.InterviewID,
		DeviceLabel: session.DeviceLabel,
		SampleRate:  sampleRate,
		StartedAt:   now,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	m.sessions[wireID] = session

	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
		m.metrics.SetActiveSessions(len(m.sessions))
	}

	m.logger.Info("Created capture session",
		slog.Uint64("wire_id", uint64(wireID)),
		slog.String("session_id", session.ID),
		slog.String("candidate_id", session.CandidateID),
		slog.String("interview_id", session.InterviewID),
		slog.String("device_label", session.DeviceLabel),
		slog.Int("sample_rate", sampleRate),
	)

	return session, nil
}

// HandleAudio routes one audio frame to its session.
func (m *Manager) HandleAudio(wireID uint32, payload *protocol.AudioPayload) error {
	session, exists := m.GetSession(wireID)
	if !exists {
		return fmt.Errorf("no session for wire ID %d", wireID)
	}

	return session.AddFrame(payload.Sequence, payload.Samples)
}

// HandleBye finalizes the session for the wire ID.
func (m *Manager) HandleBye(wireID uint32) error {
	if !m.RemoveSession(wireID) {
		return fmt.Errorf("no session for wire ID %d", wireID)
	}
	return nil
}

// GetSession retrieves an existing session by wire ID.
func (m *Manager) GetSession(wireID uint32) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[wireID]
	return session, exists
}

// GetSessionByID retrieves an active session by its persistent identifier.
func (m *Manager) GetSessionByID(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, session := range m.sessions {
		if session.ID == id {
			return session, true
		}
	}
	return nil, false
}

// GetActiveSessionCount returns the number of currently active sessions.
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions.
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}

	return sessions
}

// GetStats returns aggregated manager statistics.
func (m *Manager) GetStats() ManagerStats {
	stats := ManagerStats{
		ActiveSessions: m.GetActiveSessionCount(),
	}

	if m.transcriptionClient != nil {
		stats.Transcription = m.transcriptionClient.GetStats()
	}
	if m.archiver != nil {
		archiveStats := m.archiver.GetStats()
		stats.Archive = &archiveStats
	}

	return stats
}

// RemoveSession finalizes and removes a session.
func (m *Manager) RemoveSession(wireID uint32) bool {
	m.mu.Lock()
	session, exists := m.sessions[wireID]
	if exists {
		delete(m.sessions, wireID)
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	if !exists {
		return false
	}

	m.finalizeSession(session)

	if m.metrics != nil {
		m.metrics.SetActiveSessions(remaining)
	}

	return true
}

// finalizeSession flushes, waits for in-flight transcriptions, and persists
// the session end state.
func (m *Manager) finalizeSession(session *Session) {
	if m.config.FlushPartialOnClose {
		if chunk := session.converter.Flush(); chunk != nil {
			m.logger.Info("Flushed partial chunk on session end",
				slog.String("session_id", session.ID),
				slog.String("chunk_id", chunk.ChunkID),
				slog.Int("samples", len(chunk.Samples)),
			)
		}
	}

	session.transcriptionWG.Wait()

	frameStats := session.frames.GetStats()
	convStats := session.converter.GetStats()
	duration := time.Since(session.StartTime)

	if err := m.store.EndSession(m.ctx, session.ID, time.Now(),
		frameStats.TotalFrames, frameStats.LostFrames, convStats.ChunksEmitted); err != nil {
		m.logger.Error("Failed to persist session end",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
	}

	if m.metrics != nil {
		m.metrics.RecordSessionDestroyed(duration.Seconds())
		m.metrics.RecordFramesLost(int(frameStats.LostFrames))
	}

	m.logger.Info("Capture session finalized",
		slog.Uint64("wire_id", uint64(session.WireID)),
		slog.String("session_id", session.ID),
		slog.Duration("duration", duration),
		slog.Uint64("frames_received", uint64(frameStats.TotalFrames)),
		slog.Uint64("frames_lost", uint64(frameStats.LostFrames)),
		slog.Uint64("chunks_emitted", convStats.ChunksEmitted),
		slog.Uint64("conversion_errors", convStats.FailedCalls),
	)
}

// Stop gracefully stops the manager, finalizing all sessions concurrently.
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.mu.Lock()
	remaining := make([]*Session, 0, len(m.sessions))
	for wireID, session := range m.sessions {
		remaining = append(remaining, session)
		delete(m.sessions, wireID)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, session := range remaining {
		g.Go(func() error {
			m.finalizeSession(session)
			return nil
		})
	}
	_ = g.Wait()

	if m.transcriptionClient != nil {
		if err := m.transcriptionClient.Close(); err != nil {
			m.logger.Warn("Error closing transcription client", slog.String("error", err.Error()))
		}
	}

	m.cancel()
	<-m.cleanup

	if m.metrics != nil {
		m.metrics.SetActiveSessions(0)
	}

	if m.transcriptionClient != nil {
		stats := m.transcriptionClient.GetStats()
		m.logger.Info("Session manager stopped",
			slog.Int("finalized_sessions", len(remaining)),
			slog.Uint64("total_transcription_requests", stats.TotalRequests),
			slog.Uint64("successful_transcriptions", stats.SuccessRequests),
			slog.Float64("transcription_success_rate", stats.SuccessRate),
		)
	} else {
		m.logger.Info("Session manager stopped",
			slog.Int("finalized_sessions", len(remaining)),
		)
	}
}

// startCleanupRoutine runs in a separate goroutine to expire idle sessions.
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("timeout", m.config.SessionTimeout),
		slog.Duration("check_interval", 30*time.Second),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions finalizes sessions idle past the timeout.
func (m *Manager) cleanupExpiredSessions() {
	if m.config.SessionTimeout <= 0 {
		return
	}

	now := time.Now()
	expired := make([]uint32, 0)

	m.mu.RLock()
	for wireID, session := range m.sessions {
		session.mu.RLock()
		lastActivity := session.LastActivity
		session.mu.RUnlock()

		if now.Sub(lastActivity) > m.config.SessionTimeout {
			expired = append(expired, wireID)
		}
	}
	m.mu.RUnlock()

	if len(expired) > 0 {
		m.logger.Info("Cleaning up expired sessions",
			slog.Int("expired_count", len(expired)),
		)

		for _, wireID := range expired {
			m.RemoveSession(wireID)
		}
	}
}
