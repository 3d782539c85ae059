package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skillvee/audio-stream-service/internal/config"
	"github.com/skillvee/audio-stream-service/internal/metrics"
	"github.com/skillvee/audio-stream-service/internal/protocol"
	"github.com/skillvee/audio-stream-service/internal/stream"
)

// WSServer accepts WebSocket connections from capture clients and routes
// binary protocol frames to the session manager.
type WSServer struct {
	config     *config.ServerConfig
	logger     *slog.Logger
	sessionMgr *stream.Manager
	metrics    *metrics.Metrics

	upgrader   websocket.Upgrader
	httpServer *http.Server

	// Open connections, closed on Stop so read loops unblock. Shutdown on
	// the HTTP server alone never touches hijacked connections.
	conns map[*websocket.Conn]struct{}

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics
	connectionsTotal  uint64
	activeConnections uint64
	framesReceived    uint64
	framesProcessed   uint64
	parseErrors       uint64
	mu                sync.RWMutex
}

// NewWSServer creates a new WebSocket ingest server.
func NewWSServer(cfg *config.ServerConfig, logger *slog.Logger, sessionMgr *stream.Manager, m *metrics.Metrics) *WSServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &WSServer{
		config:     cfg,
		logger:     logger,
		sessionMgr: sessionMgr,
		metrics:    m,
		conns:      make(map[*websocket.Conn]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Capture pages are served from the interview app; origin
				// enforcement happens at the ingress proxy.
				return true
			},
		},
	}
}

// Start begins listening for WebSocket connections.
func (s *WSServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", s.handleIngest)

	addr := fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  0, // WebSocket connections are long-lived
		WriteTimeout: 0,
	}

	s.logger.Info("WebSocket ingest server starting",
		slog.String("address", addr),
		slog.Int64("read_limit", s.config.ReadLimit),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the ingest server.
func (s *WSServer) Stop() error {
	s.logger.Info("Stopping WebSocket ingest server...")

	s.cancel()

	// Close open connections so blocked ReadMessage calls return; hijacked
	// connections are invisible to http.Server.Shutdown.
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Error shutting down WebSocket server", slog.String("error", err.Error()))
		}
	}

	s.wg.Wait()

	s.mu.RLock()
	framesReceived := s.framesReceived
	framesProcessed := s.framesProcessed
	parseErrors := s.parseErrors
	connectionsTotal := s.connectionsTotal
	s.mu.RUnlock()

	s.logger.Info("WebSocket ingest server stopped",
		slog.Uint64("connections_total", connectionsTotal),
		slog.Uint64("frames_received", framesReceived),
		slog.Uint64("frames_processed", framesProcessed),
		slog.Uint64("parse_errors", parseErrors),
	)

	return nil
}

// handleIngest upgrades the connection and runs the frame read loop.
func (s *WSServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	// Registered before the other defers so Stop's wait covers disconnect
	// finalization too.
	s.wg.Add(1)
	defer s.wg.Done()
	defer conn.Close()

	if s.config.ReadLimit > 0 {
		conn.SetReadLimit(s.config.ReadLimit)
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.conns[conn] = struct{}{}
	s.connectionsTotal++
	s.activeConnections++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.activeConnections--
		s.mu.Unlock()
	}()

	s.logger.Info("Capture client connected",
		slog.String("remote_addr", r.RemoteAddr),
	)

	// Wire IDs announced on this connection; finalized on disconnect if the
	// client never sent Bye.
	ownedSessions := make(map[uint32]struct{})
	defer func() {
		for wireID := range ownedSessions {
			if s.sessionMgr.HandleBye(wireID) == nil {
				s.logger.Info("Finalized session on disconnect",
					slog.Uint64("wire_id", uint64(wireID)),
					slog.String("remote_addr", r.RemoteAddr),
				)
			}
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("WebSocket read error",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		if messageType != websocket.BinaryMessage {
			s.logger.Debug("Ignoring non-binary message",
				slog.String("remote_addr", r.RemoteAddr),
				slog.Int("message_type", messageType),
			)
			continue
		}

		s.handleFrame(data, r.RemoteAddr, ownedSessions)
	}
}

// handleFrame parses one binary frame and dispatches it to the manager.
func (s *WSServer) handleFrame(data []byte, remoteAddr string, ownedSessions map[uint32]struct{}) {
	s.mu.Lock()
	s.framesReceived++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordFrameReceived()
	}

	frame, err := protocol.ParseFrame(data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.RecordParseError()
		}

		s.logger.Error("Failed to parse frame",
			slog.String("remote_addr", remoteAddr),
			slog.Int("frame_size", len(data)),
			slog.String("error", err.Error()),
		)
		return
	}

	switch frame.Header.FrameType {
	case protocol.FrameTypeHello:
		session, err := s.sessionMgr.HandleHello(frame.Header.SessionID, frame.Hello)
		if err != nil {
			s.logger.Error("Failed to create session",
				slog.Uint64("wire_id", uint64(frame.Header.SessionID)),
				slog.String("error", err.Error()),
			)
			return
		}
		ownedSessions[frame.Header.SessionID] = struct{}{}

		s.logger.Info("Hello frame processed",
			slog.Uint64("wire_id", uint64(frame.Header.SessionID)),
			slog.String("session_id", session.ID),
			slog.String("candidate_id", session.CandidateID),
		)

	case protocol.FrameTypeAudio:
		if err := s.sessionMgr.HandleAudio(frame.Header.SessionID, frame.Audio); err != nil {
			if s.metrics != nil {
				s.metrics.RecordFrameDropped()
			}
			s.logger.Debug("Audio frame dropped",
				slog.Uint64("wire_id", uint64(frame.Header.SessionID)),
				slog.Uint64("sequence", uint64(frame.Audio.Sequence)),
				slog.String("error", err.Error()),
			)
			return
		}

	case protocol.FrameTypeBye:
		if err := s.sessionMgr.HandleBye(frame.Header.SessionID); err != nil {
			s.logger.Warn("Bye for unknown session",
				slog.Uint64("wire_id", uint64(frame.Header.SessionID)),
			)
			return
		}
		delete(ownedSessions, frame.Header.SessionID)

	default:
		s.logger.Error("Unknown frame type",
			slog.Uint64("wire_id", uint64(frame.Header.SessionID)),
			slog.Int("frame_type", int(frame.Header.FrameType)),
		)
		return
	}

	s.mu.Lock()
	s.framesProcessed++
	s.mu.Unlock()
}

// GetStatistics returns current ingest server statistics.
func (s *WSServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		ConnectionsTotal:  s.connectionsTotal,
		ActiveConnections: s.activeConnections,
		FramesReceived:    s.framesReceived,
		FramesProcessed:   s.framesProcessed,
		ParseErrors:       s.parseErrors,
		ActiveSessions:    uint64(s.sessionMgr.GetActiveSessionCount()),
	}
}

// ServerStatistics represents ingest server performance metrics.
type ServerStatistics struct {
	ConnectionsTotal  uint64 `json:"connections_total"`
	ActiveConnections uint64 `json:"active_connections"`
	FramesReceived    uint64 `json:"frames_received"`
	FramesProcessed   uint64 `json:"frames_processed"`
	ParseErrors       uint64 `json:"parse_errors"`
	ActiveSessions    uint64 `json:"active_sessions"`
}
