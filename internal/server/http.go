package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skillvee/audio-stream-service/internal/config"
	"github.com/skillvee/audio-stream-service/internal/metrics"
	"github.com/skillvee/audio-stream-service/internal/store"
	"github.com/skillvee/audio-stream-service/internal/stream"
)

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	sessionMgr *stream.Manager
	wsServer   *WSServer
	store      *store.Store
	metrics    *metrics.Metrics

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, sessionMgr *stream.Manager, wsServer *WSServer, st *store.Store, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		sessionMgr: sessionMgr,
		wsServer:   wsServer,
		store:      st,
		metrics:    m,
		startTime:  time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session monitoring endpoints
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Transcription statistics
	mux.HandleFunc("/stats/transcription", h.withMetrics("/stats/transcription", h.handleTranscriptionStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	ingestStats := h.wsServer.GetStatistics()
	mgrStats := h.sessionMgr.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "audio-stream-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"ingest": map[string]interface{}{
				"status":             "running",
				"active_connections": ingestStats.ActiveConnections,
				"frames_received":    ingestStats.FramesReceived,
				"frames_processed":   ingestStats.FramesProcessed,
				"parse_errors":       ingestStats.ParseErrors,
			},
			"session_manager": map[string]interface{}{
				"status":          "running",
				"active_sessions": mgrStats.ActiveSessions,
			},
			"transcription": map[string]interface{}{
				"status":          "running",
				"total_requests":  mgrStats.Transcription.TotalRequests,
				"success_rate":    mgrStats.Transcription.SuccessRate,
				"active_requests": mgrStats.Transcription.ActiveRequests,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSessions implements the /sessions endpoint. Active sessions come
// from the manager; finished ones are read back from the store.
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.sessionMgr.GetAllSessions()
	sessionInfos := make([]stream.SessionInfo, 0, len(sessions))

	for _, session := range sessions {
		sessionInfos = append(sessionInfos, session.GetSessionInfo())
	}

	response := map[string]interface{}{
		"active_count": len(sessionInfos),
		"timestamp":    time.Now().UTC(),
		"active":       sessionInfos,
	}

	if h.store != nil {
		persisted, err := h.store.ListSessions(r.Context(), 100)
		if err != nil {
			h.logger.Warn("Failed to list persisted sessions", slog.String("error", err.Error()))
		} else {
			response["persisted"] = persisted
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSessionDetail implements /sessions/{session_id} and
// /sessions/{session_id}/chunks.
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if rest == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	sessionID, sub, _ := strings.Cut(rest, "/")

	if sub == "chunks" {
		h.writeSessionChunks(w, r, sessionID)
		return
	}
	if sub != "" {
		http.NotFound(w, r)
		return
	}

	// Prefer the live session; fall back to the persisted record.
	if session, exists := h.sessionMgr.GetSessionByID(sessionID); exists {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(session.GetSessionInfo())
		return
	}

	if h.store != nil {
		rec, err := h.store.GetSession(r.Context(), sessionID)
		if err == nil {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(rec)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			h.logger.Error("Failed to load session", slog.String("error", err.Error()))
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}
	}

	http.Error(w, "Session not found", http.StatusNotFound)
}

// writeSessionChunks lists the persisted chunks of one session.
func (h *HTTPServer) writeSessionChunks(w http.ResponseWriter, r *http.Request, sessionID string) {
	if h.store == nil {
		http.Error(w, "Persistence disabled", http.StatusNotFound)
		return
	}

	chunks, err := h.store.ListChunks(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to list chunks",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"session_id":  sessionID,
		"chunk_count": len(chunks),
		"chunks":      chunks,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"port":                    h.config.Server.Port,
			"bind_address":            h.config.Server.BindAddress,
			"read_limit":              h.config.Server.ReadLimit,
			"max_concurrent_sessions": h.config.Server.MaxConcurrentSessions,
		},
		"audio": map[string]interface{}{
			"sample_rate":            h.config.Audio.SampleRate,
			"chunk_capacity":         h.config.Audio.ChunkCapacity,
			"max_sequence_gap":       h.config.Audio.MaxSequenceGap,
			"flush_partial_on_close": h.config.Audio.FlushPartialOnClose,
			"session_timeout":        h.config.Audio.SessionTimeout,
		},
		"meter": map[string]interface{}{
			"min_rms_level": h.config.Meter.MinRMSLevel,
			"smoothing":     h.config.Meter.Smoothing,
		},
		"transcription": map[string]interface{}{
			"endpoint":       h.config.Transcription.Endpoint,
			"timeout":        h.config.Transcription.Timeout,
			"max_retries":    h.config.Transcription.MaxRetries,
			"max_concurrent": h.config.Transcription.MaxConcurrent,
			"format":         h.config.Transcription.Format,
			// Note: API key is intentionally omitted for security
		},
		"archive": map[string]interface{}{
			"enabled": h.config.Archive.Enabled,
			"dir":     h.config.Archive.Dir,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ingestStats := h.wsServer.GetStatistics()
	mgrStats := h.sessionMgr.GetStats()
	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"ingest": map[string]interface{}{
			"connections_total":  ingestStats.ConnectionsTotal,
			"active_connections": ingestStats.ActiveConnections,
			"frames_received":    ingestStats.FramesReceived,
			"frames_processed":   ingestStats.FramesProcessed,
			"parse_errors":       ingestStats.ParseErrors,
		},
		"transcription": mgrStats.Transcription,
		"sessions": map[string]interface{}{
			"active_count": h.sessionMgr.GetActiveSessionCount(),
		},
	}

	if mgrStats.Archive != nil {
		stats["archive"] = mgrStats.Archive
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleTranscriptionStats implements the /stats/transcription endpoint
func (h *HTTPServer) handleTranscriptionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.sessionMgr.GetStats().Transcription

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Audio Stream Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                             "API documentation",
			"GET /health":                       "Service health check",
			"GET /sessions":                     "List active and recent sessions",
			"GET /sessions/{session_id}":        "Get detailed session information",
			"GET /sessions/{session_id}/chunks": "List persisted chunks of a session",
			"GET /config":                       "Get service configuration",
			"GET /stats":                        "Get service statistics",
			"GET /stats/transcription":          "Get transcription statistics",
			"GET /metrics":                      "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
