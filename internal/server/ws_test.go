package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skillvee/audio-stream-service/internal/config"
	"github.com/skillvee/audio-stream-service/internal/protocol"
	"github.com/skillvee/audio-stream-service/internal/store"
	"github.com/skillvee/audio-stream-service/internal/stream"
)

func newTestWSServer(t *testing.T) *WSServer {
	t.Helper()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr, err := stream.NewManager(logger, stream.ManagerConfig{
		DefaultSampleRate: 48000,
		ChunkCapacity:     8,
		MaxSequenceGap:    20,
		SessionTimeout:    time.Minute,
		MaxSessions:       10,
		MeterSmoothing:    0.3,
	}, st, nil)
	if err != nil {
		t.Fatalf("Failed to create session manager: %v", err)
	}
	t.Cleanup(mgr.Stop)

	cfg := &config.ServerConfig{
		Port:                  8090,
		BindAddress:           "127.0.0.1",
		ReadLimit:             1 << 20,
		MaxConcurrentSessions: 10,
	}

	return NewWSServer(cfg, logger, mgr, nil)
}

func dialIngest(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial ingest endpoint: %v", err)
	}

	return conn
}

func TestIngestProcessesFrames(t *testing.T) {
	s := newTestWSServer(t)

	srv := httptest.NewServer(http.HandlerFunc(s.handleIngest))
	defer srv.Close()

	conn := dialIngest(t, srv)
	defer conn.Close()

	hello := protocol.EncodeHelloFrame(1, "candidate-1", "interview-1", "Test Mic", 16000, 0)
	if err := conn.WriteMessage(websocket.BinaryMessage, hello); err != nil {
		t.Fatalf("Failed to send hello frame: %v", err)
	}

	audio := protocol.EncodeAudioFrame(1, 1, make([]float32, 8))
	if err := conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		t.Fatalf("Failed to send audio frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.GetStatistics().FramesProcessed < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Frames not processed, stats: %+v", s.GetStatistics())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if s.sessionMgr.GetActiveSessionCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", s.sessionMgr.GetActiveSessionCount())
	}
}

func TestStopClosesOpenConnections(t *testing.T) {
	s := newTestWSServer(t)

	srv := httptest.NewServer(http.HandlerFunc(s.handleIngest))
	defer srv.Close()

	conn := dialIngest(t, srv)
	defer conn.Close()

	hello := protocol.EncodeHelloFrame(1, "candidate-1", "interview-1", "Test Mic", 16000, 0)
	if err := conn.WriteMessage(websocket.BinaryMessage, hello); err != nil {
		t.Fatalf("Failed to send hello frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.GetStatistics().ActiveConnections == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Connection never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Stop must not wait for the client to disconnect on its own.
	done := make(chan error, 1)
	go func() {
		done <- s.Stop()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked while a capture client was connected")
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected read error after server stop")
	}

	// The connection's sessions were finalized on the forced disconnect.
	if s.sessionMgr.GetActiveSessionCount() != 0 {
		t.Errorf("Expected 0 active sessions after stop, got %d", s.sessionMgr.GetActiveSessionCount())
	}
}
