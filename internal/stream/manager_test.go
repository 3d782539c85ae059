package stream

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/skillvee/audio-stream-service/internal/protocol"
	"github.com/skillvee/audio-stream-service/internal/store"
)

func newTestManager(t *testing.T, cfg ManagerConfig) (*Manager, *store.Store) {
	t.Helper()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr, err := NewManager(logger, cfg, st, nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(mgr.Stop)

	return mgr, st
}

func testManagerConfig() ManagerConfig {
	return ManagerConfig{
		DefaultSampleRate: 48000,
		ChunkCapacity:     8,
		MaxSequenceGap:    20,
		SessionTimeout:    5 * time.Minute,
		MaxSessions:       10,
		MeterSmoothing:    0.3,
	}
}

func makeHello(candidateID, interviewID, deviceLabel string, sampleRate uint32) *protocol.HelloPayload {
	hello := &protocol.HelloPayload{SampleRate: sampleRate}
	copy(hello.CandidateID[:], candidateID)
	copy(hello.InterviewID[:], interviewID)
	copy(hello.DeviceLabel[:], deviceLabel)
	return hello
}

func TestHandleHelloCreatesSession(t *testing.T) {
	mgr, st := newTestManager(t, testManagerConfig())

	session, err := mgr.HandleHello(1, makeHello("candidate-1", "interview-1", "Test Mic", 16000))
	if err != nil {
		t.Fatalf("Failed to handle hello: %v", err)
	}

	if session.WireID != 1 {
		t.Errorf("Expected wire ID 1, got %d", session.WireID)
	}
	if session.CandidateID != "candidate-1" {
		t.Errorf("Expected candidate-1, got %q", session.CandidateID)
	}
	if session.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", session.SampleRate)
	}
	if mgr.GetActiveSessionCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", mgr.GetActiveSessionCount())
	}

	// The session row lands in the store immediately.
	rec, err := st.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Failed to get persisted session: %v", err)
	}
	if rec.DeviceLabel != "Test Mic" {
		t.Errorf("Expected device label 'Test Mic', got %q", rec.DeviceLabel)
	}
}

func TestHandleHelloDefaultSampleRate(t *testing.T) {
	mgr, _ := newTestManager(t, testManagerConfig())

	session, err := mgr.HandleHello(1, makeHello("c", "i", "d", 0))
	if err != nil {
		t.Fatalf("Failed to handle hello: %v", err)
	}
	if session.SampleRate != 48000 {
		t.Errorf("Expected default sample rate 48000, got %d", session.SampleRate)
	}
}

func TestHandleHelloRefreshesExisting(t *testing.T) {
	mgr, _ := newTestManager(t, testManagerConfig())

	first, err := mgr.HandleHello(1, makeHello("c", "i", "d", 16000))
	if err != nil {
		t.Fatalf("Failed first hello: %v", err)
	}

	second, err := mgr.HandleHello(1, makeHello("c", "i", "d", 16000))
	if err != nil {
		t.Fatalf("Failed second hello: %v", err)
	}

	if first != second {
		t.Error("Expected repeated hello to return the existing session")
	}
	if mgr.GetActiveSessionCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", mgr.GetActiveSessionCount())
	}
}

func TestHandleHelloSessionLimit(t *testing.T) {
	cfg := testManagerConfig()
	cfg.MaxSessions = 2
	mgr, _ := newTestManager(t, cfg)

	for i := uint32(1); i <= 2; i++ {
		if _, err := mgr.HandleHello(i, makeHello("c", "i", "d", 16000)); err != nil {
			t.Fatalf("Failed hello %d: %v", i, err)
		}
	}

	if _, err := mgr.HandleHello(3, makeHello("c", "i", "d", 16000)); err == nil {
		t.Error("Expected session limit error, got nil")
	}
}

func TestHandleAudioUnknownSession(t *testing.T) {
	mgr, _ := newTestManager(t, testManagerConfig())

	err := mgr.HandleAudio(99, &protocol.AudioPayload{Sequence: 1, Samples: []float32{0.1}})
	if err == nil {
		t.Error("Expected error for unknown session, got nil")
	}
}

func TestAudioFlowsToStoredChunks(t *testing.T) {
	mgr, st := newTestManager(t, testManagerConfig())

	session, err := mgr.HandleHello(1, makeHello("candidate-1", "interview-1", "d", 16000))
	if err != nil {
		t.Fatalf("Failed to handle hello: %v", err)
	}

	// Two frames of 8 samples fill two chunks at capacity 8.
	samples := make([]float32, 8)
	for i := range samples {
		samples[i] = 0.25
	}
	for seq := uint32(1); seq <= 2; seq++ {
		if err := mgr.HandleAudio(1, &protocol.AudioPayload{Sequence: seq, Samples: samples}); err != nil {
			t.Fatalf("Failed to handle audio frame %d: %v", seq, err)
		}
	}

	info := session.GetSessionInfo()
	if info.ChunksEmitted != 2 {
		t.Errorf("Expected 2 chunks emitted, got %d", info.ChunksEmitted)
	}
	if info.SamplesConverted != 16 {
		t.Errorf("Expected 16 samples converted, got %d", info.SamplesConverted)
	}

	chunks, err := st.ListChunks(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Failed to list chunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 stored chunks, got %d", len(chunks))
	}
	if chunks[0].Index != 0 || chunks[1].Index != 1 {
		t.Errorf("Expected chunk indexes 0,1, got %d,%d", chunks[0].Index, chunks[1].Index)
	}
	if chunks[0].EndSample != 8 {
		t.Errorf("Expected first chunk to end at sample 8, got %d", chunks[0].EndSample)
	}
}

func TestPartialChunkNotStoredWithoutFlush(t *testing.T) {
	mgr, st := newTestManager(t, testManagerConfig())

	session, err := mgr.HandleHello(1, makeHello("c", "i", "d", 16000))
	if err != nil {
		t.Fatalf("Failed to handle hello: %v", err)
	}

	// 3 samples stay pending at capacity 8.
	if err := mgr.HandleAudio(1, &protocol.AudioPayload{Sequence: 1, Samples: []float32{0.1, 0.2, 0.3}}); err != nil {
		t.Fatalf("Failed to handle audio: %v", err)
	}

	sessionID := session.ID
	if !mgr.RemoveSession(1) {
		t.Fatal("Expected RemoveSession to find the session")
	}

	chunks, err := st.ListChunks(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Failed to list chunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("Expected no chunks without flush, got %d", len(chunks))
	}
}

func TestPartialChunkFlushedOnClose(t *testing.T) {
	cfg := testManagerConfig()
	cfg.FlushPartialOnClose = true
	mgr, st := newTestManager(t, cfg)

	session, err := mgr.HandleHello(1, makeHello("c", "i", "d", 16000))
	if err != nil {
		t.Fatalf("Failed to handle hello: %v", err)
	}

	if err := mgr.HandleAudio(1, &protocol.AudioPayload{Sequence: 1, Samples: []float32{0.1, 0.2, 0.3}}); err != nil {
		t.Fatalf("Failed to handle audio: %v", err)
	}

	sessionID := session.ID
	mgr.RemoveSession(1)

	chunks, err := st.ListChunks(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Failed to list chunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 flushed chunk, got %d", len(chunks))
	}
	if chunks[0].EndSample != 3 {
		t.Errorf("Expected flushed chunk to end at sample 3, got %d", chunks[0].EndSample)
	}
}

func TestHandleByeFinalizesSession(t *testing.T) {
	mgr, st := newTestManager(t, testManagerConfig())

	session, err := mgr.HandleHello(1, makeHello("c", "i", "d", 16000))
	if err != nil {
		t.Fatalf("Failed to handle hello: %v", err)
	}
	sessionID := session.ID

	if err := mgr.HandleBye(1); err != nil {
		t.Fatalf("Failed to handle bye: %v", err)
	}

	if mgr.GetActiveSessionCount() != 0 {
		t.Errorf("Expected 0 active sessions, got %d", mgr.GetActiveSessionCount())
	}

	rec, err := st.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Failed to get session record: %v", err)
	}
	if rec.EndedAt == nil {
		t.Error("Expected finalized session to have an end time")
	}
}

func TestGetSessionByID(t *testing.T) {
	mgr, _ := newTestManager(t, testManagerConfig())

	session, err := mgr.HandleHello(7, makeHello("c", "i", "d", 16000))
	if err != nil {
		t.Fatalf("Failed to handle hello: %v", err)
	}

	found, ok := mgr.GetSessionByID(session.ID)
	if !ok {
		t.Fatal("Expected to find session by ID")
	}
	if found.WireID != 7 {
		t.Errorf("Expected wire ID 7, got %d", found.WireID)
	}

	if _, ok := mgr.GetSessionByID("missing"); ok {
		t.Error("Expected lookup of unknown ID to fail")
	}
}

func TestStopFinalizesAllSessions(t *testing.T) {
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := NewManager(logger, testManagerConfig(), st, nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	var ids []string
	for i := uint32(1); i <= 3; i++ {
		session, err := mgr.HandleHello(i, makeHello("c", "i", "d", 16000))
		if err != nil {
			t.Fatalf("Failed hello %d: %v", i, err)
		}
		ids = append(ids, session.ID)
	}

	mgr.Stop()

	if mgr.GetActiveSessionCount() != 0 {
		t.Errorf("Expected 0 active sessions after stop, got %d", mgr.GetActiveSessionCount())
	}
	for _, id := range ids {
		rec, err := st.GetSession(context.Background(), id)
		if err != nil {
			t.Fatalf("Failed to get session %s: %v", id, err)
		}
		if rec.EndedAt == nil {
			t.Errorf("Expected session %s to be finalized", id)
		}
	}
}

func TestGetStats(t *testing.T) {
	mgr, _ := newTestManager(t, testManagerConfig())

	if _, err := mgr.HandleHello(1, makeHello("c", "i", "d", 16000)); err != nil {
		t.Fatalf("Failed to handle hello: %v", err)
	}

	stats := mgr.GetStats()
	if stats.ActiveSessions != 1 {
		t.Errorf("Expected 1 active session in stats, got %d", stats.ActiveSessions)
	}
	if stats.Archive != nil {
		t.Error("Expected no archive stats when archiving is disabled")
	}
}

func TestSessionInfoDuringIngest(t *testing.T) {
	mgr, _ := newTestManager(t, testManagerConfig())

	session, err := mgr.HandleHello(1, makeHello("c", "i", "d", 16000))
	if err != nil {
		t.Fatalf("Failed to handle hello: %v", err)
	}

	// Drive ingest against concurrent monitoring queries; the pipeline
	// snapshots stats on both sides, so neither may block the other.
	const frames = 1000
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		samples := make([]float32, 8)
		for seq := uint32(1); seq <= frames; seq++ {
			if err := mgr.HandleAudio(1, &protocol.AudioPayload{Sequence: seq, Samples: samples}); err != nil {
				t.Errorf("Failed to handle audio frame %d: %v", seq, err)
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < frames; i++ {
			session.GetSessionInfo()
			mgr.GetAllSessions()
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("ingest and session info queries deadlocked")
	}

	info := session.GetSessionInfo()
	if info.ChunksEmitted != frames {
		t.Errorf("Expected %d chunks emitted, got %d", frames, info.ChunksEmitted)
	}
	if info.SamplesConverted != frames*8 {
		t.Errorf("Expected %d samples converted, got %d", frames*8, info.SamplesConverted)
	}
}
