package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/skillvee/audio-stream-service/internal/audio"
)

// Writer archives emitted chunks as 16-bit mono WAV files, one file per
// chunk, grouped in per-session directories.
type Writer struct {
	dir string

	// Statistics
	filesWritten uint64
	writeErrors  uint64

	mu sync.Mutex
}

// Stats represents archive writer statistics.
type Stats struct {
	Dir          string `json:"dir"`
	FilesWritten uint64 `json:"files_written"`
	WriteErrors  uint64 `json:"write_errors"`
}

// New creates an archive writer rooted at dir.
func New(dir string) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive dir cannot be empty")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir %s: %w", dir, err)
	}

	return &Writer{dir: dir}, nil
}

// WriteChunk writes one chunk to disk and returns the file path.
func (w *Writer) WriteChunk(chunk *audio.Chunk) (string, error) {
	sessionDir := filepath.Join(w.dir, chunk.SessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		w.recordError()
		return "", fmt.Errorf("create session dir %s: %w", sessionDir, err)
	}

	path := filepath.Join(sessionDir, fmt.Sprintf("%06d_%s.wav", chunk.Index, chunk.ChunkID))

	f, err := os.Create(path)
	if err != nil {
		w.recordError()
		return "", fmt.Errorf("create archive file %s: %w", path, err)
	}

	enc := wav.NewEncoder(f, chunk.SampleRate, 16, 1, 1)

	data := make([]int, len(chunk.Samples))
	for i, s := range chunk.Samples {
		data[i] = int(s)
	}

	buf := &goaudio.IntBuffer{
		Data: data,
		Format: &goaudio.Format{
			NumChannels: 1,
			SampleRate:  chunk.SampleRate,
		},
		SourceBitDepth: 16,
	}

	if err := enc.Write(buf); err != nil {
		enc.Close()
		f.Close()
		w.recordError()
		return "", fmt.Errorf("write archive file %s: %w", path, err)
	}

	if err := enc.Close(); err != nil {
		f.Close()
		w.recordError()
		return "", fmt.Errorf("finalize archive file %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		w.recordError()
		return "", fmt.Errorf("close archive file %s: %w", path, err)
	}

	w.mu.Lock()
	w.filesWritten++
	w.mu.Unlock()

	return path, nil
}

// GetStats returns current archive statistics.
func (w *Writer) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Stats{
		Dir:          w.dir,
		FilesWritten: w.filesWritten,
		WriteErrors:  w.writeErrors,
	}
}

func (w *Writer) recordError() {
	w.mu.Lock()
	w.writeErrors++
	w.mu.Unlock()
}
