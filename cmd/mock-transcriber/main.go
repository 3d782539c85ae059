// Command mock-transcriber is a stand-in speech-to-text endpoint for local
// development. It accepts the multipart upload the service sends, logs the
// request, and returns a canned transcript.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

type transcriptionResponse struct {
	ChunkID     string    `json:"chunk_id"`
	SessionID   string    `json:"session_id"`
	Text        string    `json:"text"`
	Confidence  float32   `json:"confidence"`
	Language    string    `json:"language"`
	Duration    float64   `json:"duration"`
	ProcessedAt time.Time `json:"processed_at"`
}

func transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse multipart form
	err := r.ParseMultipartForm(10 << 20) // 10 MB
	if err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	chunkID := r.FormValue("chunk_id")
	sessionID := r.FormValue("session_id")
	index := r.FormValue("index")
	duration := r.FormValue("duration")

	candidateID := r.FormValue("candidate_id")
	interviewID := r.FormValue("interview_id")
	deviceLabel := r.FormValue("device_label")

	sampleRate := r.FormValue("sample_rate")
	startSample := r.FormValue("start_sample")
	endSample := r.FormValue("end_sample")
	rms := r.FormValue("rms")
	peak := r.FormValue("peak")
	clipped := r.FormValue("clipped")

	requestID := r.FormValue("request_id")
	language := r.FormValue("language")

	// Get audio file
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	log.Printf("transcription request received:")
	log.Printf("  request_id=%s chunk_id=%s session_id=%s index=%s", requestID, chunkID, sessionID, index)
	log.Printf("  candidate_id=%s interview_id=%s device_label=%q", candidateID, interviewID, deviceLabel)
	log.Printf("  sample_rate=%s duration=%ss samples=[%s,%s)", sampleRate, duration, startSample, endSample)
	log.Printf("  rms=%s peak=%s clipped=%s", rms, peak, clipped)
	log.Printf("  file=%s size=%d content_type=%s language=%s",
		header.Filename, len(audioData), header.Header.Get("Content-Type"), language)

	// Simulate processing time
	time.Sleep(200 * time.Millisecond)

	if language == "" {
		language = "en"
	}

	response := transcriptionResponse{
		ChunkID:     chunkID,
		SessionID:   sessionID,
		Text:        fmt.Sprintf("Mock transcript for chunk %s of session %s", index, sessionID),
		Confidence:  0.95,
		Language:    language,
		Duration:    parseFloat64(duration),
		ProcessedAt: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	log.Printf("transcription response sent: %q", response.Text)
}

func parseFloat64(s string) float64 {
	var val float64
	fmt.Sscanf(s, "%f", &val)
	return val
}

func main() {
	port := flag.Int("port", 9000, "Port to listen on")
	flag.Parse()

	http.HandleFunc("/transcribe", transcribeHandler)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock transcription server starting on %s", addr)
	log.Printf("Endpoint: http://localhost%s/transcribe", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
