package protocol

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestParseHeader(t *testing.T) {
	data := []byte{
		0x02,       // FrameType: Audio
		0x00, 0x14, // FrameLen: 20
		0x00, 0x00, 0x30, 0x39, // SessionID: 12345
		0x00, // Flags
	}

	header, err := ParseHeader(data)
	if err != nil {
		t.Fatalf("Failed to parse header: %v", err)
	}

	if header.FrameType != FrameTypeAudio {
		t.Errorf("Expected frame type 0x%02x, got 0x%02x", FrameTypeAudio, header.FrameType)
	}
	if header.FrameLen != 20 {
		t.Errorf("Expected frame length 20, got %d", header.FrameLen)
	}
	if header.SessionID != 12345 {
		t.Errorf("Expected session ID 12345, got %d", header.SessionID)
	}
	if header.Flags != 0 {
		t.Errorf("Expected flags 0, got 0x%02x", header.Flags)
	}
}

func TestParseHeaderTooShort(t *testing.T) {
	_, err := ParseHeader([]byte{0x01, 0x02, 0x03})
	if err == nil {
		t.Error("Expected error for short header")
	}
}

func TestHelloFrameRoundTrip(t *testing.T) {
	data := EncodeHelloFrame(42, "candidate-7", "interview-12", "MacBook Pro Microphone", 48000, 1700000000)

	frame, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("Failed to parse hello frame: %v", err)
	}

	if frame.Header.FrameType != FrameTypeHello {
		t.Errorf("Expected hello frame type, got 0x%02x", frame.Header.FrameType)
	}
	if frame.Header.SessionID != 42 {
		t.Errorf("Expected session ID 42, got %d", frame.Header.SessionID)
	}
	if frame.Hello == nil {
		t.Fatal("Expected hello payload to be set")
	}
	if frame.Audio != nil {
		t.Error("Expected audio payload to be nil for hello frame")
	}

	if got := frame.Hello.GetCandidateID(); got != "candidate-7" {
		t.Errorf("Expected candidate ID 'candidate-7', got %q", got)
	}
	if got := frame.Hello.GetInterviewID(); got != "interview-12" {
		t.Errorf("Expected interview ID 'interview-12', got %q", got)
	}
	if got := frame.Hello.GetDeviceLabel(); got != "MacBook Pro Microphone" {
		t.Errorf("Expected device label 'MacBook Pro Microphone', got %q", got)
	}
	if frame.Hello.SampleRate != 48000 {
		t.Errorf("Expected sample rate 48000, got %d", frame.Hello.SampleRate)
	}
	if frame.Hello.Timestamp != 1700000000 {
		t.Errorf("Expected timestamp 1700000000, got %d", frame.Hello.Timestamp)
	}
}

func TestAudioFrameRoundTrip(t *testing.T) {
	samples := []float32{0.5, -0.5, 1.0, -1.0, 0.1}
	data := EncodeAudioFrame(7, 100, samples)

	frame, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("Failed to parse audio frame: %v", err)
	}

	if frame.Header.FrameType != FrameTypeAudio {
		t.Errorf("Expected audio frame type, got 0x%02x", frame.Header.FrameType)
	}
	if frame.Audio == nil {
		t.Fatal("Expected audio payload to be set")
	}
	if frame.Audio.Sequence != 100 {
		t.Errorf("Expected sequence 100, got %d", frame.Audio.Sequence)
	}
	if len(frame.Audio.Samples) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(frame.Audio.Samples))
	}
	for i, s := range samples {
		if frame.Audio.Samples[i] != s {
			t.Errorf("Sample %d: expected %f, got %f", i, s, frame.Audio.Samples[i])
		}
	}
}

func TestAudioFrameEmptySamples(t *testing.T) {
	data := EncodeAudioFrame(7, 1, nil)

	frame, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("Failed to parse empty audio frame: %v", err)
	}

	if frame.Audio.Sequence != 1 {
		t.Errorf("Expected sequence 1, got %d", frame.Audio.Sequence)
	}
	if len(frame.Audio.Samples) != 0 {
		t.Errorf("Expected no samples, got %d", len(frame.Audio.Samples))
	}
}

func TestByeFrameRoundTrip(t *testing.T) {
	data := EncodeByeFrame(99)

	frame, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("Failed to parse bye frame: %v", err)
	}

	if frame.Header.FrameType != FrameTypeBye {
		t.Errorf("Expected bye frame type, got 0x%02x", frame.Header.FrameType)
	}
	if frame.Header.SessionID != 99 {
		t.Errorf("Expected session ID 99, got %d", frame.Header.SessionID)
	}
	if frame.Hello != nil || frame.Audio != nil {
		t.Error("Expected no payload for bye frame")
	}
}

func TestParseFrameLengthMismatch(t *testing.T) {
	data := EncodeAudioFrame(1, 1, []float32{0.5})

	// Truncate the frame so the header length no longer matches.
	_, err := ParseFrame(data[:len(data)-2])
	if err == nil {
		t.Error("Expected error for truncated frame")
	}
}

func TestParseFrameUnknownType(t *testing.T) {
	data := EncodeByeFrame(1)
	data[0] = 0x7F

	_, err := ParseFrame(data)
	if err == nil {
		t.Error("Expected error for unknown frame type")
	}
}

func TestParseFrameNonZeroFlags(t *testing.T) {
	data := EncodeByeFrame(1)
	data[7] = 0x01

	_, err := ParseFrame(data)
	if err == nil {
		t.Error("Expected error for non-zero reserved flags")
	}
}

func TestValidateHeaderPayloadSizes(t *testing.T) {
	// Hello frame with wrong payload size
	err := ValidateHeader(&Header{FrameType: FrameTypeHello, FrameLen: HeaderSize + 10})
	if err == nil {
		t.Error("Expected error for wrong hello payload size")
	}

	// Bye frame with a payload
	err = ValidateHeader(&Header{FrameType: FrameTypeBye, FrameLen: HeaderSize + 1})
	if err == nil {
		t.Error("Expected error for bye frame with payload")
	}

	// Audio frame missing the sequence number
	err = ValidateHeader(&Header{FrameType: FrameTypeAudio, FrameLen: HeaderSize + 2})
	if err == nil {
		t.Error("Expected error for audio frame without sequence")
	}
}

func TestParseAudioPayloadUnalignedSamples(t *testing.T) {
	payload := make([]byte, 4+6) // 6 sample bytes is not a multiple of 4
	binary.BigEndian.PutUint32(payload[0:4], 1)

	_, err := ParseAudioPayload(payload)
	if err == nil {
		t.Error("Expected error for unaligned sample bytes")
	}
}

func TestAudioSamplesLittleEndian(t *testing.T) {
	// One sample, value 1.0, written little-endian after the sequence.
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:4], 5)
	binary.LittleEndian.PutUint32(payload[4:8], math.Float32bits(1.0))

	parsed, err := ParseAudioPayload(payload)
	if err != nil {
		t.Fatalf("Failed to parse audio payload: %v", err)
	}

	if parsed.Samples[0] != 1.0 {
		t.Errorf("Expected sample 1.0, got %f", parsed.Samples[0])
	}
}

func TestHelloStringsNullPadded(t *testing.T) {
	data := EncodeHelloFrame(1, "", "", "", 16000, 0)

	frame, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("Failed to parse hello frame: %v", err)
	}

	if frame.Hello.GetCandidateID() != "" {
		t.Errorf("Expected empty candidate ID, got %q", frame.Hello.GetCandidateID())
	}
	if frame.Hello.GetDeviceLabel() != "" {
		t.Errorf("Expected empty device label, got %q", frame.Hello.GetDeviceLabel())
	}
}

func TestExtractString(t *testing.T) {
	buf := [8]byte{'a', 'b', 'c', 0, 'x', 'y', 0, 0}
	if got := ExtractString(buf[:]); got != "abc" {
		t.Errorf("Expected 'abc', got %q", got)
	}

	full := [4]byte{'f', 'u', 'l', 'l'}
	if got := ExtractString(full[:]); got != "full" {
		t.Errorf("Expected 'full', got %q", got)
	}
}
