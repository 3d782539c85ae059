package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Protocol constants
const (
	// Frame types
	FrameTypeHello = 0x01
	FrameTypeAudio = 0x02
	FrameTypeBye   = 0x03

	// Frame structure sizes
	HeaderSize          = 8   // 1 + 2 + 4 + 1 bytes
	HelloPayloadSize    = 136 // 32 + 32 + 64 + 4 + 4 bytes
	AudioPayloadMinSize = 4   // Sequence number (4 bytes)
	BytesPerSample      = 4   // float32 samples on the wire

	// Field sizes in the hello payload
	CandidateIDSize = 32
	InterviewIDSize = 32
	DeviceLabelSize = 64
	SampleRateSize  = 4
	TimestampSize   = 4
)

// Header represents the 8-byte capture frame header.
// Layout: [FrameType:1][FrameLen:2][SessionID:4][Flags:1], big-endian.
type Header struct {
	FrameType uint8  // 0x01=Hello, 0x02=Audio, 0x03=Bye
	FrameLen  uint16 // Total frame size (header + payload)
	SessionID uint32 // Wire session identifier chosen by the capture client
	Flags     uint8  // Reserved, must be zero
}

// HelloPayload represents the 136-byte session announcement payload.
// Layout: [CandidateID:32][InterviewID:32][DeviceLabel:64][SampleRate:4][Timestamp:4]
type HelloPayload struct {
	CandidateID [CandidateIDSize]byte // Null-padded string (32 bytes)
	InterviewID [InterviewIDSize]byte // Null-padded string (32 bytes)
	DeviceLabel [DeviceLabelSize]byte // Null-padded string (64 bytes)
	SampleRate  uint32                // Capture sample rate in Hz
	Timestamp   uint32                // Unix timestamp at capture start
}

// AudioPayload represents the audio frame payload.
// Layout: [Sequence:4][Samples:N*4]
//
// Samples are little-endian IEEE 754 float32, matching the byte order of
// the Float32Array blocks the capture worklet posts.
type AudioPayload struct {
	Sequence uint32    // Frame sequence number
	Samples  []float32 // Floating-point samples, nominally in [-1.0, 1.0]
}

// ParsedFrame represents a fully parsed capture frame.
type ParsedFrame struct {
	Header *Header
	Hello  *HelloPayload // Only set for hello frames
	Audio  *AudioPayload // Only set for audio frames
}

// ParseHeader parses the 8-byte capture frame header.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		FrameType: data[0],
		FrameLen:  binary.BigEndian.Uint16(data[1:3]),
		SessionID: binary.BigEndian.Uint32(data[3:7]),
		Flags:     data[7],
	}

	return header, nil
}

// ParseHelloPayload parses the 136-byte hello frame payload.
func ParseHelloPayload(data []byte) (*HelloPayload, error) {
	if len(data) < HelloPayloadSize {
		return nil, fmt.Errorf("hello payload too short: expected %d bytes, got %d",
			HelloPayloadSize, len(data))
	}

	payload := &HelloPayload{}

	copy(payload.CandidateID[:], data[0:CandidateIDSize])
	copy(payload.InterviewID[:], data[CandidateIDSize:CandidateIDSize+InterviewIDSize])
	copy(payload.DeviceLabel[:], data[CandidateIDSize+InterviewIDSize:CandidateIDSize+InterviewIDSize+DeviceLabelSize])

	rateOffset := CandidateIDSize + InterviewIDSize + DeviceLabelSize
	payload.SampleRate = binary.BigEndian.Uint32(data[rateOffset : rateOffset+SampleRateSize])
	payload.Timestamp = binary.BigEndian.Uint32(data[rateOffset+SampleRateSize : rateOffset+SampleRateSize+TimestampSize])

	return payload, nil
}

// ParseAudioPayload parses the audio frame payload (4-byte sequence + samples).
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadMinSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadMinSize, len(data))
	}

	sampleBytes := data[AudioPayloadMinSize:]
	if len(sampleBytes)%BytesPerSample != 0 {
		return nil, fmt.Errorf("audio payload length must be a multiple of %d (got %d sample bytes)",
			BytesPerSample, len(sampleBytes))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}

	if len(sampleBytes) > 0 {
		payload.Samples = make([]float32, len(sampleBytes)/BytesPerSample)
		for i := range payload.Samples {
			bits := binary.LittleEndian.Uint32(sampleBytes[i*BytesPerSample:])
			payload.Samples[i] = math.Float32frombits(bits)
		}
	}

	return payload, nil
}

// ParseFrame parses a complete capture frame (header + payload).
func ParseFrame(data []byte) (*ParsedFrame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("frame too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	// Validate frame length matches actual data
	if int(header.FrameLen) != len(data) {
		return nil, fmt.Errorf("frame length mismatch: header says %d bytes, got %d bytes",
			header.FrameLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	frame := &ParsedFrame{Header: header}
	payloadData := data[HeaderSize:]

	switch header.FrameType {
	case FrameTypeHello:
		payload, err := ParseHelloPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse hello payload: %w", err)
		}
		frame.Hello = payload

	case FrameTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		frame.Audio = payload

	case FrameTypeBye:
		// No payload.

	default:
		return nil, fmt.Errorf("unknown frame type: 0x%02x", header.FrameType)
	}

	return frame, nil
}

// ValidateHeader validates the frame header fields.
func ValidateHeader(header *Header) error {
	if !IsValidFrameType(header.FrameType) {
		return fmt.Errorf("invalid frame type: 0x%02x", header.FrameType)
	}

	if header.Flags != 0 {
		return fmt.Errorf("reserved flags must be zero, got 0x%02x", header.Flags)
	}

	if header.FrameLen < HeaderSize {
		return fmt.Errorf("frame length too small: %d (minimum %d)", header.FrameLen, HeaderSize)
	}

	// Validate expected payload sizes
	expectedPayloadSize := int(header.FrameLen) - HeaderSize
	switch header.FrameType {
	case FrameTypeHello:
		if expectedPayloadSize != HelloPayloadSize {
			return fmt.Errorf("hello frame payload size mismatch: expected %d, got %d",
				HelloPayloadSize, expectedPayloadSize)
		}
	case FrameTypeAudio:
		if expectedPayloadSize < AudioPayloadMinSize {
			return fmt.Errorf("audio frame payload too small: expected at least %d, got %d",
				AudioPayloadMinSize, expectedPayloadSize)
		}
	case FrameTypeBye:
		if expectedPayloadSize != 0 {
			return fmt.Errorf("bye frame must have empty payload, got %d bytes", expectedPayloadSize)
		}
	}

	return nil
}

// IsValidFrameType checks if the frame type is valid.
func IsValidFrameType(ftype uint8) bool {
	return ftype == FrameTypeHello || ftype == FrameTypeAudio || ftype == FrameTypeBye
}

// EncodeAudioFrame builds a complete audio frame for the given session,
// sequence number, and samples. Used by test harnesses and capture clients.
func EncodeAudioFrame(sessionID uint32, sequence uint32, samples []float32) []byte {
	frameLen := HeaderSize + AudioPayloadMinSize + len(samples)*BytesPerSample
	buf := make([]byte, frameLen)

	buf[0] = FrameTypeAudio
	binary.BigEndian.PutUint16(buf[1:3], uint16(frameLen))
	binary.BigEndian.PutUint32(buf[3:7], sessionID)
	buf[7] = 0

	binary.BigEndian.PutUint32(buf[HeaderSize:HeaderSize+4], sequence)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[HeaderSize+4+i*BytesPerSample:], math.Float32bits(s))
	}

	return buf
}

// EncodeHelloFrame builds a complete hello frame announcing a session.
func EncodeHelloFrame(sessionID uint32, candidateID, interviewID, deviceLabel string, sampleRate uint32, timestamp uint32) []byte {
	frameLen := HeaderSize + HelloPayloadSize
	buf := make([]byte, frameLen)

	buf[0] = FrameTypeHello
	binary.BigEndian.PutUint16(buf[1:3], uint16(frameLen))
	binary.BigEndian.PutUint32(buf[3:7], sessionID)
	buf[7] = 0

	payload := buf[HeaderSize:]
	copy(payload[0:CandidateIDSize], candidateID)
	copy(payload[CandidateIDSize:CandidateIDSize+InterviewIDSize], interviewID)
	copy(payload[CandidateIDSize+InterviewIDSize:CandidateIDSize+InterviewIDSize+DeviceLabelSize], deviceLabel)

	rateOffset := CandidateIDSize + InterviewIDSize + DeviceLabelSize
	binary.BigEndian.PutUint32(payload[rateOffset:], sampleRate)
	binary.BigEndian.PutUint32(payload[rateOffset+SampleRateSize:], timestamp)

	return buf
}

// EncodeByeFrame builds a complete bye frame ending a session.
func EncodeByeFrame(sessionID uint32) []byte {
	buf := make([]byte, HeaderSize)

	buf[0] = FrameTypeBye
	binary.BigEndian.PutUint16(buf[1:3], HeaderSize)
	binary.BigEndian.PutUint32(buf[3:7], sessionID)
	buf[7] = 0

	return buf
}

// ExtractString extracts a null-terminated string from a fixed-size byte array.
func ExtractString(buf []byte) string {
	nullPos := len(buf)
	for i, b := range buf {
		if b == 0 {
			nullPos = i
			break
		}
	}
	return string(buf[:nullPos])
}

// GetCandidateID extracts the candidate ID as a string.
func (h *HelloPayload) GetCandidateID() string {
	return ExtractString(h.CandidateID[:])
}

// GetInterviewID extracts the interview ID as a string.
func (h *HelloPayload) GetInterviewID() string {
	return ExtractString(h.InterviewID[:])
}

// GetDeviceLabel extracts the capture device label as a string.
func (h *HelloPayload) GetDeviceLabel() string {
	return ExtractString(h.DeviceLabel[:])
}

// String returns a human-readable representation of the header.
func (h *Header) String() string {
	var frameType string

	switch h.FrameType {
	case FrameTypeHello:
		frameType = "Hello"
	case FrameTypeAudio:
		frameType = "Audio"
	case FrameTypeBye:
		frameType = "Bye"
	default:
		frameType = fmt.Sprintf("Unknown(0x%02x)", h.FrameType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, SessionID:%d}", frameType, h.FrameLen, h.SessionID)
}

// String returns a human-readable representation of the hello payload.
func (h *HelloPayload) String() string {
	return fmt.Sprintf("HelloPayload{CandidateID:%q, InterviewID:%q, DeviceLabel:%q, SampleRate:%d, Timestamp:%d}",
		h.GetCandidateID(), h.GetInterviewID(), h.GetDeviceLabel(), h.SampleRate, h.Timestamp)
}

// String returns a human-readable representation of the audio payload.
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, Samples:%d}", a.Sequence, len(a.Samples))
}
