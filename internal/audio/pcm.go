package audio

import "math"

// PCM-16 value range.
const (
	MaxSample = 32767
	MinSample = -32768
)

// sampleScale is the narrowing factor from [-1.0, 1.0] floats to PCM-16.
const sampleScale = 32768

// ConvertSample narrows a floating-point sample to a clamped 16-bit PCM
// value. The value is scaled by 32768, rounded to the nearest integer, and
// clamped to [-32768, 32767], so 1.0 maps to 32767 and -1.0 to -32768.
func ConvertSample(s float32) int16 {
	v := math.Round(float64(s) * sampleScale)
	if v > MaxSample {
		return MaxSample
	}
	if v < MinSample {
		return MinSample
	}
	return int16(v)
}

// IsFinite reports whether the sample is a representable audio value
// (not NaN and not infinite).
func IsFinite(s float32) bool {
	f := float64(s)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// SamplesToBytes converts PCM-16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToSamples converts little-endian bytes back to PCM-16 samples.
func BytesToSamples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out
}
