package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertSample(t *testing.T) {
	assert.Equal(t, int16(0), ConvertSample(0))
	assert.Equal(t, int16(16384), ConvertSample(0.5))
	assert.Equal(t, int16(-16384), ConvertSample(-0.5))
	assert.Equal(t, int16(3277), ConvertSample(0.1))
}

func TestConvertSampleFullScale(t *testing.T) {
	// +1.0 scales past the int16 range and must clamp to the maximum.
	assert.Equal(t, int16(32767), ConvertSample(1.0))
	assert.Equal(t, int16(-32768), ConvertSample(-1.0))
}

func TestConvertSampleClamping(t *testing.T) {
	assert.Equal(t, int16(32767), ConvertSample(1.5))
	assert.Equal(t, int16(-32768), ConvertSample(-1.5))
	assert.Equal(t, int16(32767), ConvertSample(100))
	assert.Equal(t, int16(-32768), ConvertSample(-100))
}

func TestConvertSampleRounding(t *testing.T) {
	// Values just below a scale step round to the nearest integer rather
	// than truncating.
	assert.Equal(t, int16(1), ConvertSample(0.9/32768.0))
	assert.Equal(t, int16(0), ConvertSample(0.4/32768.0))
}

func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite(0))
	assert.True(t, IsFinite(1.0))
	assert.True(t, IsFinite(-1.0))
	assert.False(t, IsFinite(float32(math.NaN())))
	assert.False(t, IsFinite(float32(math.Inf(1))))
	assert.False(t, IsFinite(float32(math.Inf(-1))))
}

func TestSamplesToBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}

	data := SamplesToBytes(samples)
	assert.Equal(t, len(samples)*2, len(data))

	decoded := BytesToSamples(data)
	assert.Equal(t, samples, decoded)
}

func TestSamplesToBytesLittleEndian(t *testing.T) {
	data := SamplesToBytes([]int16{0x0102})
	assert.Equal(t, []byte{0x02, 0x01}, data)
}
