// Package meter measures emitted audio chunks: RMS level, peak, and clipped
// sample counts. It applies exponential smoothing across chunks and drives
// the silence gate that skips transcription of near-silent audio.
package meter
