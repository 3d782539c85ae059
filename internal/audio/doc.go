// Package audio implements PCM sample conversion and chunk emission.
// It converts floating-point capture samples to clamped 16-bit PCM,
// accumulates them in a fixed-capacity buffer, and emits full chunks
// to a downstream consumer in arrival order.
package audio
