// Package protocol implements the binary capture frame format carried in
// WebSocket binary messages. It handles header parsing, hello payload
// extraction, and decoding of float32 audio sample payloads.
package protocol
