// Package stream provides capture session management and lifecycle handling.
// It manages concurrent sessions, frame reordering, sample conversion, chunk
// dispatch, and automatic cleanup of inactive sessions.
package stream
