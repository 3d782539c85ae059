// Package server implements the WebSocket ingest server for capture frames
// and the HTTP API endpoints. It handles frame decoding, routing to stream
// sessions, and provides monitoring/management endpoints.
package server
