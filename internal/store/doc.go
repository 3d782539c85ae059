// Package store persists sessions and chunk transcripts in SQLite.
package store
