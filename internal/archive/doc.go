// Package archive writes emitted chunks to disk as 16-bit mono WAV files.
package archive
