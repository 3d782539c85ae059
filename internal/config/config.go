package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	Meter         MeterConfig         `yaml:"meter"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Storage       StorageConfig       `yaml:"storage"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains WebSocket ingest server configuration
type ServerConfig struct {
	Port                  int    `yaml:"port"`
	BindAddress           string `yaml:"bind_address"`
	ReadLimit             int64  `yaml:"read_limit"` // Max WebSocket message size in bytes
	MaxConcurrentSessions int    `yaml:"max_concurrent_sessions"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio processing parameters
type AudioConfig struct {
	SampleRate          int    `yaml:"sample_rate"`            // Hz; capture clients may override per session
	ChunkCapacity       int    `yaml:"chunk_capacity"`         // Samples per emitted chunk
	MaxSequenceGap      uint32 `yaml:"max_sequence_gap"`       // Frames to wait for before skipping ahead
	FlushPartialOnClose bool   `yaml:"flush_partial_on_close"` // Emit the buffered tail when a session ends
	SessionTimeout      int    `yaml:"session_timeout"`        // Seconds of inactivity before expiry
}

// MeterConfig contains chunk level metering configuration
type MeterConfig struct {
	MinRMSLevel float32 `yaml:"min_rms_level"` // 0 disables the silence gate
	Smoothing   float32 `yaml:"smoothing"`
}

// TranscriptionConfig contains speech-to-text API configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	Format        string `yaml:"format"`   // "raw" or "wav" upload encoding
	Language      string `yaml:"language"` // optional hint forwarded to the API
	Model         string `yaml:"model"`    // optional model name
}

// ArchiveConfig contains chunk WAV archival configuration
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// StorageConfig contains SQLite persistence configuration
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Meter.Validate(); err != nil {
		return fmt.Errorf("meter config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("archive config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates ingest server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.ReadLimit < 1024 {
		return fmt.Errorf("read_limit must be at least 1024 bytes, got %d", s.ReadLimit)
	}

	if s.MaxConcurrentSessions < 1 {
		return fmt.Errorf("max_concurrent_sessions must be at least 1, got %d", s.MaxConcurrentSessions)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}

	if a.ChunkCapacity < 128 || a.ChunkCapacity > 65536 {
		return fmt.Errorf("chunk_capacity must be between 128 and 65536 samples, got %d", a.ChunkCapacity)
	}

	if a.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", a.SessionTimeout)
	}

	return nil
}

// Validate validates metering configuration
func (m *MeterConfig) Validate() error {
	if m.MinRMSLevel < 0 || m.MinRMSLevel > 1 {
		return fmt.Errorf("min_rms_level must be between 0 and 1, got %f", m.MinRMSLevel)
	}

	if m.Smoothing <= 0 || m.Smoothing > 1 {
		return fmt.Errorf("smoothing must be in (0, 1], got %f", m.Smoothing)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	// APIKey may be empty; local mock endpoints do not authenticate.

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	validFormats := map[string]bool{"raw": true, "wav": true}
	if !validFormats[t.Format] {
		return fmt.Errorf("format must be 'raw' or 'wav', got '%s'", t.Format)
	}

	return nil
}

// Validate validates archive configuration
func (a *ArchiveConfig) Validate() error {
	if a.Enabled && a.Dir == "" {
		return fmt.Errorf("dir cannot be empty when archiving is enabled")
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output may be stdout, stderr, or a file path; all are valid.

	return nil
}

// GetSessionTimeoutDuration returns the session timeout as a time.Duration
func (a *AudioConfig) GetSessionTimeoutDuration() time.Duration {
	return time.Duration(a.SessionTimeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}
