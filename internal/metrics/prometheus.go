package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the audio stream service
type Metrics struct {
	// Ingest frame metrics
	FramesReceived prometheus.Counter
	FramesDropped  prometheus.Counter
	ParseErrors    prometheus.Counter
	FramesLost     prometheus.Counter

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Conversion metrics
	SamplesConverted   prometheus.Counter
	ConversionFailures prometheus.Counter
	ChunksEmitted      prometheus.Counter
	ChunkFill          prometheus.Histogram

	// Level meter metrics
	GatedChunks   prometheus.Counter
	ClippedChunks prometheus.Counter
	ChunkRMS      prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// Archive metrics
	ArchivedChunks prometheus.Counter
	ArchiveErrors  prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Ingest frame metrics
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_frames_received_total",
			Help: "Total number of audio frames received",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_frames_dropped_total",
			Help: "Total number of audio frames dropped before processing",
		}),
		ParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_parse_errors_total",
			Help: "Total number of frame parsing errors",
		}),
		FramesLost: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_frames_lost_total",
			Help: "Total number of frames marked lost by the reorder buffer",
		}),

		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "audiostream_active_sessions",
			Help: "Current number of active capture sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsDestroyed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_sessions_destroyed_total",
			Help: "Total number of sessions destroyed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiostream_session_duration_seconds",
			Help:    "Duration of capture sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Conversion metrics
		SamplesConverted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_samples_converted_total",
			Help: "Total number of samples converted to 16-bit PCM",
		}),
		ConversionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_conversion_failures_total",
			Help: "Total number of failed conversion calls",
		}),
		ChunksEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_chunks_emitted_total",
			Help: "Total number of PCM chunks emitted",
		}),
		ChunkFill: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiostream_chunk_fill_ratio",
			Help:    "Fill ratio of emitted chunks relative to configured capacity",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),

		// Level meter metrics
		GatedChunks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_gated_chunks_total",
			Help: "Total number of chunks gated as silence",
		}),
		ClippedChunks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_clipped_chunks_total",
			Help: "Total number of chunks containing clipped samples",
		}),
		ChunkRMS: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiostream_chunk_rms",
			Help:    "Normalized RMS level of emitted chunks",
			Buckets: prometheus.LinearBuckets(0, 0.05, 21), // 0.0 to 1.0
		}),

		// Transcription metrics
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiostream_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		// Archive metrics
		ArchivedChunks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_archived_chunks_total",
			Help: "Total number of chunks archived to WAV files",
		}),
		ArchiveErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_archive_errors_total",
			Help: "Total number of archive write errors",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "audiostream_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audiostream_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "audiostream_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrameReceived increments the frames received counter
func (m *Metrics) RecordFrameReceived() {
	m.FramesReceived.Inc()
}

// RecordFrameDropped increments the frames dropped counter
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// RecordFramesLost adds to the frames lost counter
func (m *Metrics) RecordFramesLost(count int) {
	m.FramesLost.Add(float64(count))
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter and records duration
func (m *Metrics) RecordSessionDestroyed(durationSeconds float64) {
	m.SessionsDestroyed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSamplesConverted adds to the samples converted counter
func (m *Metrics) RecordSamplesConverted(count int) {
	m.SamplesConverted.Add(float64(count))
}

// RecordConversionFailure increments the conversion failures counter
func (m *Metrics) RecordConversionFailure() {
	m.ConversionFailures.Inc()
}

// RecordChunkEmitted records an emitted chunk and its fill ratio
func (m *Metrics) RecordChunkEmitted(fillRatio float64) {
	m.ChunksEmitted.Inc()
	m.ChunkFill.Observe(fillRatio)
}

// RecordChunkLevels records level meter results for a chunk
func (m *Metrics) RecordChunkLevels(rms float64, gated bool, clipped int) {
	m.ChunkRMS.Observe(rms)
	if gated {
		m.GatedChunks.Inc()
	}
	if clipped > 0 {
		m.ClippedChunks.Inc()
	}
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	m.TranscriptionRetries.Inc()
}

// RecordChunkArchived increments the archived chunks counter
func (m *Metrics) RecordChunkArchived() {
	m.ArchivedChunks.Inc()
}

// RecordArchiveError increments the archive errors counter
func (m *Metrics) RecordArchiveError() {
	m.ArchiveErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
