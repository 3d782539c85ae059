package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// NewMetrics registers against the default registry, so one instance covers
// the whole test binary.
var testMetrics = NewMetrics()

func TestRecordFrameCounters(t *testing.T) {
	testMetrics.RecordFrameReceived()
	testMetrics.RecordFrameReceived()
	testMetrics.RecordFrameDropped()
	testMetrics.RecordFramesLost(5)

	if got := testutil.ToFloat64(testMetrics.FramesReceived); got != 2 {
		t.Errorf("Expected 2 frames received, got %f", got)
	}
	if got := testutil.ToFloat64(testMetrics.FramesDropped); got != 1 {
		t.Errorf("Expected 1 frame dropped, got %f", got)
	}
	if got := testutil.ToFloat64(testMetrics.FramesLost); got != 5 {
		t.Errorf("Expected 5 frames lost, got %f", got)
	}
}

func TestRecordConversionCounters(t *testing.T) {
	testMetrics.RecordSamplesConverted(2048)
	testMetrics.RecordSamplesConverted(2048)
	testMetrics.RecordConversionFailure()
	testMetrics.RecordChunkEmitted(1.0)

	if got := testutil.ToFloat64(testMetrics.SamplesConverted); got != 4096 {
		t.Errorf("Expected 4096 samples converted, got %f", got)
	}
	if got := testutil.ToFloat64(testMetrics.ConversionFailures); got != 1 {
		t.Errorf("Expected 1 conversion failure, got %f", got)
	}
	if got := testutil.ToFloat64(testMetrics.ChunksEmitted); got != 1 {
		t.Errorf("Expected 1 chunk emitted, got %f", got)
	}
}

func TestRecordTranscriptionCounters(t *testing.T) {
	testMetrics.RecordTranscriptionRequest()
	testMetrics.RecordTranscriptionSuccess(0.2)
	testMetrics.RecordTranscriptionRetry()
	testMetrics.RecordTranscriptionRetry()

	if got := testutil.ToFloat64(testMetrics.TranscriptionRequests); got != 1 {
		t.Errorf("Expected 1 transcription request, got %f", got)
	}
	if got := testutil.ToFloat64(testMetrics.TranscriptionSuccesses); got != 1 {
		t.Errorf("Expected 1 transcription success, got %f", got)
	}
	if got := testutil.ToFloat64(testMetrics.TranscriptionRetries); got != 2 {
		t.Errorf("Expected 2 transcription retries, got %f", got)
	}
}

func TestRecordSessionGauge(t *testing.T) {
	testMetrics.SetActiveSessions(3)
	if got := testutil.ToFloat64(testMetrics.ActiveSessions); got != 3 {
		t.Errorf("Expected 3 active sessions, got %f", got)
	}

	testMetrics.SetActiveSessions(0)
	if got := testutil.ToFloat64(testMetrics.ActiveSessions); got != 0 {
		t.Errorf("Expected 0 active sessions, got %f", got)
	}
}
