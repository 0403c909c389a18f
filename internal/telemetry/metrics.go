// Package telemetry holds the Prometheus collectors and OpenTelemetry helpers shared by transcription sessions.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gokibot_sessions_started_total",
		Help: "Number of transcription sessions started",
	})
	SessionsTornDown = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gokibot_sessions_torn_down_total",
		Help: "Number of transcription sessions torn down, by stop reason",
	}, []string{"reason"})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gokibot_active_sessions",
		Help: "Current number of registered transcription sessions",
	})

	SlicesFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gokibot_slices_finalized_total",
		Help: "Number of slices handed to the finalizer",
	})
	CaptureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gokibot_capture_failures_total",
		Help: "Capture failures counted against the failure budget, by kind",
	}, []string{"kind"})
	FinalizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gokibot_finalize_duration_seconds",
		Help:    "Time spent finalizing one slice",
		Buckets: prometheus.DefBuckets,
	})

	TranscriptionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gokibot_transcription_requests_total",
		Help: "Speech engine calls, by engine and outcome",
	}, []string{"engine", "outcome"})
	LinesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gokibot_transcript_lines_published_total",
		Help: "Transcript lines posted to transcript threads",
	})
	ConsentDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gokibot_consent_decisions_total",
		Help: "Consent gate outcomes",
	}, []string{"decision"})
)

const (
	FailureStartCapture = "start_capture"
	FailureFinalizeWait = "finalize_timeout"
	FailureSinkLost     = "sink_lost"

	OutcomeOK    = "ok"
	OutcomeError = "error"
)
