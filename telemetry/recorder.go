// Package telemetry counts transcription requests and logs a summary line for
// each one.
package telemetry

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Outcome is the terminal state of a request.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeRejected    Outcome = "rejected"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeFailed      Outcome = "failed"
)

// Recorder tracks service-level totals.
type Recorder struct {
	log *slog.Logger

	totalRequests  atomic.Uint64
	activeRequests atomic.Int64
	completed      atomic.Uint64
	rejected       atomic.Uint64
	unavailable    atomic.Uint64
	failed         atomic.Uint64
	totalBytes     atomic.Uint64
	totalSegments  atomic.Uint64
	audioMillis    atomic.Uint64
	decodeMillis   atomic.Uint64
}

// Snapshot captures cumulative metrics recorded so far.
type Snapshot struct {
	TotalRequests  uint64  `json:"total_requests"`
	ActiveRequests int64   `json:"active_requests"`
	Completed      uint64  `json:"completed"`
	Rejected       uint64  `json:"rejected"`
	Unavailable    uint64  `json:"unavailable"`
	Failed         uint64  `json:"failed"`
	TotalBytes     uint64  `json:"total_bytes"`
	TotalSegments  uint64  `json:"total_segments"`
	AudioSeconds   float64 `json:"audio_seconds"`
	DecodeSeconds  float64 `json:"decode_seconds"`
}

// NewRecorder constructs a Recorder using the provided logger.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		log: logger.With("component", "telemetry.Recorder"),
	}
}

// Snapshot returns an immutable view of the recorder totals.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		TotalRequests:  r.totalRequests.Load(),
		ActiveRequests: r.activeRequests.Load(),
		Completed:      r.completed.Load(),
		Rejected:       r.rejected.Load(),
		Unavailable:    r.unavailable.Load(),
		Failed:         r.failed.Load(),
		TotalBytes:     r.totalBytes.Load(),
		TotalSegments:  r.totalSegments.Load(),
		AudioSeconds:   float64(r.audioMillis.Load()) / 1000,
		DecodeSeconds:  float64(r.decodeMillis.Load()) / 1000,
	}
}

// RequestMetrics accumulates statistics for a single request.
type RequestMetrics struct {
	recorder *Recorder
	log      *slog.Logger

	started  time.Time
	bytes    int
	segments int
	audio    float64
	decode   time.Duration
	closed   atomic.Bool
}

// StartRequest registers a request in flight.
func (r *Recorder) StartRequest(requestID, mode string, bytes int) *RequestMetrics {
	if r == nil {
		return nil
	}
	r.totalRequests.Add(1)
	r.activeRequests.Add(1)
	r.totalBytes.Add(uint64(max(bytes, 0)))

	return &RequestMetrics{
		recorder: r,
		log:      r.log.With("request_id", requestID, "mode", mode),
		started:  time.Now(),
		bytes:    bytes,
	}
}

// RecordDecode stores the outcome of the decode stage.
func (m *RequestMetrics) RecordDecode(elapsed time.Duration, segments int, audioSeconds float64) {
	if m == nil {
		return
	}
	m.decode = elapsed
	m.segments = segments
	m.audio = audioSeconds
	m.recorder.totalSegments.Add(uint64(segments))
	m.recorder.decodeMillis.Add(uint64(elapsed.Milliseconds()))
	if audioSeconds > 0 {
		m.recorder.audioMillis.Add(uint64(audioSeconds * 1000))
	}
}

// Finish logs a summary and updates counters. Only the first call counts.
func (m *RequestMetrics) Finish(outcome Outcome, err error) {
	if m == nil {
		return
	}
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	defer m.recorder.activeRequests.Add(-1)

	switch outcome {
	case OutcomeCompleted:
		m.recorder.completed.Add(1)
	case OutcomeRejected:
		m.recorder.rejected.Add(1)
	case OutcomeUnavailable:
		m.recorder.unavailable.Add(1)
	default:
		m.recorder.failed.Add(1)
	}

	args := []any{
		"outcome", outcome,
		"duration_ms", time.Since(m.started).Milliseconds(),
		"decode_ms", m.decode.Milliseconds(),
		"bytes", m.bytes,
		"segments", m.segments,
		"audio_seconds", m.audio,
	}
	switch outcome {
	case OutcomeCompleted:
		m.log.Info("request completed", args...)
	case OutcomeFailed:
		m.log.Error("request failed", append(args, "error", err)...)
	default:
		m.log.Warn("request not processed", append(args, "error", err)...)
	}
}
