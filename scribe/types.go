package scribe

import (
	"time"

	"github.com/bosley/medscribe/telemetry"
	"github.com/bosley/medscribe/transcription"
)

type rootResponse struct {
	Service     string `json:"service"`
	Status      string `json:"status"`
	Model       string `json:"model"`
	ModelLoaded bool   `json:"model_loaded"`
}

type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	Device string `json:"device"`
}

// errorResponse is the body of every non-2xx answer.
type errorResponse struct {
	Detail      string `json:"detail"`
	ModelLoaded *bool  `json:"model_loaded,omitempty"`
}

type transcriptionMetadata struct {
	Language            string  `json:"language"`
	LanguageProbability float64 `json:"language_probability"`
	Duration            float64 `json:"duration"`
	Model               string  `json:"model"`
}

// transcribeResponse answers POST /transcribe
type transcribeResponse struct {
	Success  bool                    `json:"success"`
	Text     string                  `json:"text"`
	Segments []transcription.Segment `json:"segments"`
	Metadata transcriptionMetadata   `json:"metadata"`
}

// streamingResponse answers POST /transcribe-streaming
type streamingResponse struct {
	Success  bool   `json:"success"`
	Text     string `json:"text"`
	Language string `json:"language"`
}

type statsResponse struct {
	Requests    telemetry.Snapshot `json:"requests"`
	Decodes     uint64             `json:"decodes"`
	StagedLive  int                `json:"staged_files_live"`
	StagedTotal uint64             `json:"staged_files_total"`
	InFlight    []InFlight         `json:"in_flight"`
}

// Websocket message types
const (
	messageSegment = "segment"
	messageResult  = "result"
	messageError   = "error"
)

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Type      string    `json:"type"`
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

type wsErrorPayload struct {
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func newTranscribeResponse(res *transcription.Result) transcribeResponse {
	segments := res.Segments
	if segments == nil {
		segments = []transcription.Segment{}
	}
	return transcribeResponse{
		Success:  true,
		Text:     res.Text,
		Segments: segments,
		Metadata: transcriptionMetadata{
			Language:            res.Language,
			LanguageProbability: res.LanguageProbability,
			Duration:            res.Duration,
			Model:               res.Model,
		},
	}
}
