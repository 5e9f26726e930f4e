package scribe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bosley/medscribe/transcription"
)

func (s *Scribe) routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/transcribe", s.handleTranscribe(transcription.ModeFull)).Methods(http.MethodPost)
	router.HandleFunc("/transcribe-streaming", s.handleTranscribe(transcription.ModeStreaming)).Methods(http.MethodPost)
	router.HandleFunc("/ws/transcribe", s.handleWebSocket).Methods(http.MethodGet)

	return router
}

func (s *Scribe) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, rootResponse{
		Service:     ServiceName,
		Status:      "online",
		Model:       s.engine.Model(),
		ModelLoaded: s.engine.Loaded(),
	})
}

func (s *Scribe) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Loaded() {
		loaded := false
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Detail:      "whisper model not loaded",
			ModelLoaded: &loaded,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status: "healthy",
		Model:  s.engine.Model(),
		Device: s.engine.Device(),
	})
}

func (s *Scribe) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statsResponse{
		Requests:    s.metrics.Snapshot(),
		Decodes:     s.engine.Decodes(),
		StagedLive:  s.watcher.Live(),
		StagedTotal: s.watcher.Created(),
		InFlight:    s.requests.List(),
	})
}

func (s *Scribe) handleTranscribe(mode transcription.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, done := s.requests.track(mode.String(), r.RemoteAddr)
		defer done()
		w.Header().Set("X-Request-ID", id.String())

		up, err := s.readUpload(w, r)
		if err != nil {
			var ue *uploadError
			if errors.As(err, &ue) {
				s.log.Warn("rejected upload", "request_id", id, "status", ue.status, "error", ue.detail)
				s.writeError(w, ue.status, ue.detail)
				return
			}
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ctx, cancel := s.requestContext(r.Context())
		defer cancel()

		res, err := s.service.Transcribe(ctx, transcription.Request{
			ID:          id.String(),
			Mode:        mode,
			Audio:       up.Audio,
			ContentType: up.ContentType,
			Filename:    up.Filename,
			Language:    up.Language,
			Prompt:      up.Prompt,
		})
		if err != nil {
			status, detail := errorStatus(mode, err)
			s.writeError(w, status, detail)
			return
		}

		if mode == transcription.ModeStreaming {
			s.writeJSON(w, http.StatusOK, streamingResponse{
				Success:  true,
				Text:     res.Text,
				Language: res.Language,
			})
			return
		}
		s.writeJSON(w, http.StatusOK, newTranscribeResponse(res))
	}
}

func (s *Scribe) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout > 0 {
		return context.WithTimeout(parent, s.config.RequestTimeout)
	}
	return context.WithCancel(parent)
}

// errorStatus maps a pipeline error to its HTTP status and detail message.
// Full mode prefixes server-side failures; streaming mode reports them bare.
func errorStatus(mode transcription.Mode, err error) (int, string) {
	var ve *transcription.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, transcription.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out waiting for the model"
	case mode == transcription.ModeFull:
		return http.StatusInternalServerError, "error processing audio: " + err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func (s *Scribe) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, errorResponse{Detail: detail})
}

func (s *Scribe) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", "error", err, "status", status)
	}
}
