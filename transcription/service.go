// Package transcription runs the request pipeline: validate the upload, stage
// it to disk, decode it on the shared engine, assemble the response and
// release the staged file on every exit path.
package transcription

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bosley/medscribe/engine"
	"github.com/bosley/medscribe/staging"
	"github.com/bosley/medscribe/telemetry"
)

// Engine is the part of engine.Handle the pipeline depends on.
type Engine interface {
	Loaded() bool
	Model() string
	Transcribe(ctx context.Context, path string, opts engine.Options) (engine.Transcription, error)
}

// Stager stages uploads to scoped files.
type Stager interface {
	Stage(data []byte, ext string) (*staging.File, error)
}

// Request is one uploaded clip.
type Request struct {
	ID          string
	Mode        Mode
	Audio       []byte
	ContentType string
	// Filename is only used to pick the staged file's extension.
	Filename string
	Language string
	Prompt   string
	// OnSegment, when set, observes each segment as it is drained.
	OnSegment func(Segment)
}

// Service is the transcription orchestrator.
type Service struct {
	engine  Engine
	stager  Stager
	metrics *telemetry.Recorder
	log     *slog.Logger
}

// NewService wires the pipeline around a shared engine and a stager.
func NewService(eng Engine, stager Stager, metrics *telemetry.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if eng == nil {
		panic("transcription: engine must not be nil")
	}
	if stager == nil {
		panic("transcription: stager must not be nil")
	}
	if metrics == nil {
		metrics = telemetry.NewRecorder(logger)
	}
	return &Service{
		engine:  eng,
		stager:  stager,
		metrics: metrics,
		log:     logger.With("component", "transcription"),
	}
}

// Transcribe runs one request through Validate, Stage, Decode, Assemble and
// Release, in that order. The staged file is gone when Transcribe returns.
func (s *Service) Transcribe(ctx context.Context, req Request) (res *Result, err error) {
	log := s.log.With("request_id", req.ID, "mode", req.Mode.String())
	metrics := s.metrics.StartRequest(req.ID, req.Mode.String(), len(req.Audio))
	defer func() { metrics.Finish(outcome(err), err) }()

	if !s.engine.Loaded() {
		return nil, ErrServiceUnavailable
	}

	p := req.Mode.preset()
	if err := Validate(req.ContentType, len(req.Audio)); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.hideLimit = p.hideSizeLimit
		}
		return nil, err
	}

	log.Info("received audio",
		"filename", req.Filename,
		"content_type", req.ContentType,
		"size_mb", float64(len(req.Audio))/(1024*1024),
	)

	staged, err := s.stager.Stage(req.Audio, filepath.Ext(req.Filename))
	if err != nil {
		log.Error("failed to stage audio", "error", err)
		return nil, &StagingError{Err: err}
	}
	defer staged.Release()

	opts := req.Mode.Options(req.Language, req.Prompt)
	log.Info("processing transcription", "path", staged.Path, "language", opts.Language)

	start := time.Now()
	t, err := s.engine.Transcribe(ctx, staged.Path, opts)
	if err != nil {
		if errors.Is(err, engine.ErrUnavailable) {
			return nil, ErrServiceUnavailable
		}
		log.Error("transcription failed", "error", err, "path", staged.Path)
		return nil, &EngineError{Err: err}
	}
	defer func() {
		if cerr := t.Close(); cerr != nil {
			log.Warn("failed to close transcription", "error", cerr)
		}
	}()

	res, count, err := assemble(t, p.keepSegments, req.OnSegment)
	if err != nil {
		log.Error("transcription failed", "error", err, "path", staged.Path, "segments", count)
		return nil, &EngineError{Err: err}
	}
	res.Model = s.engine.Model()
	metrics.RecordDecode(time.Since(start), count, res.Duration)

	log.Info("transcription completed", "segments", count, "language", res.Language)
	return res, nil
}

func outcome(err error) telemetry.Outcome {
	var ve *ValidationError
	switch {
	case err == nil:
		return telemetry.OutcomeCompleted
	case errors.As(err, &ve):
		return telemetry.OutcomeRejected
	case errors.Is(err, ErrServiceUnavailable):
		return telemetry.OutcomeUnavailable
	default:
		return telemetry.OutcomeFailed
	}
}
