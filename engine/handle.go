package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrUnavailable is returned by every call on a Handle whose model failed to
// load at startup.
var ErrUnavailable = errors.New("engine: model not loaded")

// Handle owns the process-wide model instance. At most one decode pass runs at
// any instant; callers queue on the gate in arrival order.
type Handle struct {
	backend Backend
	loadErr error
	model   string
	device  string
	log     *slog.Logger

	// gate is a single-slot channel. Blocked senders are woken in FIFO order.
	gate    chan struct{}
	decodes atomic.Uint64
	closed  atomic.Bool
}

// NewHandle wraps backend. A nil backend or a non-nil loadErr yields a Handle
// that reports itself unavailable.
func NewHandle(backend Backend, loadErr error, model, device string, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	if backend == nil && loadErr == nil {
		loadErr = ErrUnavailable
	}
	return &Handle{
		backend: backend,
		loadErr: loadErr,
		model:   model,
		device:  device,
		log:     logger.With("component", "engine.Handle", "model", model, "device", device),
		gate:    make(chan struct{}, 1),
	}
}

// Loaded reports whether the model is available for decoding.
func (h *Handle) Loaded() bool {
	return h != nil && h.backend != nil && h.loadErr == nil && !h.closed.Load()
}

// LoadError returns the startup failure, if any.
func (h *Handle) LoadError() error {
	if h == nil {
		return ErrUnavailable
	}
	return h.loadErr
}

func (h *Handle) Model() string  { return h.model }
func (h *Handle) Device() string { return h.device }

// Decodes returns how many decode passes have been started.
func (h *Handle) Decodes() uint64 { return h.decodes.Load() }

// Transcribe waits for exclusive access to the model and starts a decode pass
// on the file at path. The returned Transcription holds that access until it
// is closed. Waiting can be abandoned through ctx; a started decode cannot.
func (h *Handle) Transcribe(ctx context.Context, path string, opts Options) (Transcription, error) {
	if !h.Loaded() {
		return nil, ErrUnavailable
	}

	select {
	case h.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("engine: waiting for model: %w", ctx.Err())
	}

	if h.closed.Load() {
		<-h.gate
		return nil, ErrUnavailable
	}

	h.decodes.Add(1)
	h.log.Debug("decode started", "path", path, "language", opts.Language, "beam_size", opts.BeamSize)

	t, err := h.backend.Transcribe(path, opts)
	if err != nil {
		<-h.gate
		return nil, err
	}
	return &gated{Transcription: t, release: func() { <-h.gate }}, nil
}

// Close waits for any in-flight decode, then frees the model.
func (h *Handle) Close() error {
	if h == nil || h.backend == nil {
		return nil
	}
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.gate <- struct{}{}
	defer func() { <-h.gate }()
	return h.backend.Close()
}

type gated struct {
	Transcription
	release func()
	once    sync.Once
}

func (g *gated) Close() error {
	var err error
	g.once.Do(func() {
		err = g.Transcription.Close()
		g.release()
	})
	return err
}
