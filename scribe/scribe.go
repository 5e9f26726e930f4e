package scribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bosley/medscribe/staging"
	"github.com/bosley/medscribe/telemetry"
	"github.com/bosley/medscribe/transcription"
)

// ServiceName identifies the service on GET / and in the gRPC health probe.
const ServiceName = "MedScribe Voice Service"

// Configuration for the Scribe service
type Config struct {
	// HTTP server address
	HTTPAddr string

	// Certificate files for TLS. Both empty serves plain HTTP.
	CertFile string
	KeyFile  string

	// Optional gRPC health probe address
	GRPCHealthAddr string

	// Hard cap on request bodies, answered with 413
	MaxBodyBytes int64

	// Overall deadline for one transcription request
	RequestTimeout time.Duration

	// Language used when a request does not name one
	Language string

	// Websocket origins; empty allows any
	AllowedOrigins []string
}

// Engine reports the state of the shared model.
type Engine interface {
	Loaded() bool
	Model() string
	Device() string
	Decodes() uint64
}

// Transcriber runs one request through the transcription pipeline.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcription.Request) (*transcription.Result, error)
}

// Deps are the collaborators the HTTP surface is built on. Watcher and
// Metrics are optional.
type Deps struct {
	Engine  Engine
	Service Transcriber
	Watcher *staging.Watcher
	Metrics *telemetry.Recorder
}

// Scribe serves the transcription API
type Scribe struct {
	config Config
	log    *slog.Logger

	engine  Engine
	service Transcriber
	watcher *staging.Watcher
	metrics *telemetry.Recorder

	// In-flight requests, reported on /stats
	requests *RequestList

	// HTTP/Websocket
	router   *mux.Router
	server   *http.Server
	upgrader websocket.Upgrader

	health *healthProbe
}

// New creates a new Scribe instance
func New(cfg Config, deps Deps, logger *slog.Logger) (*Scribe, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Engine == nil || deps.Service == nil {
		return nil, errors.New("scribe: engine and service are required")
	}
	if cfg.HTTPAddr == "" {
		return nil, errors.New("scribe: http address is required")
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, errors.New("scribe: tls cert and key must be set together")
	}
	if cfg.Language == "" {
		cfg.Language = transcription.DefaultLanguage
	}

	s := &Scribe{
		config:   cfg,
		log:      logger.With("component", "scribe"),
		engine:   deps.Engine,
		service:  deps.Service,
		watcher:  deps.Watcher,
		metrics:  deps.Metrics,
		requests: NewRequestList(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.GRPCHealthAddr != "" {
		s.health = newHealthProbe(cfg.GRPCHealthAddr, s.log)
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Scribe) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled or the listener fails, then shuts the
// servers down.
func (s *Scribe) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.config.HTTPAddr, err)
	}

	errs := make(chan error, 2)
	go func() {
		var err error
		if s.config.CertFile != "" {
			err = s.server.ServeTLS(lis, s.config.CertFile, s.config.KeyFile)
		} else {
			err = s.server.Serve(lis)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	s.log.Info("http server listening", "addr", lis.Addr().String(), "tls", s.config.CertFile != "")

	if s.health != nil {
		if err := s.health.start(s.engine.Loaded()); err != nil {
			s.server.Close()
			return err
		}
		go func() {
			if err := s.health.serve(); err != nil {
				errs <- err
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errs:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}

// Stop gracefully shuts down the Scribe service
func (s *Scribe) Stop(ctx context.Context) error {
	if s.health != nil {
		s.health.stop()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}
	return nil
}

func (s *Scribe) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.config.AllowedOrigins, "*") || slices.Contains(s.config.AllowedOrigins, origin)
}
