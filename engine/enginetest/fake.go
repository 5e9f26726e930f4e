// Package enginetest provides a scriptable engine.Backend for tests.
package enginetest

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bosley/medscribe/engine"
)

// Backend replays Segments for every decode. It records the options and path
// it was called with, whether the path existed, and the peak number of decode
// passes open at once.
type Backend struct {
	Segments []engine.Segment
	Info     engine.Info
	// Err fails Transcribe; NextErr fails the sequence after all Segments.
	Err     error
	NextErr error
	// Delay is spent inside Next before the first segment.
	Delay time.Duration

	mu          sync.Mutex
	calls       []Call
	active      atomic.Int32
	maxActive   atomic.Int32
	closed      atomic.Int32
	backendDone atomic.Bool
}

// Call records one Transcribe invocation.
type Call struct {
	Path       string
	Options    engine.Options
	FileExists bool
}

func (b *Backend) Name() string { return "fake" }

func (b *Backend) Close() error {
	b.backendDone.Store(true)
	return nil
}

func (b *Backend) Transcribe(path string, opts engine.Options) (engine.Transcription, error) {
	_, statErr := os.Stat(path)
	b.mu.Lock()
	b.calls = append(b.calls, Call{Path: path, Options: opts, FileExists: statErr == nil})
	b.mu.Unlock()

	if b.Err != nil {
		return nil, b.Err
	}

	n := b.active.Add(1)
	for {
		peak := b.maxActive.Load()
		if n <= peak || b.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}
	segments := append([]engine.Segment(nil), b.Segments...)
	return &transcription{backend: b, segments: segments, info: b.Info}, nil
}

// Calls returns a copy of the recorded invocations.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// MaxActive is the peak number of decode passes open at once.
func (b *Backend) MaxActive() int { return int(b.maxActive.Load()) }

// Active is the number of decode passes not yet closed.
func (b *Backend) Active() int { return int(b.active.Load()) }

// ClosedTranscriptions counts decode passes that were closed.
func (b *Backend) ClosedTranscriptions() int { return int(b.closed.Load()) }

// BackendClosed reports whether Close was called on the backend itself.
func (b *Backend) BackendClosed() bool { return b.backendDone.Load() }

var errClosed = errors.New("enginetest: transcription closed")

type transcription struct {
	backend  *Backend
	segments []engine.Segment
	info     engine.Info
	pos      int
	started  bool
	closed   bool
}

func (t *transcription) Next() (engine.Segment, error) {
	if t.closed {
		return engine.Segment{}, errClosed
	}
	if !t.started {
		t.started = true
		if t.backend.Delay > 0 {
			time.Sleep(t.backend.Delay)
		}
	}
	if t.pos < len(t.segments) {
		seg := t.segments[t.pos]
		t.pos++
		return seg, nil
	}
	if t.backend.NextErr != nil {
		return engine.Segment{}, t.backend.NextErr
	}
	return engine.Segment{}, io.EOF
}

func (t *transcription) Info() engine.Info { return t.info }

func (t *transcription) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.backend.active.Add(-1)
	t.backend.closed.Add(1)
	return nil
}
