package transcription_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/medscribe/engine"
	"github.com/bosley/medscribe/engine/enginetest"
	"github.com/bosley/medscribe/staging"
	"github.com/bosley/medscribe/telemetry"
	"github.com/bosley/medscribe/transcription"
)

type fixture struct {
	backend *enginetest.Backend
	handle  *engine.Handle
	stager  *staging.Manager
	metrics *telemetry.Recorder
	svc     *transcription.Service
}

func newFixture(t *testing.T, backend *enginetest.Backend) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stager, err := staging.New(t.TempDir(), logger)
	require.NoError(t, err)

	var handle *engine.Handle
	if backend != nil {
		handle = engine.NewHandle(backend, nil, "base", "cpu", logger)
	} else {
		handle = engine.NewHandle(nil, errors.New("no model"), "base", "cpu", logger)
	}
	metrics := telemetry.NewRecorder(logger)
	return &fixture{
		backend: backend,
		handle:  handle,
		stager:  stager,
		metrics: metrics,
		svc:     transcription.NewService(handle, stager, metrics, logger),
	}
}

func (f *fixture) stagedFiles(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(f.stager.Dir(), "*"))
	require.NoError(t, err)
	return matches
}

func consultation() *enginetest.Backend {
	return &enginetest.Backend{
		Segments: []engine.Segment{
			{Start: 0, End: 3.2, Text: " Bom dia, doutor."},
			{Start: 3.2, End: 7.456, Text: " Estou com febre há dois dias."},
		},
		Info: engine.Info{Language: "pt", LanguageProbability: 1, Duration: 7.5},
	}
}

func TestTranscribeFull(t *testing.T) {
	f := newFixture(t, consultation())

	res, err := f.svc.Transcribe(context.Background(), transcription.Request{
		ID:          "req-1",
		Mode:        transcription.ModeFull,
		Audio:       []byte("RIFF....WAVE"),
		ContentType: "audio/wav",
		Filename:    "consulta.wav",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bom dia, doutor. Estou com febre há dois dias.", res.Text)
	assert.Len(t, res.Segments, 2)
	assert.Equal(t, 7.46, res.Segments[1].End)
	assert.Equal(t, "pt", res.Language)
	assert.Equal(t, 7.5, res.Duration)
	assert.Equal(t, "base", res.Model)

	calls := f.backend.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].FileExists)
	assert.Equal(t, ".wav", filepath.Ext(calls[0].Path))
	assert.Equal(t, transcription.MedicalPrompt, calls[0].Options.Prompt)
	assert.Equal(t, 5, calls[0].Options.BeamSize)
	assert.Equal(t, "pt", calls[0].Options.Language)

	assert.Empty(t, f.stagedFiles(t))
	assert.Zero(t, f.backend.Active())

	snap := f.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.Completed)
	assert.Equal(t, uint64(2), snap.TotalSegments)
}

func TestTranscribeStreaming(t *testing.T) {
	f := newFixture(t, consultation())

	var pushed []transcription.Segment
	res, err := f.svc.Transcribe(context.Background(), transcription.Request{
		Mode:        transcription.ModeStreaming,
		Audio:       []byte("OggS"),
		ContentType: "audio/ogg",
		Language:    "en",
		Prompt:      "ignored",
		OnSegment:   func(s transcription.Segment) { pushed = append(pushed, s) },
	})
	require.NoError(t, err)

	assert.Equal(t, "Bom dia, doutor. Estou com febre há dois dias.", res.Text)
	assert.Nil(t, res.Segments)
	assert.Len(t, pushed, 2)

	calls := f.backend.Calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].Options.Prompt)
	assert.Equal(t, 3, calls[0].Options.BeamSize)
	assert.Equal(t, "en", calls[0].Options.Language)
	assert.Equal(t, staging.DefaultExtension, filepath.Ext(calls[0].Path))
	assert.Empty(t, f.stagedFiles(t))
}

func TestTranscribeRejectsBeforeStaging(t *testing.T) {
	f := newFixture(t, consultation())

	_, err := f.svc.Transcribe(context.Background(), transcription.Request{
		Mode:        transcription.ModeFull,
		Audio:       []byte("PNG"),
		ContentType: "image/png",
	})
	var ve *transcription.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "unsupported file type: image/png", err.Error())
	assert.Empty(t, f.backend.Calls())
	assert.Equal(t, uint64(1), f.metrics.Snapshot().Rejected)
}

func TestTranscribeSizeMessagePerMode(t *testing.T) {
	f := newFixture(t, consultation())
	big := make([]byte, 30*1024*1024)

	_, err := f.svc.Transcribe(context.Background(), transcription.Request{
		Mode: transcription.ModeFull, Audio: big, ContentType: "audio/mpeg",
	})
	assert.EqualError(t, err, "file too large: 30.00MB (max: 25MB)")

	_, err = f.svc.Transcribe(context.Background(), transcription.Request{
		Mode: transcription.ModeStreaming, Audio: big, ContentType: "audio/mpeg",
	})
	assert.EqualError(t, err, "file too large: 30.00MB")
	assert.Empty(t, f.backend.Calls())
	assert.Empty(t, f.stagedFiles(t))
}

func TestTranscribeUnavailable(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Transcribe(context.Background(), transcription.Request{
		Mode: transcription.ModeFull, Audio: []byte("x"), ContentType: "image/png",
	})
	assert.ErrorIs(t, err, transcription.ErrServiceUnavailable)
	assert.Empty(t, f.stagedFiles(t))
	assert.Equal(t, uint64(1), f.metrics.Snapshot().Unavailable)
}

func TestTranscribeEngineFailureReleasesFile(t *testing.T) {
	backend := consultation()
	backend.Err = errors.New("unsupported codec")
	f := newFixture(t, backend)

	_, err := f.svc.Transcribe(context.Background(), transcription.Request{
		Mode: transcription.ModeFull, Audio: []byte("x"), ContentType: "audio/webm",
	})
	var ee *transcription.EngineError
	require.True(t, errors.As(err, &ee))
	assert.EqualError(t, err, "unsupported codec")
	assert.Empty(t, f.stagedFiles(t))
	assert.Equal(t, uint64(1), f.metrics.Snapshot().Failed)
}

func TestTranscribeDrainFailureReleasesFile(t *testing.T) {
	backend := consultation()
	backend.NextErr = errors.New("decoder crashed")
	f := newFixture(t, backend)

	_, err := f.svc.Transcribe(context.Background(), transcription.Request{
		Mode: transcription.ModeStreaming, Audio: []byte("x"), ContentType: "audio/webm",
	})
	var ee *transcription.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Empty(t, f.stagedFiles(t))
	assert.Zero(t, backend.Active())
	assert.Equal(t, 1, backend.ClosedTranscriptions())
}

func TestTranscribeStagingFailure(t *testing.T) {
	f := newFixture(t, consultation())
	require.NoError(t, os.RemoveAll(f.stager.Dir()))

	_, err := f.svc.Transcribe(context.Background(), transcription.Request{
		Mode: transcription.ModeFull, Audio: []byte("x"), ContentType: "audio/wav",
	})
	var se *transcription.StagingError
	require.True(t, errors.As(err, &se))
	assert.Empty(t, f.backend.Calls())
}

func TestTranscribeConcurrentRequestsSerialised(t *testing.T) {
	backend := consultation()
	backend.Delay = 5 * time.Millisecond
	f := newFixture(t, backend)

	const n = 6
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Transcribe(context.Background(), transcription.Request{
				ID:          fmt.Sprintf("req-%d", i),
				Mode:        transcription.ModeFull,
				Audio:       []byte("x"),
				ContentType: "audio/wav",
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, 1, backend.MaxActive())
	assert.Len(t, backend.Calls(), n)
	assert.Empty(t, f.stagedFiles(t))
	assert.Equal(t, uint64(n), f.metrics.Snapshot().Completed)
}

func TestTranscribeAbandonedWhileQueued(t *testing.T) {
	backend := consultation()
	backend.Delay = 200 * time.Millisecond
	f := newFixture(t, backend)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.svc.Transcribe(context.Background(), transcription.Request{
			Mode: transcription.ModeFull, Audio: []byte("x"), ContentType: "audio/wav",
		})
	}()
	require.Eventually(t, func() bool { return len(backend.Calls()) == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.svc.Transcribe(ctx, transcription.Request{
		Mode: transcription.ModeFull, Audio: []byte("x"), ContentType: "audio/wav",
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	<-done
	assert.Empty(t, f.stagedFiles(t))
}
