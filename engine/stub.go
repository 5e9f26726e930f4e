package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bosley/medscribe/audio"
)

const (
	stubSegmentSeconds = 5.0
	// Raw byte rate of 16kHz mono PCM16, used when the file is not a WAV.
	stubBytesPerSecond = 32000
	stubLanguage       = "pt"
)

// StubBackend produces deterministic segments without running a model.
type StubBackend struct {
	log   *slog.Logger
	model string
}

// NewStubBackend returns a Backend that describes the audio it receives.
func NewStubBackend(logger *slog.Logger, model string) *StubBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubBackend{
		log:   logger.With("component", "engine.stub", "model", model),
		model: model,
	}
}

func (e *StubBackend) Name() string { return "stub" }

func (e *StubBackend) Close() error { return nil }

// Transcribe emits one segment per five seconds of audio.
func (e *StubBackend) Transcribe(path string, opts Options) (Transcription, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stub: %w", err)
	}
	if stat.Size() == 0 {
		return nil, errors.New("stub: empty audio")
	}

	seconds := float64(stat.Size()) / stubBytesPerSecond
	if d, err := audio.Probe(path); err == nil {
		seconds = d.Seconds()
	}

	info := Info{Language: opts.Language, LanguageProbability: 1, Duration: seconds}
	if info.Language == "" || strings.EqualFold(info.Language, "auto") {
		info.Language = stubLanguage
		info.LanguageProbability = 0.42
	}

	var segments []Segment
	for start, i := 0.0, 1; start < seconds; start, i = start+stubSegmentSeconds, i+1 {
		end := start + stubSegmentSeconds
		if end > seconds {
			end = seconds
		}
		segments = append(segments, Segment{
			Start: start,
			End:   end,
			Text:  fmt.Sprintf(" [stub:%s] segment %d.", e.model, i),
		})
	}
	e.log.Debug("stub transcript", "bytes", stat.Size(), "segments", len(segments), "beam_size", opts.BeamSize)
	return &sliceTranscription{segments: segments, info: info}, nil
}

type sliceTranscription struct {
	segments []Segment
	pos      int
	info     Info
}

func (t *sliceTranscription) Next() (Segment, error) {
	if t.pos >= len(t.segments) {
		return Segment{}, io.EOF
	}
	seg := t.segments[t.pos]
	t.pos++
	return seg, nil
}

func (t *sliceTranscription) Info() Info { return t.info }

func (t *sliceTranscription) Close() error { return nil }
