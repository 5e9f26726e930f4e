package transcription

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/medscribe/engine"
	"github.com/bosley/medscribe/engine/enginetest"
)

func decode(t *testing.T, b *enginetest.Backend) engine.Transcription {
	t.Helper()
	tr, err := b.Transcribe(t.TempDir(), engine.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestAssembleConcatenatesAndRounds(t *testing.T) {
	b := &enginetest.Backend{
		Segments: []engine.Segment{
			{Start: 0, End: 2.3456, Text: " Paciente relata"},
			{Start: 2.3456, End: 4.999, Text: " dor de cabeça. "},
		},
		Info: engine.Info{Language: "pt", LanguageProbability: 0.98765, Duration: 5.004},
	}

	var seen []Segment
	res, count, err := assemble(decode(t, b), true, func(s Segment) { seen = append(seen, s) })
	require.NoError(t, err)

	assert.Equal(t, 2, count)
	assert.Equal(t, "Paciente relata dor de cabeça.", res.Text)
	assert.Equal(t, []Segment{
		{Start: 0, End: 2.35, Text: "Paciente relata"},
		{Start: 2.35, End: 5, Text: "dor de cabeça."},
	}, res.Segments)
	assert.Equal(t, res.Segments, seen)
	assert.Equal(t, "pt", res.Language)
	assert.Equal(t, 0.988, res.LanguageProbability)
	assert.Equal(t, 5.0, res.Duration)
}

func TestAssembleWithoutSegments(t *testing.T) {
	b := &enginetest.Backend{Segments: []engine.Segment{{Start: 0, End: 1, Text: " olá"}}}
	res, count, err := assemble(decode(t, b), false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "olá", res.Text)
	assert.Nil(t, res.Segments)
}

func TestAssembleSilence(t *testing.T) {
	res, count, err := assemble(decode(t, &enginetest.Backend{}), true, nil)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, res.Text)
	assert.NotNil(t, res.Segments)
	assert.Empty(t, res.Segments)
}

func TestAssemblePropagatesDrainError(t *testing.T) {
	drainErr := errors.New("decoder crashed")
	b := &enginetest.Backend{
		Segments: []engine.Segment{{Text: " a"}},
		NextErr:  drainErr,
	}
	_, count, err := assemble(decode(t, b), true, nil)
	assert.ErrorIs(t, err, drainErr)
	assert.Equal(t, 1, count)
}
