// Package engine wraps the speech-recognition model behind a narrow contract:
// one blocking Transcribe call that yields a lazy, single-pass sequence of
// timed segments plus detection metadata.
package engine

// Segment is one timed span of transcribed text. Times are in seconds from
// the start of the audio. Text keeps the leading space the model emits.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Info carries the metadata reported alongside the segments.
type Info struct {
	Language            string
	LanguageProbability float64
	Duration            float64
}

// Options configures a single decode pass.
type Options struct {
	Language string
	Prompt   string
	BeamSize int
	// VADFilter enables voice-activity filtering of non-speech regions.
	VADFilter            bool
	MinSilenceDurationMs int
}

// Transcription is a forward-only sequence of segments produced by a decode
// pass. Next returns io.EOF once the sequence is exhausted; it cannot be
// rewound. Info is final only after Next has returned io.EOF. Close releases
// the decode resources and must be called exactly once by the consumer.
type Transcription interface {
	Next() (Segment, error)
	Info() Info
	Close() error
}

// Backend is a loaded recognition model. Implementations are not required to
// be safe for concurrent use; Handle serialises access.
type Backend interface {
	Transcribe(path string, opts Options) (Transcription, error)
	Name() string
	Close() error
}
