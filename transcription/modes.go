package transcription

import (
	"strings"

	"github.com/bosley/medscribe/engine"
)

// DefaultLanguage is used when the caller does not name one.
const DefaultLanguage = "pt"

// MedicalPrompt primes the decoder with vocabulary common in Portuguese
// medical consultations.
const MedicalPrompt = "Este é um atendimento médico. " +
	"Termos médicos comuns: paciente, sintomas, diagnóstico, prescrição, " +
	"hipertensão, diabetes, cefaleia, dispneia, febre, dor, exame, " +
	"hemograma, raio-x, ultrassom, tomografia, ressonância, " +
	"amoxicilina, paracetamol, ibuprofeno, losartana, metformina."

// Mode selects a decoding preset.
type Mode int

const (
	// ModeFull favours quality and keeps per-segment timing.
	ModeFull Mode = iota
	// ModeStreaming favours latency and returns text only.
	ModeStreaming
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

type preset struct {
	beamSize      int
	vadFilter     bool
	minSilenceMs  int
	defaultPrompt string
	usePrompt     bool
	keepSegments  bool
	hideSizeLimit bool
}

var presets = map[Mode]preset{
	ModeFull: {
		beamSize:      5,
		vadFilter:     true,
		minSilenceMs:  500,
		defaultPrompt: MedicalPrompt,
		usePrompt:     true,
		keepSegments:  true,
	},
	ModeStreaming: {
		beamSize:      3,
		vadFilter:     true,
		hideSizeLimit: true,
	},
}

func (m Mode) preset() preset {
	if p, ok := presets[m]; ok {
		return p
	}
	return presets[ModeFull]
}

// Options builds the engine options for a request in this mode. Streaming
// mode never sends a prompt; full mode falls back to MedicalPrompt.
func (m Mode) Options(language, prompt string) engine.Options {
	p := m.preset()
	language = strings.TrimSpace(language)
	if language == "" {
		language = DefaultLanguage
	}
	opts := engine.Options{
		Language:             language,
		BeamSize:             p.beamSize,
		VADFilter:            p.vadFilter,
		MinSilenceDurationMs: p.minSilenceMs,
	}
	if p.usePrompt {
		opts.Prompt = strings.TrimSpace(prompt)
		if opts.Prompt == "" {
			opts.Prompt = p.defaultPrompt
		}
	}
	return opts
}
