package transcription

import (
	"errors"
	"io"
	"math"
	"strings"

	"github.com/bosley/medscribe/engine"
)

// Segment is one timed span of the response. Times are rounded to
// hundredths of a second and the text is trimmed.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the assembled response for one request.
type Result struct {
	Text                string
	Segments            []Segment
	Language            string
	LanguageProbability float64
	Duration            float64
	Model               string
}

// assemble drains t exactly once. Segment texts are concatenated without
// separators since the model already emits leading spaces.
func assemble(t engine.Transcription, keepSegments bool, onSegment func(Segment)) (*Result, int, error) {
	var (
		text     strings.Builder
		segments []Segment
		count    int
	)
	if keepSegments {
		segments = make([]Segment, 0)
	}

	for {
		seg, err := t.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, count, err
		}
		count++
		text.WriteString(seg.Text)

		out := Segment{
			Start: round(seg.Start, 2),
			End:   round(seg.End, 2),
			Text:  strings.TrimSpace(seg.Text),
		}
		if keepSegments {
			segments = append(segments, out)
		}
		if onSegment != nil {
			onSegment(out)
		}
	}

	info := t.Info()
	return &Result{
		Text:                strings.TrimSpace(text.String()),
		Segments:            segments,
		Language:            info.Language,
		LanguageProbability: round(info.LanguageProbability, 3),
		Duration:            round(info.Duration, 2),
	}, count, nil
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
