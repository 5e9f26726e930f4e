package audio

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/youpy/go-wav"
)

const (
	whisperSampleRate = 16000 // Rate required by Whisper
	channels          = 1     // Mono audio
)

// WhisperPath returns the path the resampled copy of inputPath is written to.
func WhisperPath(inputPath string) string {
	return strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + "_whisper.wav"
}

// ResampleForWhisper converts any container ffmpeg understands into a 16kHz
// mono PCM WAV next to the input. The input is left in place.
func ResampleForWhisper(ffmpegPath, inputPath string) (string, error) {
	outputPath := WhisperPath(inputPath)

	cmd := exec.Command(ffmpegPath,
		"-nostdin",
		"-loglevel", "error",
		"-i", inputPath,
		"-ar", fmt.Sprintf("%d", whisperSampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		"-c:a", "pcm_s16le",
		"-y", // Overwrite output file
		outputPath)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outputPath)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("failed to resample audio: %w: %s", err, msg)
		}
		return "", fmt.Errorf("failed to resample audio: %w", err)
	}

	return outputPath, nil
}

// Probe returns the playback length of a WAV file.
func Probe(path string) (time.Duration, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open wav: %w", err)
	}
	defer file.Close()

	reader := wav.NewReader(file)
	if _, err := reader.Format(); err != nil {
		return 0, fmt.Errorf("failed to read wav format: %w", err)
	}
	d, err := reader.Duration()
	if err != nil {
		return 0, fmt.Errorf("failed to read wav duration: %w", err)
	}
	return d, nil
}
