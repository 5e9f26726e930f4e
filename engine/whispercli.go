package engine

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/bosley/medscribe/audio"
)

const maxSegmentLine = 1 << 20

var (
	segmentLine  = regexp.MustCompile(`^\[(\d{2,}):(\d{2}):(\d{2})\.(\d{3}) --> (\d{2,}):(\d{2}):(\d{2})\.(\d{3})\](.*)$`)
	detectedLine = regexp.MustCompile(`auto-detected language: ([a-z]{2,3}) \(p = ([0-9.]+)\)`)
)

// CLIConfig locates the whisper.cpp command-line binary and its inputs.
type CLIConfig struct {
	WhisperPath  string
	FFmpegPath   string
	ModelPath    string
	VADModelPath string
	Threads      int
	UseGPU       bool
}

// CLIBackend runs one whisper.cpp process per decode pass and parses the
// segments it prints on stdout as they appear.
type CLIBackend struct {
	cfg CLIConfig
	log *slog.Logger
}

// NewCLIBackend checks that the binaries and model file exist. It does not
// start a process.
func NewCLIBackend(cfg CLIConfig, logger *slog.Logger) (*CLIBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	whisperPath, err := exec.LookPath(cfg.WhisperPath)
	if err != nil {
		return nil, fmt.Errorf("engine: whisper executable %q: %w", cfg.WhisperPath, err)
	}
	ffmpegPath, err := exec.LookPath(cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("engine: ffmpeg executable %q: %w", cfg.FFmpegPath, err)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("engine: model file: %w", err)
	}
	if cfg.VADModelPath != "" {
		if _, err := os.Stat(cfg.VADModelPath); err != nil {
			return nil, fmt.Errorf("engine: vad model file: %w", err)
		}
	}
	cfg.WhisperPath = whisperPath
	cfg.FFmpegPath = ffmpegPath

	return &CLIBackend{
		cfg: cfg,
		log: logger.With("component", "engine.cli", "model_path", cfg.ModelPath),
	}, nil
}

func (b *CLIBackend) Name() string { return "whisper-cli" }

func (b *CLIBackend) Close() error { return nil }

// Transcribe resamples the file, starts whisper.cpp on the result and returns
// without waiting for the process to finish.
func (b *CLIBackend) Transcribe(path string, opts Options) (Transcription, error) {
	wavPath, err := audio.ResampleForWhisper(b.cfg.FFmpegPath, path)
	if err != nil {
		return nil, err
	}

	duration, err := audio.Probe(wavPath)
	if err != nil {
		removeQuietly(b.log, wavPath)
		return nil, err
	}

	cmd := exec.Command(b.cfg.WhisperPath, b.args(wavPath, opts)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		removeQuietly(b.log, wavPath)
		return nil, fmt.Errorf("whisper stdout: %w", err)
	}
	t := &cliTranscription{
		cmd:     cmd,
		wavPath: wavPath,
		log:     b.log,
		info: Info{
			Language:            opts.Language,
			LanguageProbability: 1,
			Duration:            duration.Seconds(),
		},
		autoDetect: opts.Language == "" || strings.EqualFold(opts.Language, "auto"),
	}
	cmd.Stderr = &t.stderr

	b.log.Debug("executing whisper command", "args", cmd.Args)

	if err := cmd.Start(); err != nil {
		removeQuietly(b.log, wavPath)
		return nil, fmt.Errorf("whisper execution failed: %w", err)
	}
	t.scanner = bufio.NewScanner(stdout)
	t.scanner.Buffer(make([]byte, 0, 64*1024), maxSegmentLine)
	return t, nil
}

func (b *CLIBackend) args(wavPath string, opts Options) []string {
	lang := strings.TrimSpace(opts.Language)
	if lang == "" {
		lang = "auto"
	}
	args := []string{
		"--model", b.cfg.ModelPath,
		"--file", wavPath,
		"--language", lang,
	}
	if opts.BeamSize > 0 {
		args = append(args, "--beam-size", strconv.Itoa(opts.BeamSize))
	}
	if b.cfg.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(b.cfg.Threads))
	}
	if !b.cfg.UseGPU {
		args = append(args, "--no-gpu")
	}
	if opts.Prompt != "" {
		args = append(args, "--prompt", opts.Prompt)
	}
	if opts.VADFilter && b.cfg.VADModelPath != "" {
		args = append(args, "--vad", "--vad-model", b.cfg.VADModelPath)
		if opts.MinSilenceDurationMs > 0 {
			args = append(args, "--vad-min-silence-duration-ms", strconv.Itoa(opts.MinSilenceDurationMs))
		}
	}
	return args
}

type cliTranscription struct {
	cmd        *exec.Cmd
	scanner    *bufio.Scanner
	stderr     bytes.Buffer
	wavPath    string
	log        *slog.Logger
	info       Info
	autoDetect bool

	done   bool
	waited bool
	err    error
	once   sync.Once
}

func (t *cliTranscription) Next() (Segment, error) {
	if t.done {
		if t.err != nil {
			return Segment{}, t.err
		}
		return Segment{}, io.EOF
	}

	for t.scanner.Scan() {
		if seg, ok := parseSegmentLine(t.scanner.Text()); ok {
			return seg, nil
		}
	}

	t.done = true
	scanErr := t.scanner.Err()
	waitErr := t.cmd.Wait()
	t.waited = true

	switch {
	case waitErr != nil:
		t.err = fmt.Errorf("whisper execution failed: %w%s", waitErr, stderrTail(t.stderr.String()))
	case scanErr != nil:
		t.err = fmt.Errorf("whisper output: %w", scanErr)
	default:
		if t.autoDetect {
			if lang, p, ok := parseDetectedLanguage(t.stderr.String()); ok {
				t.info.Language = lang
				t.info.LanguageProbability = p
			}
		}
		return Segment{}, io.EOF
	}
	return Segment{}, t.err
}

func (t *cliTranscription) Info() Info { return t.info }

// Close stops the process if the sequence was abandoned early and removes the
// resampled file.
func (t *cliTranscription) Close() error {
	t.once.Do(func() {
		if !t.waited {
			if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				t.log.Warn("failed to stop whisper process", "error", err)
			}
			t.cmd.Wait()
			t.waited = true
		}
		removeQuietly(t.log, t.wavPath)
	})
	return nil
}

func parseSegmentLine(line string) (Segment, bool) {
	m := segmentLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if m == nil {
		return Segment{}, false
	}
	return Segment{
		Start: timestamp(m[1:5]),
		End:   timestamp(m[5:9]),
		// whisper-cli separates the timestamp from the text with two spaces;
		// anything after that belongs to the segment.
		Text: strings.TrimPrefix(m[9], "  "),
	}, true
}

func timestamp(parts []string) float64 {
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	s, _ := strconv.Atoi(parts[2])
	ms, _ := strconv.Atoi(parts[3])
	return float64(h*3600+m*60+s) + float64(ms)/1000
}

func parseDetectedLanguage(stderr string) (string, float64, bool) {
	m := detectedLine.FindStringSubmatch(stderr)
	if m == nil {
		return "", 0, false
	}
	p, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return "", 0, false
	}
	return m[1], p, true
}

func stderrTail(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return ""
	}
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return ": " + strings.Join(lines, "; ")
}

func removeQuietly(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to remove resampled audio", "error", err, "path", path)
	}
}
