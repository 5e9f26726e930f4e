// Package staging writes uploaded audio to uniquely named files whose lifetime
// is scoped to one request.
package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	filePrefix = "upload-"
	// DefaultExtension is used when the original filename carries none.
	DefaultExtension = ".webm"
	maxExtensionLen  = 10
)

// Manager owns the staging directory.
type Manager struct {
	dir string
	log *slog.Logger
}

// New creates dir if needed and removes files left behind by a previous
// process.
func New(dir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("staging: create directory: %w", err)
	}
	m := &Manager{
		dir: dir,
		log: logger.With("component", "staging", "dir", dir),
	}
	if n, err := m.Sweep(); err != nil {
		m.log.Warn("failed to sweep staging directory", "error", err)
	} else if n > 0 {
		m.log.Info("removed orphaned staged files", "count", n)
	}
	return m, nil
}

func (m *Manager) Dir() string { return m.dir }

// Stage writes data to a new file with the given extension and returns once
// every byte is on disk. The caller must Release the returned File.
func (m *Manager) Stage(data []byte, ext string) (*File, error) {
	ext = SafeExtension(ext)
	path := filepath.Join(m.dir, filePrefix+uuid.NewString()+ext)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("staging: create %s: %w", path, err)
	}
	n, err := f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			m.log.Warn("failed to remove partial staged file", "error", rerr, "path", path)
		}
		return nil, fmt.Errorf("staging: write %s: %w", path, err)
	}

	m.log.Debug("staged upload", "path", path, "bytes", n)
	return &File{Path: path, Size: int64(n), log: m.log}, nil
}

// Sweep removes every staged file currently in the directory, including
// derived files such as resampled copies.
func (m *Manager) Sweep() (int, error) {
	matches, err := filepath.Glob(filepath.Join(m.dir, filePrefix+"*"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				m.log.Warn("failed to remove orphaned file", "error", err, "path", path)
			}
			continue
		}
		removed++
	}
	return removed, nil
}

// SafeExtension returns ext when it is a short alphanumeric extension and
// DefaultExtension otherwise.
func SafeExtension(ext string) string {
	if len(ext) < 2 || len(ext) > maxExtensionLen || ext[0] != '.' {
		return DefaultExtension
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return DefaultExtension
		}
	}
	return strings.ToLower(ext)
}

// File is a staged upload. Release deletes it; further calls are no-ops.
type File struct {
	Path string
	Size int64

	log  *slog.Logger
	once sync.Once
}

// Release removes the file. Failures are logged and never returned so they
// cannot replace the outcome of the request.
func (f *File) Release() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		err := os.Remove(f.Path)
		switch {
		case err == nil:
			f.log.Debug("staged file removed", "path", f.Path)
		case errors.Is(err, fs.ErrNotExist):
			f.log.Warn("staged file already gone", "path", f.Path)
		default:
			f.log.Warn("failed to remove staged file", "error", err, "path", f.Path)
		}
	})
}
