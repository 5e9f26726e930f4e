package transcription

import (
	"errors"
	"fmt"
)

// ErrServiceUnavailable is returned for every request while the model is not
// loaded.
var ErrServiceUnavailable = errors.New("service unavailable: model not loaded")

// Rejection names the validation rule an upload failed.
type Rejection int

const (
	RejectContentType Rejection = iota
	RejectSize
)

// ValidationError is a client-caused rejection raised before any staging.
type ValidationError struct {
	Rejection   Rejection
	ContentType string
	SizeMB      float64
	// hideLimit drops the ceiling from the size message.
	hideLimit bool
}

func (e *ValidationError) Error() string {
	switch e.Rejection {
	case RejectContentType:
		return fmt.Sprintf("unsupported file type: %s", e.ContentType)
	case RejectSize:
		if e.hideLimit {
			return fmt.Sprintf("file too large: %.2fMB", e.SizeMB)
		}
		return fmt.Sprintf("file too large: %.2fMB (max: %dMB)", e.SizeMB, MaxUploadMB)
	default:
		return "invalid upload"
	}
}

// StagingError reports a filesystem failure while staging the upload.
type StagingError struct {
	Err error
}

func (e *StagingError) Error() string { return "staging audio: " + e.Err.Error() }

func (e *StagingError) Unwrap() error { return e.Err }

// EngineError reports a failure raised while decoding or draining segments.
type EngineError struct {
	Err error
}

func (e *EngineError) Error() string { return e.Err.Error() }

func (e *EngineError) Unwrap() error { return e.Err }
