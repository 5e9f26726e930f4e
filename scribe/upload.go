package scribe

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// Multipart field names
const (
	fieldAudio         = "audio"
	fieldLanguage      = "language"
	fieldInitialPrompt = "initial_prompt"
)

// maxFieldBytes bounds the text form fields.
const maxFieldBytes = 64 * 1024

type upload struct {
	Audio       []byte
	ContentType string
	Filename    string
	Language    string
	Prompt      string
}

// uploadError carries the status code a parsing failure is answered with.
type uploadError struct {
	status int
	detail string
}

func (e *uploadError) Error() string { return e.detail }

// readUpload streams the multipart body and keeps the audio part in memory.
// Parts other than the known fields are discarded.
func (s *Scribe) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	if s.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, &uploadError{status: http.StatusBadRequest, detail: "expected multipart/form-data body: " + err.Error()}
	}

	var (
		up       upload
		hasAudio bool
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, s.bodyError(err)
		}

		switch part.FormName() {
		case fieldAudio:
			data, err := io.ReadAll(part)
			if err != nil {
				part.Close()
				return nil, s.bodyError(err)
			}
			up.Audio = data
			up.ContentType = part.Header.Get("Content-Type")
			up.Filename = part.FileName()
			hasAudio = true
		case fieldLanguage:
			if up.Language, err = readField(part); err != nil {
				part.Close()
				return nil, s.bodyError(err)
			}
		case fieldInitialPrompt:
			if up.Prompt, err = readField(part); err != nil {
				part.Close()
				return nil, s.bodyError(err)
			}
		}
		part.Close()
	}

	if !hasAudio {
		return nil, &uploadError{status: http.StatusUnprocessableEntity, detail: "field required: audio"}
	}
	if up.Language == "" {
		up.Language = s.config.Language
	}
	return &up, nil
}

func readField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *Scribe) bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &uploadError{
			status: http.StatusRequestEntityTooLarge,
			detail: fmt.Sprintf("request body too large: max %.0fMB", float64(maxErr.Limit)/(1024*1024)),
		}
	}
	return &uploadError{status: http.StatusBadRequest, detail: "malformed multipart body: " + err.Error()}
}
