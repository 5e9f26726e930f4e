package transcription

import (
	"mime"
	"slices"
	"strings"
)

const (
	// MaxUploadMB matches the upload ceiling of the hosted Whisper API.
	MaxUploadMB    = 25
	MaxUploadBytes = MaxUploadMB * 1024 * 1024
)

var allowedContentTypes = []string{"audio/mpeg", "audio/wav", "audio/mp4", "audio/ogg", "audio/webm"}

// AllowedContentTypes lists the accepted media types.
func AllowedContentTypes() []string {
	return slices.Clone(allowedContentTypes)
}

// NormalizeContentType strips parameters such as codecs from a media type.
func NormalizeContentType(contentType string) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// Validate checks the declared content type and payload size. It performs no
// I/O.
func Validate(contentType string, size int) error {
	if !slices.Contains(allowedContentTypes, NormalizeContentType(contentType)) {
		return &ValidationError{Rejection: RejectContentType, ContentType: contentType}
	}
	if sizeMB := float64(size) / (1024 * 1024); sizeMB > MaxUploadMB {
		return &ValidationError{Rejection: RejectSize, ContentType: contentType, SizeMB: sizeMB}
	}
	return nil
}
