package audio

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/book-expert/pronunciation-service/internal/core"
)

// Upload limits.
const (
	kilobyte = 1024
	megabyte = kilobyte * 1024

	// DefaultMaxUploadBytes bounds a single recording upload.
	DefaultMaxUploadBytes = 5 * megabyte
)

// File extensions keyed by accepted media type.
var contentTypeExtensions = map[string]string{
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/webm":  ".webm",
	"audio/ogg":   ".ogg",
	"audio/mp4":   ".m4a",
	"audio/x-m4a": ".m4a",
}

// IsSupportedContentType reports whether a Content-Type header names an
// accepted recording type. Parameters such as codecs are ignored.
func IsSupportedContentType(contentType string) bool {
	mediaType := baseMediaType(contentType)
	_, ok := contentTypeExtensions[mediaType]

	return ok
}

// CheckUpload validates the declared type and size of an uploaded recording.
func CheckUpload(contentType string, size, limit int64) error {
	if size == 0 {
		return &core.ClientInputError{Err: core.ErrAudioEmpty}
	}

	if limit > 0 && size > limit {
		return &core.ClientInputError{Err: fmt.Errorf("%w: %d > %d bytes", core.ErrAudioTooLarge, size, limit)}
	}

	if !IsSupportedContentType(contentType) {
		return &core.ClientInputError{Err: fmt.Errorf("%w: %q", core.ErrUnsupportedAudio, contentType)}
	}

	return nil
}

// ExtensionFor picks a file extension for a recording, preferring the declared
// media type and falling back to the uploaded file name.
func ExtensionFor(contentType, filename string) string {
	if ext, ok := contentTypeExtensions[baseMediaType(contentType)]; ok {
		return ext
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || ext == "." {
		return ".bin"
	}

	return ext
}

// ContentTypeFor returns the media type to declare when uploading filename,
// or application/octet-stream for unknown extensions.
func ContentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".webm":
		return "audio/webm"
	case ".ogg", ".oga", ".opus":
		return "audio/ogg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

func baseMediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}

	return strings.ToLower(mediaType)
}
