// Package storage defines the durable object store voicedesk keeps audio and
// interaction records in.
//
// Keys are always freshly generated with NewKey and never reused across
// calls, so concurrent interactions can never overwrite each other's audio.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Object kinds recorded in object metadata.
const (
	KindVoiceInput  = "voice-input"
	KindVoiceOutput = "voice-output"
	KindTranscript  = "transcript"
)

// PutOpts carries optional object metadata.
type PutOpts struct {
	SessionID string
	Kind      string
}

// Store is the put/get/presign contract every backend implements.
type Store interface {
	// Put writes data under key and returns a locator other services can
	// read the object from (e.g. "s3://bucket/key").
	Put(ctx context.Context, key string, data []byte, contentType string, opts PutOpts) (string, error)

	// Get reads the object stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// PresignGet returns a URL that allows anonymous GET of key until ttl expires.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// NewKey returns "<prefix>/<uuid>-<utc timestamp>.<ext>".
func NewKey(prefix, ext string) string {
	return NewKeyAt(prefix, ext, time.Now())
}

// NewKeyAt is NewKey with an explicit timestamp.
func NewKeyAt(prefix, ext string, now time.Time) string {
	prefix = strings.Trim(prefix, "/")
	ext = strings.TrimPrefix(ext, ".")
	name := fmt.Sprintf("%s-%s", uuid.NewString(), now.UTC().Format("20060102T150405Z"))
	if ext != "" {
		name += "." + ext
	}
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// KeyFromLocator extracts the object key from an "s3://bucket/key" locator.
// Anything that is not an s3 locator is returned unchanged.
func KeyFromLocator(locator string) string {
	rest, ok := strings.CutPrefix(locator, "s3://")
	if !ok {
		return locator
	}
	if _, key, found := strings.Cut(rest, "/"); found {
		return key
	}
	return ""
}

// NormalizeFormat maps a caller-supplied audio format to a known container
// name. Anything unrecognized becomes "wav", so the result is always safe to
// use as a key extension or an engine media format.
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	switch f {
	case "mp3", "mp4", "m4a", "wav", "flac", "ogg", "amr", "webm":
		return f
	case "mpeg":
		return "mp3"
	case "ogg_vorbis":
		return "ogg"
	default:
		return "wav"
	}
}

// ContentTypeForFormat maps an audio container name to its MIME type.
func ContentTypeForFormat(format string) string {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "mp3", "mpeg":
		return "audio/mpeg"
	case "ogg", "ogg_vorbis":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "webm":
		return "audio/webm"
	case "mp4", "m4a":
		return "audio/mp4"
	case "pcm":
		return "audio/pcm"
	case "amr":
		return "audio/amr"
	default:
		return "audio/wav"
	}
}

// ExtForContentType is the reverse of ContentTypeForFormat for the formats
// voicedesk produces.
func ExtForContentType(contentType string) string {
	switch contentType {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/ogg":
		return "ogg"
	case "audio/pcm":
		return "pcm"
	case "application/json":
		return "json"
	default:
		return "wav"
	}
}
