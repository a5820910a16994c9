// Package tts turns agent replies into speech and delivers the audio.
//
// A Synthesizer produces audio for a tenant voice. The Speaker synthesizes
// once per reply and hands the audio out in the requested delivery modes: a
// presigned URL to a stored copy, inline base64, or both. A failing mode is
// left empty without affecting the other one.
package tts

import (
	"context"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/nadzzz/voicedesk/internal/storage"
)

// Voice selects the speaker voice and engine tier (e.g. Polly "neural").
type Voice struct {
	ID     string
	Engine string
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	// Synthesize generates audio for text in the given voice.
	Synthesize(ctx context.Context, text string, voice Voice) (*SynthesizeResult, error)

	// Close releases any resources held by the synthesizer.
	Close() error
}

// SynthesizeResult holds the output of TTS synthesis.
type SynthesizeResult struct {
	// Audio is the encoded audio file (mp3, wav).
	Audio []byte

	// ContentType is the MIME type of the audio (e.g., "audio/mpeg").
	ContentType string

	// SampleRate is the audio sample rate in Hz (e.g., 22050).
	SampleRate int

	// Channels is the number of audio channels (typically 1).
	Channels int
}

// Mode is a set of delivery modes.
type Mode uint8

const (
	// ModeURL stores the audio and returns a presigned GET URL.
	ModeURL Mode = 1 << iota
	// ModeInline returns the audio as base64.
	ModeInline
)

// Has reports whether m includes o.
func (m Mode) Has(o Mode) bool { return m&o != 0 }

// Delivery is the outcome of Speak. Audio is nil when synthesis failed. URL
// and Inline are nil when their mode was not requested or failed.
type Delivery struct {
	Audio       []byte
	ContentType string
	Key         string
	URL         *string
	Inline      *string
}

// Speaker synthesizes replies and delivers them.
type Speaker struct {
	synth Synthesizer
	store storage.Store
	ttl   time.Duration
}

// NewSpeaker creates a speaker. ttl bounds the lifetime of presigned URLs.
func NewSpeaker(synth Synthesizer, store storage.Store, ttl time.Duration) *Speaker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Speaker{synth: synth, store: store, ttl: ttl}
}

// Speak synthesizes text once and delivers it in the requested modes.
// Failures are logged and reflected as nil fields, never returned.
func (s *Speaker) Speak(ctx context.Context, sessionID, text string, voice Voice, mode Mode) Delivery {
	logger := slog.With("session_id", sessionID, "voice", voice.ID)

	res, err := s.synth.Synthesize(ctx, text, voice)
	if err != nil {
		logger.Error("speech synthesis failed, continuing without audio", "error", err)
		return Delivery{}
	}
	if len(res.Audio) == 0 {
		logger.Error("speech synthesis returned no audio")
		return Delivery{}
	}

	d := Delivery{Audio: res.Audio, ContentType: res.ContentType}

	if mode.Has(ModeInline) {
		enc := base64.StdEncoding.EncodeToString(res.Audio)
		d.Inline = &enc
	}

	if mode.Has(ModeURL) {
		d.Key, d.URL = s.publish(ctx, logger, sessionID, res)
	}

	logger.Debug("speech delivered",
		"audio_bytes", len(res.Audio),
		"url", d.URL != nil,
		"inline", d.Inline != nil,
	)
	return d
}

func (s *Speaker) publish(ctx context.Context, logger *slog.Logger, sessionID string, res *SynthesizeResult) (string, *string) {
	if s.store == nil {
		logger.Warn("no store configured, audio URL unavailable")
		return "", nil
	}

	key := storage.NewKey("speech", storage.ExtForContentType(res.ContentType))
	if _, err := s.store.Put(ctx, key, res.Audio, res.ContentType, storage.PutOpts{
		SessionID: sessionID,
		Kind:      storage.KindVoiceOutput,
	}); err != nil {
		logger.Error("storing speech failed", "key", key, "error", err)
		return "", nil
	}

	url, err := s.store.PresignGet(ctx, key, s.ttl)
	if err != nil {
		logger.Error("presigning speech URL failed", "key", key, "error", err)
		return key, nil
	}
	return key, &url
}
