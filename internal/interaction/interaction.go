// Package interaction defines the data types flowing through the voicedesk
// pipeline: the three inbound event shapes, the normalized request the
// orchestrator works on, and the two outbound response shapes.
package interaction

// Source identifies which entry shape an interaction arrived in.
type Source string

const (
	// SourceConnect is a contact-center (Amazon Connect) flow invocation.
	SourceConnect Source = "connect"

	// SourceAudio is a direct API call carrying base64 audio.
	SourceAudio Source = "direct"

	// SourceText is a text-only call (chat widgets, telephony webhooks, tests).
	SourceText Source = "text"
)

// Request is the normalized, call-scoped form every event is reduced to.
// After normalization exactly one of Text, Audio, or AudioURL is set.
type Request struct {
	Source Source

	// TenantKey is the resolved DID; never empty.
	TenantKey string

	// SessionID correlates all turns of one physical call.
	SessionID string

	// Text is the caller's utterance when no audio was supplied.
	Text string

	// Audio holds raw audio bytes; AudioFormat is its container ("wav", "mp3").
	Audio       []byte
	AudioFormat string

	// AudioURL is a locator the transcription engine can read directly.
	AudioURL string
}

// HasAudio returns true if the request needs transcription.
func (r *Request) HasAudio() bool {
	return len(r.Audio) > 0 || r.AudioURL != ""
}
