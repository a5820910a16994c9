package interaction

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned by Classify when a payload cannot be decoded into
// any of the accepted shapes.
var ErrMalformed = errors.New("malformed interaction payload")

// Event is one of ConnectEvent, AudioEvent, or TextEvent.
type Event interface {
	Source() Source
	isEvent()
}

// ConnectEvent is the contact-center flow invocation payload.
type ConnectEvent struct {
	Details ConnectDetails `json:"Details"`
}

// ConnectDetails is the nested call-detail block of a ConnectEvent.
type ConnectDetails struct {
	ContactData ContactData       `json:"ContactData"`
	Parameters  map[string]string `json:"Parameters,omitempty"`
}

// ContactData carries the call metadata, including the dialed number.
type ContactData struct {
	ContactID        string   `json:"ContactId"`
	InitialContactID string   `json:"InitialContactId,omitempty"`
	Channel          string   `json:"Channel,omitempty"`
	SystemEndpoint   Endpoint `json:"SystemEndpoint"`
	CustomerEndpoint Endpoint `json:"CustomerEndpoint"`
}

// Endpoint is a phone-number style address.
type Endpoint struct {
	Address string `json:"Address"`
	Type    string `json:"Type,omitempty"`
}

// DialedNumber returns the number the caller dialed.
func (e ConnectEvent) DialedNumber() string { return e.Details.ContactData.SystemEndpoint.Address }

// ContactID returns the contact identifier of the call.
func (e ConnectEvent) ContactID() string { return e.Details.ContactData.ContactID }

// UserInput returns the flow's text parameter (DTMF or lex-captured text).
func (e ConnectEvent) UserInput() string { return e.Details.Parameters["userInput"] }

// AudioURL returns the recorded-audio locator parameter, if the flow captured one.
func (e ConnectEvent) AudioURL() string { return e.Details.Parameters["audioUrl"] }

// AudioEvent is the direct API payload carrying inline audio.
type AudioEvent struct {
	AudioData   string `json:"audio_data"`
	DID         string `json:"did,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	AudioFormat string `json:"audio_format,omitempty"`

	audio []byte
}

// Audio returns the decoded audio bytes.
func (e AudioEvent) Audio() []byte { return e.audio }

// TextEvent is the text-only payload.
type TextEvent struct {
	Text      string `json:"text,omitempty"`
	InputText string `json:"inputText,omitempty"`
	DID       string `json:"did,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Input returns text, falling back to inputText.
func (e TextEvent) Input() string {
	if e.Text != "" {
		return e.Text
	}
	return e.InputText
}

func (ConnectEvent) Source() Source { return SourceConnect }
func (AudioEvent) Source() Source   { return SourceAudio }
func (TextEvent) Source() Source    { return SourceText }

func (ConnectEvent) isEvent() {}
func (AudioEvent) isEvent()   {}
func (TextEvent) isEvent()    {}

// NewAudioEvent builds an AudioEvent from raw bytes, as the HTTP transport
// does for non-JSON uploads.
func NewAudioEvent(audio []byte, did, sessionID, format string) AudioEvent {
	return AudioEvent{
		AudioData:   base64.StdEncoding.EncodeToString(audio),
		DID:         did,
		SessionID:   sessionID,
		AudioFormat: format,
		audio:       audio,
	}
}

// Classify decodes a raw payload into its event shape. The first matching
// rule wins: a nested Details.ContactData block means a contact-center
// event, a non-empty audio_data field means a direct audio call, and
// anything else is a text call.
func Classify(raw []byte) (Event, error) {
	var probe struct {
		Details *struct {
			ContactData json.RawMessage `json:"ContactData"`
		} `json:"Details"`
		AudioData *string `json:"audio_data"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case probe.Details != nil && len(probe.Details.ContactData) > 0 && string(probe.Details.ContactData) != "null":
		var ev ConnectEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("%w: connect event: %v", ErrMalformed, err)
		}
		return ev, nil

	case probe.AudioData != nil && strings.TrimSpace(*probe.AudioData) != "":
		var ev AudioEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("%w: audio event: %v", ErrMalformed, err)
		}
		audio, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ev.AudioData))
		if err != nil {
			return nil, fmt.Errorf("%w: audio_data is not base64: %v", ErrMalformed, err)
		}
		ev.audio = audio
		return ev, nil

	default:
		var ev TextEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("%w: text event: %v", ErrMalformed, err)
		}
		return ev, nil
	}
}
