package interaction

import "net/http"

// ConnectResponse is returned to contact-center flows. Field names follow
// the flow's attribute naming.
type ConnectResponse struct {
	StatusCode      int     `json:"statusCode"`
	AgentResponse   string  `json:"agentResponse"`
	AudioURL        *string `json:"audioUrl"`
	SessionID       string  `json:"sessionId,omitempty"`
	DID             string  `json:"did,omitempty"`
	ClinicName      string  `json:"clinicName,omitempty"`
	RequiresHandoff bool    `json:"requiresHandoff"`
	Error           string  `json:"error,omitempty"`
}

// Envelope is returned to API and text callers.
type Envelope struct {
	TranscribedText *string `json:"transcribed_text,omitempty"`
	UserInput       *string `json:"user_input,omitempty"`
	AgentResponse   string  `json:"agent_response"`
	AudioURL        *string `json:"audio_url"`
	AudioBase64     *string `json:"audio_base64"`
	SessionID       string  `json:"session_id,omitempty"`
	DID             string  `json:"did,omitempty"`
	ClinicName      string  `json:"clinic_name,omitempty"`
	VoiceID         string  `json:"voice_id,omitempty"`
	RequiresHandoff bool    `json:"requires_handoff,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// Response is what the orchestrator hands back to a transport. Exactly one
// of Connect or Envelope is set.
type Response struct {
	StatusCode int
	Source     Source
	Connect    *ConnectResponse
	Envelope   *Envelope
}

// Body returns the shape that should be serialized for the caller.
func (r *Response) Body() any {
	if r.Connect != nil {
		return r.Connect
	}
	return r.Envelope
}

// OK reports whether the interaction was handled (possibly degraded).
func (r *Response) OK() bool { return r.StatusCode == http.StatusOK }

// Degraded builds the uniform fault response. The connect shape is used
// when the source is known to be a contact-center flow; every other case,
// including an unknown source, gets the envelope.
func Degraded(source Source, text, errMsg string) *Response {
	resp := &Response{StatusCode: http.StatusInternalServerError, Source: source}
	if source == SourceConnect {
		resp.Connect = &ConnectResponse{
			StatusCode:    http.StatusInternalServerError,
			AgentResponse: text,
			Error:         errMsg,
		}
		return resp
	}
	resp.Envelope = &Envelope{
		AgentResponse: text,
		Error:         errMsg,
	}
	return resp
}
