// Package orchestrator implements the interaction pipeline.
//
// Every inbound payload goes classify → resolve tenant → [transcribe] →
// converse → synthesize → respond. Each stage reports failure as an error
// value and the orchestrator substitutes the configured fallback, so a
// caller on a live phone line always gets an answer. Only a malformed
// payload or an unexpected panic produces a 500.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/nadzzz/voicedesk/internal/agent"
	"github.com/nadzzz/voicedesk/internal/config"
	"github.com/nadzzz/voicedesk/internal/interaction"
	"github.com/nadzzz/voicedesk/internal/record"
	"github.com/nadzzz/voicedesk/internal/tenant"
	"github.com/nadzzz/voicedesk/internal/transcribe"
	"github.com/nadzzz/voicedesk/internal/tts"
)

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, in transcribe.Input) (transcribe.Result, error)
}

// Conversation talks to the agent.
type Conversation interface {
	Converse(ctx context.Context, sessionID, tenantKey, text string) (agent.Turn, error)
}

// Speaker synthesizes and delivers replies.
type Speaker interface {
	Speak(ctx context.Context, sessionID, text string, voice tts.Voice, mode tts.Mode) tts.Delivery
}

// Recorder keeps interaction records.
type Recorder interface {
	Record(ctx context.Context, rec record.Record)
}

// Fallbacks are the canned strings substituted for failed stages.
type Fallbacks struct {
	// Utterance replaces a failed or timed-out transcription.
	Utterance string
	// DefaultReply replaces an empty agent reply.
	DefaultReply string
	// Apology replaces a failed agent call and is the body of 500 responses.
	Apology string
}

// FallbacksFromConfig collects the fallback strings from configuration.
func FallbacksFromConfig(cfg *config.Config) Fallbacks {
	return Fallbacks{
		Utterance:    cfg.Transcribe.FallbackText,
		DefaultReply: cfg.Agent.DefaultReply,
		Apology:      cfg.Agent.Apology,
	}
}

// Orchestrator is the central interaction engine.
type Orchestrator struct {
	tenants     *tenant.Resolver
	transcriber Transcriber
	agent       Conversation
	speaker     Speaker
	recorder    Recorder // nil disables records
	fallbacks   Fallbacks
	newCallID   func() string
}

// New creates an orchestrator. recorder may be nil.
func New(tenants *tenant.Resolver, transcriber Transcriber, conv Conversation, speaker Speaker, recorder Recorder, fb Fallbacks) *Orchestrator {
	if fb.Utterance == "" {
		fb.Utterance = "Hello"
	}
	return &Orchestrator{
		tenants:     tenants,
		transcriber: transcriber,
		agent:       conv,
		speaker:     speaker,
		recorder:    recorder,
		fallbacks:   fb,
		newCallID:   uuid.NewString,
	}
}

// state is what one interaction accumulated, kept for the record.
type state struct {
	source      interaction.Source
	req         interaction.Request
	profile     tenant.Profile
	input       string
	transcribed bool
	turn        agent.Turn
	reply       string
	delivery    tts.Delivery
	fallbacks   []string
}

// Handle processes one raw payload through the full pipeline. It never
// returns nil and never panics.
func (o *Orchestrator) Handle(ctx context.Context, raw []byte) (resp *interaction.Response) {
	start := time.Now()
	st := &state{}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("interaction panicked",
				"source", st.source,
				"session_id", st.req.SessionID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			resp = interaction.Degraded(st.source, o.fallbacks.Apology, fmt.Sprintf("internal error: %v", r))
		}
		o.record(ctx, st, resp, time.Since(start))
	}()

	// Step 1: Classify the payload.
	ev, err := interaction.Classify(raw)
	if err != nil {
		slog.Error("unclassifiable payload", "error", err, "bytes", len(raw))
		return interaction.Degraded("", o.fallbacks.Apology, err.Error())
	}
	st.source = ev.Source()

	// Step 2: Resolve the tenant and normalize.
	st.req, st.profile = o.normalize(ev)
	logger := slog.With("session_id", st.req.SessionID, "source", st.source, "did", st.profile.Key)
	logger.Info("interaction started", "clinic", st.profile.Name, "has_audio", st.req.HasAudio())

	// Step 3: Transcribe audio (if present).
	st.input = st.req.Text
	if st.req.HasAudio() {
		st.transcribed = true
		res, err := o.transcriber.Transcribe(ctx, transcribe.Input{
			Locator:   st.req.AudioURL,
			Audio:     st.req.Audio,
			Format:    st.req.AudioFormat,
			SessionID: st.req.SessionID,
		})
		switch {
		case err != nil:
			logger.Warn("transcription failed, using fallback utterance", "error", err, "job", res.Job.Name, "status", res.Job.Status)
			st.input = o.fallbacks.Utterance
			st.fallbacks = append(st.fallbacks, "transcription")
		case res.Text == "":
			logger.Warn("transcription was empty, using fallback utterance", "job", res.Job.Name)
			st.input = o.fallbacks.Utterance
			st.fallbacks = append(st.fallbacks, "transcription")
		default:
			st.input = res.Text
			logger.Info("transcription complete", "job", res.Job.Name, "text_length", len(res.Text))
		}
	}
	if st.input == "" {
		st.input = o.fallbacks.Utterance
	}

	// Step 4: Converse with the agent.
	st.turn, err = o.agent.Converse(ctx, st.req.SessionID, st.profile.Key, st.input)
	st.reply = st.turn.Text
	switch {
	case errors.Is(err, agent.ErrEmptyReply):
		logger.Warn("agent reply was empty, using default reply")
		st.reply = o.fallbacks.DefaultReply
		st.fallbacks = append(st.fallbacks, "empty_reply")
	case err != nil:
		logger.Error("agent call failed, apologizing", "error", err)
		st.reply = o.fallbacks.Apology
		st.turn.Handoff = true
		st.fallbacks = append(st.fallbacks, "agent")
	default:
		logger.Info("agent replied", "fragments", len(st.turn.Fragments), "handoff", st.turn.Handoff)
	}

	// Step 5: Synthesize the reply.
	mode := tts.ModeURL | tts.ModeInline
	if st.source == interaction.SourceConnect {
		mode = tts.ModeURL
	}
	st.delivery = o.speaker.Speak(ctx, st.req.SessionID, st.reply, tts.Voice{ID: st.profile.VoiceID, Engine: st.profile.Engine}, mode)

	// Step 6: Shape the response.
	resp = o.respond(st)
	logger.Info("interaction complete", "duration", time.Since(start), "audio", st.delivery.Audio != nil)
	return resp
}

// normalize reduces an event to a Request for its resolved tenant.
func (o *Orchestrator) normalize(ev interaction.Event) (interaction.Request, tenant.Profile) {
	req := interaction.Request{Source: ev.Source()}
	var did, session, callID string

	switch e := ev.(type) {
	case interaction.ConnectEvent:
		did = e.DialedNumber()
		callID = e.ContactID()
		if url := e.AudioURL(); url != "" {
			req.AudioURL = url
			req.AudioFormat = "wav"
		} else {
			req.Text = e.UserInput()
		}
	case interaction.AudioEvent:
		did, session = e.DID, e.SessionID
		req.Audio = e.Audio()
		req.AudioFormat = e.AudioFormat
		if req.AudioFormat == "" {
			req.AudioFormat = "wav"
		}
	case interaction.TextEvent:
		did, session = e.DID, e.SessionID
		req.Text = e.Input()
	}

	profile := o.tenants.Resolve(did)
	req.TenantKey = profile.Key

	switch {
	case session != "":
		req.SessionID = session
	case callID != "":
		req.SessionID = agent.SessionID(string(req.Source), profile.Key, callID)
	default:
		req.SessionID = agent.SessionID(string(req.Source), profile.Key, o.newCallID())
	}
	return req, profile
}

func (o *Orchestrator) respond(st *state) *interaction.Response {
	if st.source == interaction.SourceConnect {
		return &interaction.Response{
			StatusCode: http.StatusOK,
			Source:     st.source,
			Connect: &interaction.ConnectResponse{
				StatusCode:      http.StatusOK,
				AgentResponse:   st.reply,
				AudioURL:        st.delivery.URL,
				SessionID:       st.req.SessionID,
				DID:             st.profile.Key,
				ClinicName:      st.profile.Name,
				RequiresHandoff: st.turn.Handoff,
			},
		}
	}

	env := &interaction.Envelope{
		AgentResponse:   st.reply,
		AudioURL:        st.delivery.URL,
		AudioBase64:     st.delivery.Inline,
		SessionID:       st.req.SessionID,
		DID:             st.profile.Key,
		ClinicName:      st.profile.Name,
		VoiceID:         st.profile.VoiceID,
		RequiresHandoff: st.turn.Handoff,
	}
	input := st.input
	if st.transcribed {
		env.TranscribedText = &input
	} else {
		env.UserInput = &input
	}
	return &interaction.Response{StatusCode: http.StatusOK, Source: st.source, Envelope: env}
}

func (o *Orchestrator) record(ctx context.Context, st *state, resp *interaction.Response, took time.Duration) {
	if o.recorder == nil || resp == nil {
		return
	}
	rec := record.Record{
		SessionID:   st.req.SessionID,
		Source:      string(st.source),
		DID:         st.profile.Key,
		Clinic:      st.profile.Name,
		Input:       st.input,
		Transcribed: st.transcribed,
		Reply:       st.reply,
		Handoff:     st.turn.Handoff,
		AudioURL:    st.delivery.URL != nil,
		AudioInline: st.delivery.Inline != nil,
		Fallbacks:   st.fallbacks,
		Status:      resp.StatusCode,
		Duration:    took,
		At:          time.Now(),
	}
	if resp.Connect != nil {
		rec.Error = resp.Connect.Error
	} else if resp.Envelope != nil {
		rec.Error = resp.Envelope.Error
	}
	o.recorder.Record(ctx, rec)
}
