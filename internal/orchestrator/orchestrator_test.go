package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nadzzz/voicedesk/internal/agent"
	"github.com/nadzzz/voicedesk/internal/config"
	"github.com/nadzzz/voicedesk/internal/interaction"
	"github.com/nadzzz/voicedesk/internal/record"
	"github.com/nadzzz/voicedesk/internal/tenant"
	"github.com/nadzzz/voicedesk/internal/transcribe"
	"github.com/nadzzz/voicedesk/internal/tts"
)

const (
	apology      = "I'm sorry, I'm having trouble processing your request right now. Let me transfer you to a human representative."
	defaultReply = "I'm here to help you with your appointment needs."
)

// --- fakes ---

type fakeTranscriber struct {
	inputs []transcribe.Input
	text   string
	err    error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, in transcribe.Input) (transcribe.Result, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return transcribe.Result{Job: transcribe.Job{Name: "transcribe-x", Status: transcribe.StatusTimedOut}}, f.err
	}
	return transcribe.Result{Text: f.text, Job: transcribe.Job{Name: "transcribe-x", Status: transcribe.StatusCompleted}}, nil
}

type fakeStream struct {
	frags []agent.Fragment
	pos   int
}

func (s *fakeStream) Next(ctx context.Context) (agent.Fragment, error) {
	if s.pos >= len(s.frags) {
		return agent.Fragment{}, io.EOF
	}
	f := s.frags[s.pos]
	s.pos++
	return f, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeRuntime struct {
	invocations []agent.Invocation
	reply       []string
	err         error
}

func (r *fakeRuntime) Invoke(ctx context.Context, inv agent.Invocation) (agent.Stream, error) {
	r.invocations = append(r.invocations, inv)
	if r.err != nil {
		return nil, r.err
	}
	frags := make([]agent.Fragment, len(r.reply))
	for i, p := range r.reply {
		frags[i] = agent.Fragment{Text: p}
	}
	return &fakeStream{frags: frags}, nil
}

type fakeSpeaker struct {
	voices []tts.Voice
	modes  []tts.Mode
	texts  []string
	fail   bool
	panics bool
}

func (f *fakeSpeaker) Speak(ctx context.Context, sessionID, text string, voice tts.Voice, mode tts.Mode) tts.Delivery {
	if f.panics {
		panic("speaker exploded")
	}
	f.voices = append(f.voices, voice)
	f.modes = append(f.modes, mode)
	f.texts = append(f.texts, text)
	if f.fail {
		return tts.Delivery{}
	}
	d := tts.Delivery{Audio: []byte("mp3"), ContentType: "audio/mpeg"}
	if mode.Has(tts.ModeURL) {
		u := "https://bucket.example/speech/x.mp3"
		d.URL = &u
	}
	if mode.Has(tts.ModeInline) {
		b := base64.StdEncoding.EncodeToString(d.Audio)
		d.Inline = &b
	}
	return d
}

type fakeRecorder struct {
	records []record.Record
}

func (f *fakeRecorder) Record(ctx context.Context, rec record.Record) {
	f.records = append(f.records, rec)
}

type harness struct {
	orch    *Orchestrator
	stt     *fakeTranscriber
	runtime *fakeRuntime
	speaker *fakeSpeaker
	rec     *fakeRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	resolver, err := tenant.New(config.DefaultTenants(), "")
	if err != nil {
		t.Fatalf("tenants: %v", err)
	}
	h := &harness{
		stt:     &fakeTranscriber{text: "I need an appointment"},
		runtime: &fakeRuntime{reply: []string{"I ", "can ", "help."}},
		speaker: &fakeSpeaker{},
		rec:     &fakeRecorder{},
	}
	h.orch = New(resolver, h.stt, agent.NewClient(h.runtime, time.Second), h.speaker, h.rec, Fallbacks{
		Utterance:    "Hello",
		DefaultReply: defaultReply,
		Apology:      apology,
	})
	h.orch.newCallID = func() string { return "call-1" }
	return h
}

func (h *harness) handle(t *testing.T, payload string) *interaction.Response {
	t.Helper()
	resp := h.orch.Handle(context.Background(), []byte(payload))
	if resp == nil {
		t.Fatalf("nil response")
	}
	return resp
}

// --- scenarios ---

func TestTextInteractionResolvesTenant(t *testing.T) {
	h := newHarness(t)
	resp := h.handle(t, `{"text":"Hello","did":"1002"}`)

	if resp.StatusCode != http.StatusOK || resp.Envelope == nil {
		t.Fatalf("expected 200 envelope, got %+v", resp)
	}
	env := resp.Envelope
	if env.ClinicName != "Westside Family Practice" || env.DID != "1002" || env.VoiceID != "Matthew" {
		t.Fatalf("unexpected tenant fields: %+v", env)
	}
	if env.AgentResponse != "I can help." {
		t.Fatalf("unexpected reply: %q", env.AgentResponse)
	}
	if env.UserInput == nil || *env.UserInput != "Hello" || env.TranscribedText != nil {
		t.Fatalf("expected user_input only")
	}
	if env.AudioURL == nil || env.AudioBase64 == nil {
		t.Fatalf("expected both audio modes")
	}
	if env.SessionID != "text-1002-call-1" {
		t.Fatalf("unexpected generated session id: %s", env.SessionID)
	}

	inv := h.runtime.invocations[0]
	if inv.InputText != "[DID: 1002] Hello" {
		t.Fatalf("agent input not tagged: %q", inv.InputText)
	}
	if h.speaker.voices[0] != (tts.Voice{ID: "Matthew", Engine: "neural"}) {
		t.Fatalf("unexpected voice: %+v", h.speaker.voices[0])
	}
	if len(h.stt.inputs) != 0 {
		t.Fatalf("text input should not be transcribed")
	}
}

func TestConnectInteractionDefaultsToHello(t *testing.T) {
	h := newHarness(t)
	resp := h.handle(t, `{
		"Details": {
			"ContactData": {
				"ContactId": "c-123",
				"SystemEndpoint": {"Address": "+1 (555) 555-1003", "Type": "TELEPHONE_NUMBER"}
			},
			"Parameters": {}
		},
		"Name": "ContactFlowEvent"
	}`)

	if resp.Connect == nil || resp.Envelope != nil {
		t.Fatalf("expected connect shape, got %+v", resp)
	}
	c := resp.Connect
	if c.StatusCode != http.StatusOK || c.DID != "1003" || c.ClinicName != "Pediatric Care Clinic" {
		t.Fatalf("unexpected connect response: %+v", c)
	}
	if c.SessionID != "connect-1003-c-123" {
		t.Fatalf("unexpected session id: %s", c.SessionID)
	}
	if c.AudioURL == nil {
		t.Fatalf("expected audio url")
	}
	if h.runtime.invocations[0].InputText != "[DID: 1003] Hello" {
		t.Fatalf("unexpected agent input: %q", h.runtime.invocations[0].InputText)
	}
	if h.speaker.modes[0] != tts.ModeURL {
		t.Fatalf("connect should request URL mode only, got %v", h.speaker.modes[0])
	}

	body, _ := json.Marshal(resp.Body())
	if !strings.Contains(string(body), `"clinicName":"Pediatric Care Clinic"`) {
		t.Fatalf("unexpected wire body: %s", body)
	}
}

func TestConnectWithRecordedAudio(t *testing.T) {
	h := newHarness(t)
	resp := h.handle(t, `{"Details":{"ContactData":{"ContactId":"c-9","SystemEndpoint":{"Address":"1001"}},"Parameters":{"audioUrl":"s3://bucket/recordings/c-9.wav"}}}`)

	if len(h.stt.inputs) != 1 || h.stt.inputs[0].Locator != "s3://bucket/recordings/c-9.wav" {
		t.Fatalf("expected transcription of the recording, got %+v", h.stt.inputs)
	}
	if h.runtime.invocations[0].InputText != "[DID: 1001] I need an appointment" {
		t.Fatalf("unexpected agent input: %q", h.runtime.invocations[0].InputText)
	}
	if resp.Connect.ClinicName != "Downtown Medical Center" {
		t.Fatalf("unexpected clinic: %s", resp.Connect.ClinicName)
	}
}

func TestAudioInteractionTranscribes(t *testing.T) {
	h := newHarness(t)
	audio := base64.StdEncoding.EncodeToString([]byte("RIFFdata"))
	resp := h.handle(t, `{"audio_data":"`+audio+`","did":"1001","session_id":"sess-7","audio_format":"mp3"}`)

	in := h.stt.inputs[0]
	if string(in.Audio) != "RIFFdata" || in.Format != "mp3" || in.SessionID != "sess-7" {
		t.Fatalf("unexpected transcription input: %+v", in)
	}
	env := resp.Envelope
	if env.TranscribedText == nil || *env.TranscribedText != "I need an appointment" || env.UserInput != nil {
		t.Fatalf("expected transcribed_text only: %+v", env)
	}
	if env.SessionID != "sess-7" || env.ClinicName != "Downtown Medical Center" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestTranscriptionFailureUsesFallbackUtterance(t *testing.T) {
	for _, err := range []error{transcribe.ErrTimedOut, transcribe.ErrJobFailed, transcribe.ErrEngine} {
		h := newHarness(t)
		h.stt.err = err
		audio := base64.StdEncoding.EncodeToString([]byte("x"))

		resp := h.handle(t, `{"audio_data":"`+audio+`","did":"1002"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%v: expected 200, got %d", err, resp.StatusCode)
		}
		if h.runtime.invocations[0].InputText != "[DID: 1002] Hello" {
			t.Fatalf("%v: expected fallback utterance, got %q", err, h.runtime.invocations[0].InputText)
		}
		if got := h.rec.records[0].Fallbacks; len(got) != 1 || got[0] != "transcription" {
			t.Fatalf("%v: unexpected fallbacks: %v", err, got)
		}
	}
}

func TestAgentFailureApologizes(t *testing.T) {
	h := newHarness(t)
	h.runtime.err = errors.New("AccessDeniedException")

	resp := h.handle(t, `{"text":"book me","did":"1001"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Envelope.AgentResponse != apology || !resp.Envelope.RequiresHandoff {
		t.Fatalf("expected apology with handoff, got %+v", resp.Envelope)
	}
	if h.speaker.texts[0] != apology {
		t.Fatalf("apology should be spoken")
	}
}

func TestEmptyReplyUsesDefault(t *testing.T) {
	h := newHarness(t)
	h.runtime.reply = nil

	resp := h.handle(t, `{"text":"hi","did":"1001"}`)
	if resp.Envelope.AgentResponse != defaultReply {
		t.Fatalf("expected default reply, got %q", resp.Envelope.AgentResponse)
	}
}

func TestSynthesisFailureNullsAudioOnly(t *testing.T) {
	h := newHarness(t)
	h.speaker.fail = true

	resp := h.handle(t, `{"text":"Hello","did":"1002"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	env := resp.Envelope
	if env.AudioURL != nil || env.AudioBase64 != nil {
		t.Fatalf("expected null audio fields")
	}
	if env.AgentResponse != "I can help." || env.ClinicName != "Westside Family Practice" {
		t.Fatalf("other fields should be populated: %+v", env)
	}

	body, _ := json.Marshal(resp.Body())
	if !strings.Contains(string(body), `"audio_url":null`) || !strings.Contains(string(body), `"audio_base64":null`) {
		t.Fatalf("expected explicit nulls on the wire: %s", body)
	}
}

func TestMalformedPayloadIsDegraded(t *testing.T) {
	h := newHarness(t)
	for _, payload := range []string{`{not json`, `{"audio_data":"%%%","did":"1001"}`} {
		resp := h.handle(t, payload)
		if resp.StatusCode != http.StatusInternalServerError || resp.Envelope == nil {
			t.Fatalf("%s: expected 500 envelope, got %+v", payload, resp)
		}
		if resp.Envelope.AgentResponse != apology || resp.Envelope.Error == "" {
			t.Fatalf("%s: unexpected degraded body: %+v", payload, resp.Envelope)
		}
		if resp.Envelope.AudioURL != nil || resp.Envelope.AudioBase64 != nil {
			t.Fatalf("%s: degraded response must carry no audio", payload)
		}
	}
	if len(h.runtime.invocations) != 0 {
		t.Fatalf("agent should not be called for malformed payloads")
	}
}

func TestPanicIsRecoveredInSourceShape(t *testing.T) {
	h := newHarness(t)
	h.speaker.panics = true

	resp := h.handle(t, `{"Details":{"ContactData":{"ContactId":"c-1","SystemEndpoint":{"Address":"1002"}}}}`)
	if resp.StatusCode != http.StatusInternalServerError || resp.Connect == nil {
		t.Fatalf("expected 500 connect shape, got %+v", resp)
	}
	if resp.Connect.AgentResponse != apology || !strings.Contains(resp.Connect.Error, "speaker exploded") {
		t.Fatalf("unexpected degraded connect body: %+v", resp.Connect)
	}
	if len(h.rec.records) != 1 || h.rec.records[0].Status != http.StatusInternalServerError {
		t.Fatalf("panics should still be recorded: %+v", h.rec.records)
	}
}

func TestRecordsEveryInteraction(t *testing.T) {
	h := newHarness(t)
	h.handle(t, `{"text":"Hello","did":"1003","session_id":"s-1"}`)

	if len(h.rec.records) != 1 {
		t.Fatalf("expected one record, got %d", len(h.rec.records))
	}
	rec := h.rec.records[0]
	if rec.SessionID != "s-1" || rec.DID != "1003" || rec.Clinic != "Pediatric Care Clinic" || rec.Source != "text" {
		t.Fatalf("unexpected record identity: %+v", rec)
	}
	if rec.Reply != "I can help." || rec.Input != "Hello" || rec.Status != http.StatusOK || !rec.AudioURL || !rec.AudioInline {
		t.Fatalf("unexpected record content: %+v", rec)
	}
}

func TestUnknownDIDUsesDefaultTenant(t *testing.T) {
	h := newHarness(t)
	resp := h.handle(t, `{"inputText":"Hello","did":"9999"}`)
	if resp.Envelope.DID != "1001" || resp.Envelope.ClinicName != "Downtown Medical Center" {
		t.Fatalf("expected default tenant, got %+v", resp.Envelope)
	}
}

type stalledSink struct {
	done chan struct{}
}

func (s *stalledSink) Name() string { return "stalled" }

func (s *stalledSink) Write(ctx context.Context, rec record.Record) error {
	<-ctx.Done()
	close(s.done)
	return ctx.Err()
}

func TestSlowRecordSinkDoesNotDelayResponse(t *testing.T) {
	h := newHarness(t)
	sink := &stalledSink{done: make(chan struct{})}
	recorder := record.NewRecorder(300*time.Millisecond, sink)
	h.orch.recorder = recorder

	start := time.Now()
	resp := h.handle(t, `{"text":"Hello","did":"1002"}`)
	took := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if took > 150*time.Millisecond {
		t.Fatalf("response waited on the record sink: %s", took)
	}

	recorder.Wait()
	select {
	case <-sink.done:
	default:
		t.Fatalf("record was never written")
	}
}
