// Package whisper implements transcribe.Engine on top of a self-hosted
// Whisper server, for development without AWS.
//
// Whisper servers answer synchronously, so the engine fakes the job model:
// StartJob reads the staged audio back from storage and runs the request in
// the background, and JobStatus reports the in-memory job state. Two server
// flavors are supported:
//   - "openai": OpenAI-compatible API (whisper.cpp server, faster-whisper)
//   - "asr":    ahmetoner/whisper-asr-webservice (POST /asr with query params)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nadzzz/voicedesk/internal/config"
	"github.com/nadzzz/voicedesk/internal/storage"
	"github.com/nadzzz/voicedesk/internal/transcribe"
)

const (
	locatorScheme = "whisper://"
	jobTimeout    = 2 * time.Minute
	jobRetention  = 10 * time.Minute
)

type jobEntry struct {
	state   transcribe.JobState
	text    string
	started time.Time
}

// Engine runs transcription jobs against a Whisper HTTP endpoint.
type Engine struct {
	endpoint  string
	kind      string // "openai" or "asr"
	model     string
	vadFilter bool
	store     storage.Store
	client    *http.Client

	mu   sync.Mutex
	jobs map[string]*jobEntry
	wg   sync.WaitGroup
}

var _ transcribe.Engine = (*Engine)(nil)

// New creates a whisper engine. store must be the same store the driver
// stages audio into.
func New(cfg config.WhisperConfig, store storage.Store) *Engine {
	kind := cfg.Type
	if kind == "" {
		kind = "openai"
	}
	return &Engine{
		endpoint:  cfg.Endpoint,
		kind:      kind,
		model:     cfg.Model,
		vadFilter: cfg.VADFilter,
		store:     store,
		client:    &http.Client{},
		jobs:      make(map[string]*jobEntry),
	}
}

// StartJob registers the job and transcribes it in the background.
func (e *Engine) StartJob(ctx context.Context, job transcribe.Job) error {
	e.mu.Lock()
	e.pruneLocked(time.Now())
	if _, dup := e.jobs[job.Name]; dup {
		e.mu.Unlock()
		return fmt.Errorf("job %s already exists", job.Name)
	}
	e.jobs[job.Name] = &jobEntry{
		state:   transcribe.JobState{Status: transcribe.StatusSubmitted},
		started: time.Now(),
	}
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// The job outlives the request that submitted it, like a remote job would.
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)
		defer cancel()
		e.run(runCtx, job)
	}()
	return nil
}

func (e *Engine) run(ctx context.Context, job transcribe.Job) {
	e.setState(job.Name, transcribe.JobState{Status: transcribe.StatusInProgress}, "")

	audio, err := e.store.Get(ctx, storage.KeyFromLocator(job.SourceLocator))
	if err != nil {
		e.setState(job.Name, transcribe.JobState{Status: transcribe.StatusFailed, FailureReason: err.Error()}, "")
		return
	}

	text, err := e.recognize(ctx, audio, job.Format, isoLanguage(job.Language))
	if err != nil {
		slog.Warn("whisper job failed", "job", job.Name, "error", err)
		e.setState(job.Name, transcribe.JobState{Status: transcribe.StatusFailed, FailureReason: err.Error()}, "")
		return
	}
	e.setState(job.Name, transcribe.JobState{
		Status:        transcribe.StatusCompleted,
		ResultLocator: locatorScheme + job.Name,
	}, text)
}

// JobStatus reports the state of a job started by this engine.
func (e *Engine) JobStatus(ctx context.Context, name string) (transcribe.JobState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.jobs[name]
	if !ok {
		return transcribe.JobState{}, fmt.Errorf("unknown job %s", name)
	}
	return entry.state, nil
}

// FetchTranscript returns the text of a completed job and forgets the job.
func (e *Engine) FetchTranscript(ctx context.Context, locator string) (string, error) {
	name, ok := strings.CutPrefix(locator, locatorScheme)
	if !ok {
		return "", fmt.Errorf("not a whisper result locator: %q", locator)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.jobs[name]
	if !ok || entry.state.Status != transcribe.StatusCompleted {
		return "", fmt.Errorf("no completed job %s", name)
	}
	delete(e.jobs, name)
	return entry.text, nil
}

// Close waits for in-flight jobs to finish.
func (e *Engine) Close() error {
	e.wg.Wait()
	return nil
}

func (e *Engine) setState(name string, state transcribe.JobState, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.jobs[name]; ok {
		entry.state = state
		entry.text = text
	}
}

// pruneLocked drops jobs nobody fetched, e.g. ones the driver abandoned at
// its polling ceiling.
func (e *Engine) pruneLocked(now time.Time) {
	for name, entry := range e.jobs {
		if now.Sub(entry.started) > jobRetention {
			delete(e.jobs, name)
		}
	}
}

func (e *Engine) recognize(ctx context.Context, audio []byte, format, lang string) (string, error) {
	switch e.kind {
	case "asr":
		return e.recognizeASR(ctx, audio, format, lang)
	default:
		return e.recognizeOpenAI(ctx, audio, format, lang)
	}
}

// recognizeASR handles the ahmetoner/whisper-asr-webservice format.
// API: POST /asr?task=transcribe&language=en&output=json&vad_filter=true
// Body: multipart/form-data with field "audio_file"
func (e *Engine) recognizeASR(ctx context.Context, audio []byte, format, lang string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio_file", "audio."+format)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(audio)); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	writer.Close()

	q := make(url.Values)
	q.Set("task", "transcribe")
	q.Set("output", "json")
	q.Set("encode", "true")
	if lang != "" {
		q.Set("language", lang)
	}
	if e.vadFilter {
		q.Set("vad_filter", "true")
	}

	reqURL := e.endpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	slog.Debug("whisper-asr request", "url", reqURL)
	return e.do(req)
}

// recognizeOpenAI handles OpenAI-compatible whisper endpoints.
func (e *Engine) recognizeOpenAI(ctx context.Context, audio []byte, format, lang string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "audio."+format)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(audio)); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	if e.model != "" {
		_ = writer.WriteField("model", e.model)
	}
	if lang != "" {
		_ = writer.WriteField("language", lang)
	}
	_ = writer.WriteField("response_format", "json")
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return e.do(req)
}

func (e *Engine) do(req *http.Request) (string, error) {
	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("whisper failed (status %d): %s", resp.StatusCode, respBody)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding whisper response: %w", err)
	}
	return result.Text, nil
}

// isoLanguage turns a BCP-47 code ("en-US") into the ISO-639-1 code whisper
// expects ("en").
func isoLanguage(code string) string {
	code, _, _ = strings.Cut(code, "-")
	return strings.ToLower(code)
}
