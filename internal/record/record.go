// Package record keeps a log of handled interactions.
//
// After a response is built, the orchestrator hands a Record to a Recorder,
// which writes it to every configured sink in the background. Sink failures
// are logged and never reach the caller, and a slow sink never delays the
// reply.
package record

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nadzzz/voicedesk/internal/storage"
)

// Record summarizes one handled interaction.
type Record struct {
	SessionID   string        `json:"session_id"`
	Source      string        `json:"source"`
	DID         string        `json:"did"`
	Clinic      string        `json:"clinic_name"`
	Input       string        `json:"input"`
	Transcribed bool          `json:"transcribed"`
	Reply       string        `json:"agent_response"`
	Handoff     bool          `json:"requires_handoff"`
	AudioURL    bool          `json:"audio_url"`
	AudioInline bool          `json:"audio_inline"`
	Fallbacks   []string      `json:"fallbacks,omitempty"`
	Status      int           `json:"status_code"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	At          time.Time     `json:"timestamp"`
}

// Sink persists records somewhere.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
}

// Recorder fans a record out to its sinks, each under its own deadline.
type Recorder struct {
	sinks   []Sink
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewRecorder creates a recorder. A nil recorder or one without sinks is a
// no-op.
func NewRecorder(timeout time.Duration, sinks ...Sink) *Recorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{sinks: sinks, timeout: timeout}
}

// Record queues rec for every sink and returns immediately. The writes are
// detached from ctx cancellation so a finished request does not abort them.
func (r *Recorder) Record(ctx context.Context, rec Record) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.write(ctx, rec)
	}()
}

// Wait blocks until every queued record has been written or has failed.
func (r *Recorder) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

func (r *Recorder) write(ctx context.Context, rec Record) {
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		if err := s.Write(sctx, rec); err != nil {
			slog.Warn("interaction record not written", "sink", s.Name(), "session_id", rec.SessionID, "error", err)
		}
		cancel()
	}
}

// StoreSink writes each record as a JSON document into object storage.
type StoreSink struct {
	store storage.Store
}

// NewStoreSink creates a sink writing under transcripts/<session>/.
func NewStoreSink(store storage.Store) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "storage" }

func (s *StoreSink) Write(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling record: %w", err)
	}
	key := TranscriptKey(rec.SessionID, rec.At)
	if _, err := s.store.Put(ctx, key, data, "application/json", storage.PutOpts{
		SessionID: rec.SessionID,
		Kind:      storage.KindTranscript,
	}); err != nil {
		return fmt.Errorf("storing record: %w", err)
	}
	return nil
}

// TranscriptKey returns "transcripts/<session>/<timestamp>-<uuid>.json".
func TranscriptKey(sessionID string, at time.Time) string {
	if at.IsZero() {
		at = time.Now()
	}
	return fmt.Sprintf("transcripts/%s/%s-%s.json", sessionID, at.UTC().Format("20060102T150405Z"), uuid.NewString())
}
