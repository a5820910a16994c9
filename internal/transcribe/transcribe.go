// Package transcribe drives asynchronous speech-to-text jobs.
//
// The Driver stages raw audio in durable storage, submits a uniquely named
// job to an Engine, and polls it under a hard ceiling. It never retries and
// never waits past the ceiling: a job still running when the ceiling is hit
// is abandoned, not cancelled.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nadzzz/voicedesk/internal/storage"
)

var (
	// ErrJobFailed means the engine reported the job as failed.
	ErrJobFailed = errors.New("transcription job failed")

	// ErrTimedOut means the polling ceiling was reached before a terminal status.
	ErrTimedOut = errors.New("transcription timed out")

	// ErrEngine wraps any transport error talking to the engine or storage.
	ErrEngine = errors.New("transcription engine error")
)

// Status is the lifecycle state of a transcription job.
type Status string

const (
	StatusSubmitted  Status = "SUBMITTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusTimedOut   Status = "TIMED_OUT"
)

// Terminal reports whether no further polling is useful.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimedOut
}

// Job is the handle of one submitted transcription.
type Job struct {
	Name          string
	SourceLocator string
	Format        string
	Language      string
	Status        Status
	ResultLocator string
	FailureReason string
	SubmittedAt   time.Time
}

// JobState is what an engine reports when polled.
type JobState struct {
	Status        Status
	ResultLocator string
	FailureReason string
}

// Engine is the speech-to-text backend contract.
type Engine interface {
	// StartJob submits a job. Job names are never reused.
	StartJob(ctx context.Context, job Job) error

	// JobStatus reports the current state of a named job.
	JobStatus(ctx context.Context, name string) (JobState, error)

	// FetchTranscript retrieves the recognized text from a result locator.
	FetchTranscript(ctx context.Context, resultLocator string) (string, error)
}

// Input is the audio to transcribe: either a locator the engine can read or
// raw bytes that are staged in storage first.
type Input struct {
	Locator   string
	Audio     []byte
	Format    string
	SessionID string
}

// Result is the outcome of a transcription attempt.
type Result struct {
	Text string
	Job  Job
}

// Options tunes the polling loop.
type Options struct {
	Language     string
	PollInterval time.Duration
	MaxWait      time.Duration
}

// SleepFunc suspends for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Driver runs transcriptions against an Engine.
type Driver struct {
	engine Engine
	store  storage.Store
	opts   Options
	sleep  SleepFunc
	now    func() time.Time
}

// Option configures a Driver.
type Option func(*Driver)

// WithSleep replaces the real sleep, letting tests poll instantly.
func WithSleep(fn SleepFunc) Option {
	return func(d *Driver) { d.sleep = fn }
}

// WithClock replaces time.Now for job names and timestamps.
func WithClock(fn func() time.Time) Option {
	return func(d *Driver) { d.now = fn }
}

// NewDriver creates a driver. store may be nil if callers only ever pass locators.
func NewDriver(engine Engine, store storage.Store, opts Options, options ...Option) *Driver {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 30 * time.Second
	}
	if opts.Language == "" {
		opts.Language = "en-US"
	}
	d := &Driver{
		engine: engine,
		store:  store,
		opts:   opts,
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// Transcribe runs one job to completion, failure, or the polling ceiling.
// The ceiling is wall-clock time from the call: staging, submission, polls,
// sleeps and the transcript fetch all count against MaxWait. The returned
// Result always carries the job handle with its final status, even when err
// is non-nil.
func (d *Driver) Transcribe(ctx context.Context, in Input) (Result, error) {
	format := storage.NormalizeFormat(in.Format)
	logger := slog.With("session_id", in.SessionID)

	deadline := d.now().Add(d.opts.MaxWait)
	pollCtx, cancel := context.WithTimeout(ctx, d.opts.MaxWait)
	defer cancel()

	locator := in.Locator
	if locator == "" {
		if len(in.Audio) == 0 {
			return Result{}, fmt.Errorf("%w: no audio or locator", ErrEngine)
		}
		if d.store == nil {
			return Result{}, fmt.Errorf("%w: no storage configured for raw audio", ErrEngine)
		}
		key := storage.NewKeyAt("audio/input", format, d.now())
		loc, err := d.store.Put(pollCtx, key, in.Audio, storage.ContentTypeForFormat(format), storage.PutOpts{
			SessionID: in.SessionID,
			Kind:      storage.KindVoiceInput,
		})
		if err != nil {
			if pollCtx.Err() != nil {
				return Result{}, fmt.Errorf("%w: staging audio: %v", ErrTimedOut, err)
			}
			return Result{}, fmt.Errorf("%w: staging audio: %v", ErrEngine, err)
		}
		locator = loc
		logger.Debug("audio staged for transcription", "locator", locator, "bytes", len(in.Audio))
	}

	job := Job{
		Name:          d.jobName(),
		SourceLocator: locator,
		Format:        format,
		Language:      d.opts.Language,
		Status:        StatusSubmitted,
		SubmittedAt:   d.now(),
	}
	logger = logger.With("job", job.Name)

	// fail marks the job, reporting a timeout once the ceiling has passed.
	fail := func(stage string, err error) (Result, error) {
		if pollCtx.Err() != nil || !d.now().Before(deadline) {
			job.Status = StatusTimedOut
			return Result{Job: job}, fmt.Errorf("%w: %s: %v", ErrTimedOut, stage, err)
		}
		job.Status = StatusFailed
		job.FailureReason = err.Error()
		return Result{Job: job}, fmt.Errorf("%w: %s: %v", ErrEngine, stage, err)
	}

	if err := d.engine.StartJob(pollCtx, job); err != nil {
		return fail("starting job", err)
	}
	logger.Info("transcription job submitted", "source", locator, "format", format)

	for polls := 0; d.now().Before(deadline) && time.Duration(polls)*d.opts.PollInterval < d.opts.MaxWait; polls++ {
		state, err := d.engine.JobStatus(pollCtx, job.Name)
		if err != nil {
			return fail("polling job", err)
		}

		switch state.Status {
		case StatusCompleted:
			job.Status = StatusCompleted
			job.ResultLocator = state.ResultLocator
			text, err := d.engine.FetchTranscript(pollCtx, state.ResultLocator)
			if err != nil {
				return fail("fetching transcript", err)
			}
			logger.Info("transcription complete", "text_length", len(text), "polls", polls+1)
			return Result{Text: strings.TrimSpace(text), Job: job}, nil

		case StatusFailed:
			job.Status = StatusFailed
			job.FailureReason = state.FailureReason
			return Result{Job: job}, fmt.Errorf("%w: %s", ErrJobFailed, state.FailureReason)

		default:
			job.Status = StatusInProgress
		}

		if err := d.sleep(pollCtx, d.opts.PollInterval); err != nil {
			job.Status = StatusTimedOut
			return Result{Job: job}, fmt.Errorf("%w: %v", ErrTimedOut, err)
		}
	}

	job.Status = StatusTimedOut
	return Result{Job: job}, fmt.Errorf("%w after %s", ErrTimedOut, d.opts.MaxWait)
}

// jobName returns "transcribe-<8 hex>-<unix seconds>". The engine rejects
// duplicate names, so the random part is never derived from call data.
func (d *Driver) jobName() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("transcribe-%s-%d", id[:8], d.now().Unix())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
