package transcribe

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/nadzzz/voicedesk/internal/storage"
)

type fakeEngine struct {
	states      []JobState // returned in order; last one repeats
	startErr    error
	statusErr   error
	fetchErr    error
	transcript  string
	started     []Job
	polls       int
	fetchedFrom string
}

func (f *fakeEngine) StartJob(ctx context.Context, job Job) error {
	f.started = append(f.started, job)
	return f.startErr
}

func (f *fakeEngine) JobStatus(ctx context.Context, name string) (JobState, error) {
	f.polls++
	if f.statusErr != nil {
		return JobState{}, f.statusErr
	}
	idx := f.polls - 1
	if idx >= len(f.states) {
		idx = len(f.states) - 1
	}
	return f.states[idx], nil
}

func (f *fakeEngine) FetchTranscript(ctx context.Context, locator string) (string, error) {
	f.fetchedFrom = locator
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	return f.transcript, nil
}

type fakeStore struct {
	keys   []string
	opts   []storage.PutOpts
	ctypes []string
	err    error
}

func (f *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string, opts storage.PutOpts) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	f.opts = append(f.opts, opts)
	f.ctypes = append(f.ctypes, contentType)
	return "s3://bucket/" + key, nil
}

func (f *fakeStore) Get(ctx context.Context, key string) ([]byte, error) { return nil, nil }

func (f *fakeStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", nil
}

type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

func newTestDriver(engine Engine, store storage.Store, rec *sleepRecorder) *Driver {
	return NewDriver(engine, store, Options{}, WithSleep(rec.sleep))
}

func TestTranscribeCompleted(t *testing.T) {
	engine := &fakeEngine{
		states: []JobState{
			{Status: StatusInProgress},
			{Status: StatusInProgress},
			{Status: StatusCompleted, ResultLocator: "https://results/job.json"},
		},
		transcript: " I need an appointment \n",
	}
	rec := &sleepRecorder{}
	d := newTestDriver(engine, nil, rec)

	res, err := d.Transcribe(context.Background(), Input{Locator: "s3://bucket/in.wav", Format: "WAV"})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "I need an appointment" {
		t.Fatalf("unexpected text: %q", res.Text)
	}
	if res.Job.Status != StatusCompleted || res.Job.ResultLocator != "https://results/job.json" {
		t.Fatalf("unexpected job: %+v", res.Job)
	}
	if engine.fetchedFrom != "https://results/job.json" {
		t.Fatalf("transcript fetched from wrong locator: %s", engine.fetchedFrom)
	}
	if len(rec.calls) != 2 || rec.calls[0] != 2*time.Second {
		t.Fatalf("expected two 2s sleeps, got %v", rec.calls)
	}
	job := engine.started[0]
	if job.SourceLocator != "s3://bucket/in.wav" || job.Format != "wav" || job.Language != "en-US" {
		t.Fatalf("unexpected submitted job: %+v", job)
	}
}

func TestTranscribeStagesRawAudio(t *testing.T) {
	engine := &fakeEngine{states: []JobState{{Status: StatusCompleted}}, transcript: "hi"}
	store := &fakeStore{}
	d := newTestDriver(engine, store, &sleepRecorder{})

	if _, err := d.Transcribe(context.Background(), Input{Audio: []byte("RIFF"), Format: "mp3", SessionID: "direct-1001-x"}); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if len(store.keys) != 1 || !strings.HasPrefix(store.keys[0], "audio/input/") || !strings.HasSuffix(store.keys[0], ".mp3") {
		t.Fatalf("unexpected staged keys: %v", store.keys)
	}
	if store.ctypes[0] != "audio/mpeg" || store.opts[0].SessionID != "direct-1001-x" {
		t.Fatalf("unexpected staging metadata: %v %+v", store.ctypes, store.opts)
	}
	if engine.started[0].SourceLocator != "s3://bucket/"+store.keys[0] {
		t.Fatalf("engine got wrong locator: %s", engine.started[0].SourceLocator)
	}
}

func TestTranscribeFailed(t *testing.T) {
	engine := &fakeEngine{states: []JobState{{Status: StatusInProgress}, {Status: StatusFailed, FailureReason: "unsupported media"}}}
	d := newTestDriver(engine, nil, &sleepRecorder{})

	res, err := d.Transcribe(context.Background(), Input{Locator: "s3://b/k"})
	if !errors.Is(err, ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
	if res.Job.Status != StatusFailed || res.Job.FailureReason != "unsupported media" || res.Text != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTranscribeTimesOutAtCeiling(t *testing.T) {
	engine := &fakeEngine{states: []JobState{{Status: StatusInProgress}}}
	rec := &sleepRecorder{}
	d := newTestDriver(engine, nil, rec)

	res, err := d.Transcribe(context.Background(), Input{Locator: "s3://b/k"})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
	if res.Job.Status != StatusTimedOut {
		t.Fatalf("expected TIMED_OUT, got %s", res.Job.Status)
	}
	// 30s ceiling at 2s intervals: polls at 0,2,...,28.
	if engine.polls != 15 || len(rec.calls) != 15 {
		t.Fatalf("expected 15 polls and sleeps, got %d / %d", engine.polls, len(rec.calls))
	}
}

func TestTranscribeCustomCeiling(t *testing.T) {
	engine := &fakeEngine{states: []JobState{{Status: StatusInProgress}}}
	rec := &sleepRecorder{}
	d := NewDriver(engine, nil, Options{PollInterval: time.Second, MaxWait: 3 * time.Second}, WithSleep(rec.sleep))

	if _, err := d.Transcribe(context.Background(), Input{Locator: "s3://b/k"}); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if engine.polls != 3 {
		t.Fatalf("expected 3 polls, got %d", engine.polls)
	}
}

func TestTranscribeEngineErrors(t *testing.T) {
	boom := errors.New("connection reset")
	cases := map[string]*fakeEngine{
		"start":  {startErr: boom, states: []JobState{{Status: StatusCompleted}}},
		"status": {statusErr: boom},
		"fetch":  {fetchErr: boom, states: []JobState{{Status: StatusCompleted}}},
	}
	for name, engine := range cases {
		d := newTestDriver(engine, nil, &sleepRecorder{})
		if _, err := d.Transcribe(context.Background(), Input{Locator: "s3://b/k"}); !errors.Is(err, ErrEngine) {
			t.Fatalf("%s: expected ErrEngine, got %v", name, err)
		}
	}

	d := newTestDriver(&fakeEngine{}, &fakeStore{err: boom}, &sleepRecorder{})
	if _, err := d.Transcribe(context.Background(), Input{Audio: []byte("x")}); !errors.Is(err, ErrEngine) {
		t.Fatalf("staging failure: expected ErrEngine, got %v", err)
	}
	if _, err := d.Transcribe(context.Background(), Input{}); !errors.Is(err, ErrEngine) {
		t.Fatalf("empty input: expected ErrEngine, got %v", err)
	}
}

func TestTranscribeStopsWhenContextDone(t *testing.T) {
	engine := &fakeEngine{states: []JobState{{Status: StatusInProgress}}}
	d := NewDriver(engine, nil, Options{PollInterval: time.Hour, MaxWait: 10 * time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := d.Transcribe(ctx, Input{Locator: "s3://b/k"})
	if !errors.Is(err, ErrTimedOut) || res.Job.Status != StatusTimedOut {
		t.Fatalf("expected local timeout on cancelled context, got %v / %s", err, res.Job.Status)
	}
	if engine.polls != 1 {
		t.Fatalf("expected a single poll, got %d", engine.polls)
	}
}

func TestJobNamesAreUnique(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	d := NewDriver(&fakeEngine{}, nil, Options{}, WithClock(func() time.Time { return fixed }))

	pattern := regexp.MustCompile(`^transcribe-[0-9a-f]{8}-1700000000$`)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		name := d.jobName()
		if !pattern.MatchString(name) {
			t.Fatalf("unexpected job name: %s", name)
		}
		if seen[name] {
			t.Fatalf("job name reused: %s", name)
		}
		seen[name] = true
	}
}

// slowEngine spends delay inside every status call and never completes.
type slowEngine struct {
	fakeEngine
	delay time.Duration
}

func (s *slowEngine) JobStatus(ctx context.Context, name string) (JobState, error) {
	s.polls++
	select {
	case <-time.After(s.delay):
		return JobState{Status: StatusInProgress}, nil
	case <-ctx.Done():
		return JobState{}, ctx.Err()
	}
}

func TestTranscribeCeilingCountsEngineTime(t *testing.T) {
	engine := &slowEngine{delay: 40 * time.Millisecond}
	d := NewDriver(engine, nil, Options{PollInterval: 20 * time.Millisecond, MaxWait: 100 * time.Millisecond})

	start := time.Now()
	res, err := d.Transcribe(context.Background(), Input{Locator: "s3://b/k"})
	took := time.Since(start)

	if !errors.Is(err, ErrTimedOut) || res.Job.Status != StatusTimedOut {
		t.Fatalf("expected timeout, got %v / %s", err, res.Job.Status)
	}
	if took > 250*time.Millisecond {
		t.Fatalf("ceiling of 100ms overrun: took %s", took)
	}
}

func TestTranscribeBlockedEngineHitsCeiling(t *testing.T) {
	engine := &slowEngine{delay: time.Hour}
	d := NewDriver(engine, nil, Options{PollInterval: time.Second, MaxWait: 50 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := d.Transcribe(context.Background(), Input{Locator: "s3://b/k"})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrTimedOut) {
			t.Fatalf("expected ErrTimedOut, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("transcribe still blocked long after its 50ms ceiling")
	}
}

// steppingEngine advances a fake clock on every poll.
type steppingEngine struct {
	fakeEngine
	now  *time.Time
	step time.Duration
}

func (s *steppingEngine) JobStatus(ctx context.Context, name string) (JobState, error) {
	s.polls++
	*s.now = s.now.Add(s.step)
	return JobState{Status: StatusInProgress}, nil
}

func TestTranscribeCeilingUsesClock(t *testing.T) {
	now := time.Now()
	engine := &steppingEngine{now: &now, step: 10 * time.Second}
	d := NewDriver(engine, nil, Options{}, WithSleep((&sleepRecorder{}).sleep), WithClock(func() time.Time { return now }))

	if _, err := d.Transcribe(context.Background(), Input{Locator: "s3://b/k"}); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected timeout, got %v", err)
	}
	// 10s per poll against a 30s ceiling.
	if engine.polls != 3 {
		t.Fatalf("expected 3 polls, got %d", engine.polls)
	}
}

func TestTranscribeSanitizesFormat(t *testing.T) {
	engine := &fakeEngine{states: []JobState{{Status: StatusCompleted}}, transcript: "hi"}
	store := &fakeStore{}
	d := newTestDriver(engine, store, &sleepRecorder{})

	if _, err := d.Transcribe(context.Background(), Input{Audio: []byte("x"), Format: "../../secret"}); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if strings.Contains(store.keys[0], "..") || !strings.HasSuffix(store.keys[0], ".wav") {
		t.Fatalf("unsafe staging key: %s", store.keys[0])
	}
	if engine.started[0].Format != "wav" {
		t.Fatalf("unexpected engine format: %s", engine.started[0].Format)
	}
}
