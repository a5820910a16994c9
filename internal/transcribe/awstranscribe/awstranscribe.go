// Package awstranscribe implements transcribe.Engine with Amazon Transcribe
// batch jobs.
//
// Jobs read their media from an s3:// locator. When a job completes,
// Transcribe publishes a transcript JSON document at TranscriptFileUri,
// which is fetched over HTTPS (or from the store when the job was configured
// to write into our own bucket).
package awstranscribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awstx "github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"

	"github.com/nadzzz/voicedesk/internal/storage"
	"github.com/nadzzz/voicedesk/internal/transcribe"
)

// jobAPI is the subset of *transcribe.Client the engine uses.
type jobAPI interface {
	StartTranscriptionJob(ctx context.Context, params *awstx.StartTranscriptionJobInput, optFns ...func(*awstx.Options)) (*awstx.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, params *awstx.GetTranscriptionJobInput, optFns ...func(*awstx.Options)) (*awstx.GetTranscriptionJobOutput, error)
}

// Engine talks to Amazon Transcribe.
type Engine struct {
	client jobAPI
	store  storage.Store
	http   *http.Client
}

var _ transcribe.Engine = (*Engine)(nil)

// New creates an engine from an AWS config. store is used to read
// transcripts that were written to s3:// locators.
func New(awsCfg aws.Config, store storage.Store) *Engine {
	return &Engine{
		client: awstx.NewFromConfig(awsCfg),
		store:  store,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// StartJob submits a batch transcription job.
func (e *Engine) StartJob(ctx context.Context, job transcribe.Job) error {
	_, err := e.client.StartTranscriptionJob(ctx, &awstx.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(job.Name),
		Media:                &types.Media{MediaFileUri: aws.String(job.SourceLocator)},
		MediaFormat:          types.MediaFormat(job.Format),
		LanguageCode:         types.LanguageCode(job.Language),
	})
	if err != nil {
		return fmt.Errorf("start transcription job %s: %w", job.Name, err)
	}
	return nil
}

// JobStatus polls a job and maps Transcribe's status onto ours.
func (e *Engine) JobStatus(ctx context.Context, name string) (transcribe.JobState, error) {
	out, err := e.client.GetTranscriptionJob(ctx, &awstx.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(name),
	})
	if err != nil {
		return transcribe.JobState{}, fmt.Errorf("get transcription job %s: %w", name, err)
	}
	if out.TranscriptionJob == nil {
		return transcribe.JobState{}, fmt.Errorf("get transcription job %s: empty response", name)
	}

	tj := out.TranscriptionJob
	state := transcribe.JobState{FailureReason: aws.ToString(tj.FailureReason)}
	switch tj.TranscriptionJobStatus {
	case types.TranscriptionJobStatusCompleted:
		state.Status = transcribe.StatusCompleted
		if tj.Transcript != nil {
			state.ResultLocator = aws.ToString(tj.Transcript.TranscriptFileUri)
		}
	case types.TranscriptionJobStatusFailed:
		state.Status = transcribe.StatusFailed
	case types.TranscriptionJobStatusInProgress:
		state.Status = transcribe.StatusInProgress
	default:
		state.Status = transcribe.StatusSubmitted
	}
	return state, nil
}

// transcriptDoc is the subset of the Transcribe output document we read.
type transcriptDoc struct {
	JobName string `json:"jobName"`
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
	} `json:"results"`
}

// FetchTranscript downloads and parses the transcript document.
func (e *Engine) FetchTranscript(ctx context.Context, locator string) (string, error) {
	if locator == "" {
		return "", fmt.Errorf("completed job has no transcript locator")
	}

	var data []byte
	if strings.HasPrefix(locator, "s3://") {
		if e.store == nil {
			return "", fmt.Errorf("transcript at %s but no store configured", locator)
		}
		b, err := e.store.Get(ctx, storage.KeyFromLocator(locator))
		if err != nil {
			return "", err
		}
		data = b
	} else {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
		if err != nil {
			return "", fmt.Errorf("creating transcript request: %w", err)
		}
		resp, err := e.http.Do(req)
		if err != nil {
			return "", fmt.Errorf("transcript request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return "", fmt.Errorf("transcript fetch failed (status %d): %s", resp.StatusCode, body)
		}
		if data, err = io.ReadAll(io.LimitReader(resp.Body, 5<<20)); err != nil {
			return "", fmt.Errorf("reading transcript: %w", err)
		}
	}

	return parseTranscript(data)
}

func parseTranscript(data []byte) (string, error) {
	var doc transcriptDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("decoding transcript: %w", err)
	}

	parts := make([]string, 0, len(doc.Results.Transcripts))
	for _, t := range doc.Results.Transcripts {
		if s := strings.TrimSpace(t.Transcript); s != "" {
			parts = append(parts, s)
		}
	}
	text := strings.Join(parts, " ")
	slog.Debug("transcript parsed", "job", doc.JobName, "text_length", len(text))
	return text, nil
}
