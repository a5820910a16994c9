// Package polly implements the TTS Synthesizer with Amazon Polly.
package polly

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awspolly "github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"

	"github.com/nadzzz/voicedesk/internal/config"
	"github.com/nadzzz/voicedesk/internal/tts"
)

// speechAPI is the subset of *polly.Client the synthesizer uses.
type speechAPI interface {
	SynthesizeSpeech(ctx context.Context, params *awspolly.SynthesizeSpeechInput, optFns ...func(*awspolly.Options)) (*awspolly.SynthesizeSpeechOutput, error)
}

// Synthesizer calls Polly SynthesizeSpeech.
type Synthesizer struct {
	client       speechAPI
	outputFormat string
	sampleRate   string
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// New creates a Polly synthesizer from an AWS config.
func New(awsCfg aws.Config, cfg config.TTSConfig) *Synthesizer {
	return newWithClient(awspolly.NewFromConfig(awsCfg), cfg)
}

func newWithClient(client speechAPI, cfg config.TTSConfig) *Synthesizer {
	format := cfg.OutputFormat
	if format == "" {
		format = "mp3"
	}
	rate := cfg.SampleRate
	if rate == "" {
		rate = "22050"
	}
	return &Synthesizer{client: client, outputFormat: format, sampleRate: rate}
}

// Synthesize renders text with the tenant's voice and engine tier.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.SynthesizeResult, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text for synthesis")
	}

	in := &awspolly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		VoiceId:      types.VoiceId(voice.ID),
		OutputFormat: types.OutputFormat(s.outputFormat),
		SampleRate:   aws.String(s.sampleRate),
	}
	if voice.Engine != "" {
		in.Engine = types.Engine(voice.Engine)
	}

	slog.Debug("polly synthesize", "text_length", len(text), "voice", voice.ID, "engine", voice.Engine)
	out, err := s.client.SynthesizeSpeech(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("polly synthesize: %w", err)
	}
	defer out.AudioStream.Close()

	audio, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("reading polly audio: %w", err)
	}

	contentType := aws.ToString(out.ContentType)
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	rate, _ := strconv.Atoi(s.sampleRate)
	return &tts.SynthesizeResult{
		Audio:       audio,
		ContentType: contentType,
		SampleRate:  rate,
		Channels:    1,
	}, nil
}

// Close is a no-op.
func (s *Synthesizer) Close() error { return nil }
