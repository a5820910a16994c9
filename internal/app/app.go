// Package app assembles the interaction pipeline from configuration.
//
// Both the long-running server and the Lambda entry point build the same
// object graph here, so backends are selected in exactly one place.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/nadzzz/voicedesk/internal/agent"
	"github.com/nadzzz/voicedesk/internal/agent/bedrock"
	"github.com/nadzzz/voicedesk/internal/agent/ollama"
	"github.com/nadzzz/voicedesk/internal/config"
	"github.com/nadzzz/voicedesk/internal/orchestrator"
	"github.com/nadzzz/voicedesk/internal/record"
	kafkasink "github.com/nadzzz/voicedesk/internal/record/kafka"
	"github.com/nadzzz/voicedesk/internal/storage"
	s3store "github.com/nadzzz/voicedesk/internal/storage/s3"
	"github.com/nadzzz/voicedesk/internal/tenant"
	"github.com/nadzzz/voicedesk/internal/transcribe"
	"github.com/nadzzz/voicedesk/internal/transcribe/awstranscribe"
	"github.com/nadzzz/voicedesk/internal/transcribe/whisper"
	"github.com/nadzzz/voicedesk/internal/tts"
	"github.com/nadzzz/voicedesk/internal/tts/piper"
	"github.com/nadzzz/voicedesk/internal/tts/polly"
)

// App is the assembled service.
type App struct {
	Tenants      *tenant.Resolver
	Orchestrator *orchestrator.Orchestrator

	recorder *record.Recorder
	closers  []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// Build loads AWS settings and wires every component selected by cfg.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return BuildWith(awsCfg, cfg)
}

// BuildWith wires the components against an already loaded AWS config.
func BuildWith(awsCfg aws.Config, cfg *config.Config) (*App, error) {
	tenants, err := tenant.New(cfg.Tenants, cfg.DefaultTenant)
	if err != nil {
		return nil, fmt.Errorf("building tenant table: %w", err)
	}

	a := &App{Tenants: tenants}
	store := s3store.New(awsCfg, cfg.Storage)

	// Speech-to-text.
	var engine transcribe.Engine
	switch cfg.Transcribe.Backend {
	case "aws":
		engine = awstranscribe.New(awsCfg, store)
		slog.Info("using Amazon Transcribe", "language", cfg.Transcribe.Language)
	case "whisper":
		w := whisper.New(cfg.Transcribe.Whisper, store)
		a.onClose("whisper", w.Close)
		engine = w
		slog.Info("using whisper transcription",
			"endpoint", cfg.Transcribe.Whisper.Endpoint,
			"type", cfg.Transcribe.Whisper.Type)
	default:
		return nil, fmt.Errorf("unknown transcribe backend %q", cfg.Transcribe.Backend)
	}
	transcriber := transcribe.NewDriver(engine, store, transcribe.Options{
		Language:     cfg.Transcribe.Language,
		PollInterval: cfg.Transcribe.PollInterval,
		MaxWait:      cfg.Transcribe.MaxWait,
	})

	// Agent runtime.
	var rt agent.Runtime
	switch cfg.Agent.Backend {
	case "bedrock":
		rt = bedrock.New(awsCfg, cfg.Agent)
		slog.Info("using Bedrock agent", "agent_id", cfg.Agent.AgentID, "alias_id", cfg.Agent.AliasID)
	case "ollama":
		rt = ollama.New(cfg.Agent.Ollama)
		slog.Info("using Ollama agent", "endpoint", cfg.Agent.Ollama.Endpoint, "model", cfg.Agent.Ollama.Model)
	default:
		return nil, fmt.Errorf("unknown agent backend %q", cfg.Agent.Backend)
	}
	conv := agent.NewClient(rt, cfg.Agent.StreamTimeout)

	// Text-to-speech.
	var synth tts.Synthesizer
	switch cfg.TTS.Backend {
	case "polly":
		synth = polly.New(awsCfg, cfg.TTS)
		slog.Info("using Amazon Polly", "format", cfg.TTS.OutputFormat)
	case "piper":
		synth = piper.New(cfg.TTS.Piper)
		slog.Info("using Piper TTS", "endpoint", cfg.TTS.Piper.Endpoint)
	default:
		return nil, fmt.Errorf("unknown tts backend %q", cfg.TTS.Backend)
	}
	a.onClose("tts", synth.Close)
	speaker := tts.NewSpeaker(synth, store, cfg.TTS.URLTTL)

	var recorder orchestrator.Recorder
	if a.recorder = buildRecorder(a, cfg.Records, store); a.recorder != nil {
		recorder = a.recorder
		a.onClose("records", func() error {
			a.recorder.Wait()
			return nil
		})
	}

	a.Orchestrator = orchestrator.New(tenants, transcriber, conv, speaker, recorder, orchestrator.FallbacksFromConfig(cfg))
	return a, nil
}

// buildRecorder returns nil when no sink is enabled.
func buildRecorder(a *App, cfg config.RecordsConfig, store storage.Store) *record.Recorder {
	var sinks []record.Sink
	if cfg.Transcripts {
		sinks = append(sinks, record.NewStoreSink(store))
	}
	if cfg.Kafka.Enabled {
		k := kafkasink.New(cfg.Kafka)
		a.onClose("kafka", k.Close)
		sinks = append(sinks, k)
		slog.Info("recording interactions to kafka", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
	}
	if len(sinks) == 0 {
		return nil
	}
	return record.NewRecorder(cfg.Timeout, sinks...)
}

// Flush waits for pending interaction records to be written.
func (a *App) Flush() {
	a.recorder.Wait()
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Close releases backend resources in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			slog.Error("close error", "component", c.name, "error", err)
		}
	}
}
