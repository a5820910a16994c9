// Package config handles loading and validating the voicedesk configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the voicedesk service.
type Config struct {
	Server        ServerConfig     `mapstructure:"server"`
	Transports    TransportsConfig `mapstructure:"transports"`
	AWS           AWSConfig        `mapstructure:"aws"`
	Storage       StorageConfig    `mapstructure:"storage"`
	Tenants       []TenantConfig   `mapstructure:"tenants"`
	TenantsFile   string           `mapstructure:"tenants_file"`
	DefaultTenant string           `mapstructure:"default_tenant"`
	Transcribe    TranscribeConfig `mapstructure:"transcribe"`
	Agent         AgentConfig      `mapstructure:"agent"`
	TTS           TTSConfig        `mapstructure:"tts"`
	Records       RecordsConfig    `mapstructure:"records"`
	Logging       LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

// TransportsConfig holds the configuration for each inbound transport.
type TransportsConfig struct {
	GRPC GRPCConfig `mapstructure:"grpc"`
	HTTP HTTPConfig `mapstructure:"http"`
}

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AWSConfig holds settings shared by every AWS client.
type AWSConfig struct {
	Region string `mapstructure:"region"`
}

// StorageConfig configures the durable object store used for audio.
//
// Endpoint and PathStyle exist for S3-compatible stores (MinIO, LocalStack)
// used in local development. Leave both unset for AWS S3.
type StorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// TenantConfig is one clinic entry, either inline in the main config or in
// the standalone tenants file.
type TenantConfig struct {
	DID      string `mapstructure:"did" yaml:"did"`
	Name     string `mapstructure:"name" yaml:"name"`
	Greeting string `mapstructure:"greeting" yaml:"greeting"`
	VoiceID  string `mapstructure:"voice_id" yaml:"voice_id"`
	Engine   string `mapstructure:"engine" yaml:"engine"`
}

// TranscribeConfig selects and configures the speech-to-text backend.
type TranscribeConfig struct {
	Backend      string        `mapstructure:"backend"` // "aws" or "whisper"
	Language     string        `mapstructure:"language"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxWait      time.Duration `mapstructure:"max_wait"`
	FallbackText string        `mapstructure:"fallback_text"`
	Whisper      WhisperConfig `mapstructure:"whisper"`
}

// WhisperConfig holds self-hosted whisper settings.
type WhisperConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Type      string `mapstructure:"type"` // "openai" (default) or "asr" (ahmetoner/whisper-asr-webservice)
	Model     string `mapstructure:"model"`
	VADFilter bool   `mapstructure:"vad_filter"`
}

// AgentConfig selects and configures the conversational agent runtime.
type AgentConfig struct {
	Backend       string        `mapstructure:"backend"` // "bedrock" or "ollama"
	AgentID       string        `mapstructure:"agent_id"`
	AliasID       string        `mapstructure:"alias_id"`
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
	DefaultReply  string        `mapstructure:"default_reply"`
	Apology       string        `mapstructure:"apology"`
	Ollama        OllamaConfig  `mapstructure:"ollama"`
}

// OllamaConfig holds settings for the local Ollama runtime.
type OllamaConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
}

// TTSConfig selects and configures the text-to-speech backend.
type TTSConfig struct {
	Backend      string        `mapstructure:"backend"` // "polly" or "piper"
	OutputFormat string        `mapstructure:"output_format"`
	SampleRate   string        `mapstructure:"sample_rate"`
	URLTTL       time.Duration `mapstructure:"url_ttl"`
	Piper        PiperConfig   `mapstructure:"piper"`
}

// PiperConfig holds Piper TTS settings (Wyoming protocol).
//
// Voices maps tenant voice ids (e.g. "Joanna") to Piper voice model names so
// the same tenant table works against both Polly and a local Piper server.
type PiperConfig struct {
	Endpoint     string            `mapstructure:"endpoint"`
	DefaultVoice string            `mapstructure:"default_voice"`
	Voices       map[string]string `mapstructure:"voices"`
}

// RecordsConfig controls where finished interaction records are written.
type RecordsConfig struct {
	Transcripts bool          `mapstructure:"transcripts"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Kafka       KafkaConfig   `mapstructure:"kafka"`
}

// KafkaConfig configures the Kafka record sink.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./voicedesk.yaml, ./configs/voicedesk.yaml, /etc/voicedesk/voicedesk.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("voicedesk")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/voicedesk")
	}

	// Environment variables: VOICEDESK_AWS_REGION, VOICEDESK_AGENT_AGENT_ID, etc.
	v.SetEnvPrefix("VOICEDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional; env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Agent.AgentID = resolveEnvRef(cfg.Agent.AgentID)
	cfg.Agent.AliasID = resolveEnvRef(cfg.Agent.AliasID)
	cfg.Storage.Bucket = resolveEnvRef(cfg.Storage.Bucket)

	if cfg.TenantsFile != "" {
		tenants, err := LoadTenantsFile(cfg.TenantsFile)
		if err != nil {
			return nil, err
		}
		cfg.Tenants = append(cfg.Tenants, tenants...)
	}
	if len(cfg.Tenants) == 0 {
		cfg.Tenants = DefaultTenants()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.grpc.enabled", false)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 8080)
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("storage.bucket", "clinic-voice-processing")
	v.SetDefault("storage.path_style", false)
	v.SetDefault("transcribe.backend", "aws")
	v.SetDefault("transcribe.language", "en-US")
	v.SetDefault("transcribe.poll_interval", 2*time.Second)
	v.SetDefault("transcribe.max_wait", 30*time.Second)
	v.SetDefault("transcribe.fallback_text", "Hello")
	v.SetDefault("transcribe.whisper.endpoint", "http://localhost:8000/v1/audio/transcriptions")
	v.SetDefault("transcribe.whisper.type", "openai")
	v.SetDefault("agent.backend", "bedrock")
	v.SetDefault("agent.stream_timeout", 25*time.Second)
	v.SetDefault("agent.default_reply", "I'm here to help you with your appointment needs.")
	v.SetDefault("agent.apology", "I'm sorry, I'm having trouble processing your request right now. Let me transfer you to a human representative.")
	v.SetDefault("agent.ollama.endpoint", "http://localhost:11434/api/generate")
	v.SetDefault("agent.ollama.model", "llama3")
	v.SetDefault("tts.backend", "polly")
	v.SetDefault("tts.output_format", "mp3")
	v.SetDefault("tts.sample_rate", "22050")
	v.SetDefault("tts.url_ttl", time.Hour)
	v.SetDefault("tts.piper.endpoint", "localhost:10200")
	v.SetDefault("tts.piper.default_voice", "en_US-lessac-medium")
	v.SetDefault("records.transcripts", false)
	v.SetDefault("records.timeout", 5*time.Second)
	v.SetDefault("records.kafka.enabled", false)
	v.SetDefault("records.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("records.kafka.topic", "voicedesk-interactions")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks backend names and durations.
func (c *Config) Validate() error {
	switch c.Transcribe.Backend {
	case "aws", "whisper":
	default:
		return fmt.Errorf("unknown transcribe backend %q", c.Transcribe.Backend)
	}
	switch c.Agent.Backend {
	case "bedrock", "ollama":
	default:
		return fmt.Errorf("unknown agent backend %q", c.Agent.Backend)
	}
	switch c.TTS.Backend {
	case "polly", "piper":
	default:
		return fmt.Errorf("unknown tts backend %q", c.TTS.Backend)
	}
	if c.Transcribe.PollInterval <= 0 || c.Transcribe.MaxWait <= 0 {
		return fmt.Errorf("transcribe poll_interval and max_wait must be positive")
	}
	if c.Agent.StreamTimeout <= 0 {
		return fmt.Errorf("agent stream_timeout must be positive")
	}
	if c.TTS.URLTTL <= 0 {
		return fmt.Errorf("tts url_ttl must be positive")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}
	seen := make(map[string]bool, len(c.Tenants))
	for _, t := range c.Tenants {
		if t.DID == "" {
			return fmt.Errorf("tenant %q has no did", t.Name)
		}
		if seen[t.DID] {
			return fmt.Errorf("duplicate tenant did %q", t.DID)
		}
		seen[t.DID] = true
	}
	if c.DefaultTenant != "" && !seen[c.DefaultTenant] {
		return fmt.Errorf("default_tenant %q is not a configured tenant", c.DefaultTenant)
	}
	return nil
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
