package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	internalconfig "github.com/Gokias/GokiBot/internal/config"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type envConfig struct {
	Env                        string `env:"ENV" envDefault:"production"`
	DiscordToken               string `env:"DISCORD_TOKEN,required"`
	DiscordGuildID             string `env:"DISCORD_GUILD_ID"`
	DatabaseURL                string `env:"DATABASE_URL,required"`
	TranscriptTimezone         string `env:"TRANSCRIPT_TIMEZONE" envDefault:"America/Los_Angeles"`
	DefaultTranscribeLanguage  string `env:"DEFAULT_TRANSCRIBE_LANGUAGE" envDefault:"en-US"`
	SliceIntervalSec           int    `env:"SLICE_INTERVAL_SEC" envDefault:"12"`
	FinalizeTimeoutSec         int    `env:"FINALIZE_TIMEOUT_SEC" envDefault:"120"`
	MaxCaptureFailures         int    `env:"MAX_CAPTURE_FAILURES" envDefault:"3"`
	ConsentValidityDays        int    `env:"CONSENT_VALIDITY_DAYS" envDefault:"180"`
	TranscriptWorkDir          string `env:"TRANSCRIPT_WORK_DIR"`
	SpeechEngine               string `env:"SPEECH_ENGINE" envDefault:"auto"`
	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"us-central1"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"chirp_3"`
	OpenAIAPIKey               string `env:"OPENAI_API_KEY"`
	OpenAITranscribeModel      string `env:"OPENAI_TRANSCRIBE_MODEL" envDefault:"whisper-1"`
	TranscriptWebhookURL       string `env:"TRANSCRIPT_WEBHOOK_URL"`
	MetricsAddr                string `env:"METRICS_ADDR"`
	OTLPEndpoint               string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*internalconfig.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read .env file; continuing with process environment", "error", err)
	}

	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}
	if raw.TranscriptWorkDir == "" {
		raw.TranscriptWorkDir = filepath.Join(os.TempDir(), "gokibot")
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		DiscordToken:               raw.DiscordToken,
		DiscordGuildID:             raw.DiscordGuildID,
		DatabaseURL:                raw.DatabaseURL,
		TranscriptTimezone:         raw.TranscriptTimezone,
		DefaultTranscribeLanguage:  raw.DefaultTranscribeLanguage,
		SliceIntervalSec:           raw.SliceIntervalSec,
		FinalizeTimeoutSec:         raw.FinalizeTimeoutSec,
		MaxCaptureFailures:         raw.MaxCaptureFailures,
		ConsentValidityDays:        raw.ConsentValidityDays,
		TranscriptWorkDir:          raw.TranscriptWorkDir,
		SpeechEngine:               raw.SpeechEngine,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		OpenAIAPIKey:               raw.OpenAIAPIKey,
		OpenAITranscribeModel:      raw.OpenAITranscribeModel,
		TranscriptWebhookURL:       raw.TranscriptWebhookURL,
		MetricsAddr:                raw.MetricsAddr,
		OTLPEndpoint:               raw.OTLPEndpoint,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
