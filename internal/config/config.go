package config

import (
	"fmt"
	"time"
)

const (
	MinSliceIntervalSec = 5

	SpeechEngineAuto   = "auto"
	SpeechEngineGoogle = "google"
	SpeechEngineOpenAI = "openai"
	SpeechEngineNone   = "none"
)

type Config struct {
	Env                        string
	DiscordToken               string
	DiscordGuildID             string
	DatabaseURL                string
	TranscriptTimezone         string
	DefaultTranscribeLanguage  string
	SliceIntervalSec           int
	FinalizeTimeoutSec         int
	MaxCaptureFailures         int
	ConsentValidityDays        int
	TranscriptWorkDir          string
	SpeechEngine               string
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	OpenAIAPIKey               string
	OpenAITranscribeModel      string
	TranscriptWebhookURL       string
	MetricsAddr                string
	OTLPEndpoint               string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if c.SliceIntervalSec < MinSliceIntervalSec {
		return fmt.Errorf("SLICE_INTERVAL_SEC must be at least %d, got %d", MinSliceIntervalSec, c.SliceIntervalSec)
	}
	if c.FinalizeTimeoutSec <= 0 {
		return fmt.Errorf("FINALIZE_TIMEOUT_SEC must be positive, got %d", c.FinalizeTimeoutSec)
	}
	if c.MaxCaptureFailures <= 0 {
		return fmt.Errorf("MAX_CAPTURE_FAILURES must be positive, got %d", c.MaxCaptureFailures)
	}
	if c.ConsentValidityDays <= 0 {
		return fmt.Errorf("CONSENT_VALIDITY_DAYS must be positive, got %d", c.ConsentValidityDays)
	}
	if _, err := time.LoadLocation(c.TranscriptTimezone); err != nil {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is invalid: %w", err)
	}
	switch c.SpeechEngine {
	case SpeechEngineAuto, SpeechEngineNone:
	case SpeechEngineGoogle:
		if c.GoogleCloudProjectID == "" || c.GoogleCloudCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID and GOOGLE_CLOUD_CREDENTIALS_JSON are required when SPEECH_ENGINE=google")
		}
	case SpeechEngineOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when SPEECH_ENGINE=openai")
		}
	default:
		return fmt.Errorf("SPEECH_ENGINE must be one of auto, google, openai, none; got %q", c.SpeechEngine)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DISCORD_TOKEN", value: c.DiscordToken},
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "DEFAULT_TRANSCRIBE_LANGUAGE", value: c.DefaultTranscribeLanguage},
		{name: "TRANSCRIPT_TIMEZONE", value: c.TranscriptTimezone},
		{name: "TRANSCRIPT_WORK_DIR", value: c.TranscriptWorkDir},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) SliceInterval() time.Duration {
	return time.Duration(c.SliceIntervalSec) * time.Second
}

func (c *Config) FinalizeTimeout() time.Duration {
	return time.Duration(c.FinalizeTimeoutSec) * time.Second
}

func (c *Config) ConsentValidity() time.Duration {
	return time.Duration(c.ConsentValidityDays) * 24 * time.Hour
}

// Location falls back to UTC; Validate has already rejected unknown zones.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TranscriptTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
