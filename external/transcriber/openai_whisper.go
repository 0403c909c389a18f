package transcriber

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Gokias/GokiBot/internal/transcriber"
	"github.com/sashabaranov/go-openai"
)

type WhisperConfig struct {
	APIKey   string
	Model    string
	Language string
	// BaseURL overrides the API endpoint; empty uses api.openai.com.
	BaseURL string
}

type WhisperEngine struct {
	client          *openai.Client
	model           string
	defaultLanguage string
}

func NewWhisperEngine(cfg WhisperConfig) (*WhisperEngine, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is not configured")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperEngine{
		client:          openai.NewClientWithConfig(clientCfg),
		model:           model,
		defaultLanguage: cfg.Language,
	}, nil
}

func (e *WhisperEngine) Name() string {
	return "openai/" + e.model
}

func (e *WhisperEngine) Transcribe(ctx context.Context, req transcriber.Request) ([]transcriber.Utterance, error) {
	language := req.Language
	if language == "" {
		language = e.defaultLanguage
	}
	resp, err := e.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    e.model,
		FilePath: req.FilePath,
		Language: whisperLanguage(language),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("create transcription: %w", err)
	}

	if len(resp.Segments) == 0 {
		if strings.TrimSpace(resp.Text) == "" {
			return nil, nil
		}
		return []transcriber.Utterance{{OffsetSeconds: 0, Text: resp.Text}}, nil
	}
	out := make([]transcriber.Utterance, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		out = append(out, transcriber.Utterance{OffsetSeconds: seg.Start, Text: seg.Text})
	}
	return out, nil
}

// whisperLanguage reduces a BCP-47 tag to the ISO-639-1 code Whisper accepts.
func whisperLanguage(tag string) string {
	primary, _, _ := strings.Cut(strings.TrimSpace(tag), "-")
	return strings.ToLower(primary)
}
