package transcriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/Gokias/GokiBot/internal/transcriber"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const speechAPIEndpointPort = 443

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

// CloudSpeechEngine transcribes one Ogg Opus file per call with the Speech-to-Text v2 batch Recognize API.
type CloudSpeechEngine struct {
	client          *speech.Client
	recognizer      string
	defaultLanguage string
	model           string
}

func NewCloudSpeechEngine(ctx context.Context, cfg CloudSpeechConfig) (*CloudSpeechEngine, error) {
	if cfg.ProjectID == "" || cfg.CredentialsJSON == "" {
		return nil, errors.New("google cloud project id and credentials are not configured")
	}
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(cfg.CredentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", location, speechAPIEndpointPort)))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}

	return &CloudSpeechEngine{
		client:          client,
		recognizer:      fmt.Sprintf("projects/%s/locations/%s/recognizers/_", cfg.ProjectID, location),
		defaultLanguage: cfg.Language,
		model:           strings.TrimSpace(cfg.Model),
	}, nil
}

func (e *CloudSpeechEngine) Name() string {
	return "google-cloud-speech/" + e.model
}

func (e *CloudSpeechEngine) Transcribe(ctx context.Context, req transcriber.Request) ([]transcriber.Utterance, error) {
	content, err := os.ReadFile(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	language := req.Language
	if language == "" {
		language = e.defaultLanguage
	}

	resp, err := e.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer: e.recognizer,
		Config: &speechpb.RecognitionConfig{
			Model:         e.model,
			LanguageCodes: []string{language},
			DecodingConfig: &speechpb.RecognitionConfig_AutoDecodingConfig{
				AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{},
			},
			Features: &speechpb.RecognitionFeatures{
				EnableWordTimeOffsets:      true,
				EnableAutomaticPunctuation: true,
			},
		},
		AudioSource: &speechpb.RecognizeRequest_Content{Content: content},
	})
	if err != nil {
		return nil, classifyRecognizeError(err)
	}
	slog.Debug("cloud speech recognized file", "file", req.FilePath, "results", len(resp.GetResults()), "language", language)
	return utterancesFromResults(resp.GetResults()), nil
}

func (e *CloudSpeechEngine) Close() error {
	return e.client.Close()
}

// classifyRecognizeError marks credential and quota failures as the engine being unavailable.
func classifyRecognizeError(err error) error {
	switch status.Code(err) {
	case codes.Canceled:
		return fmt.Errorf("recognize cancelled: %w", context.Canceled)
	case codes.DeadlineExceeded:
		return fmt.Errorf("recognize timed out: %w", context.DeadlineExceeded)
	case codes.Unauthenticated, codes.PermissionDenied, codes.ResourceExhausted:
		return fmt.Errorf("%w: recognize: %v", transcriber.ErrEngineUnavailable, err)
	default:
		return fmt.Errorf("recognize: %w", err)
	}
}

// utterancesFromResults offsets each result by its first word, or by where the previous result ended.
func utterancesFromResults(results []*speechpb.SpeechRecognitionResult) []transcriber.Utterance {
	out := make([]transcriber.Utterance, 0, len(results))
	var prevEnd time.Duration
	for _, result := range results {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			prevEnd = result.GetResultEndOffset().AsDuration()
			continue
		}
		alt := alts[0]
		offset := prevEnd
		if words := alt.GetWords(); len(words) > 0 && words[0].GetStartOffset() != nil {
			offset = words[0].GetStartOffset().AsDuration()
		}
		if end := result.GetResultEndOffset(); end != nil {
			prevEnd = end.AsDuration()
		}
		out = append(out, transcriber.Utterance{
			OffsetSeconds: offset.Seconds(),
			Text:          alt.GetTranscript(),
		})
	}
	return out
}
