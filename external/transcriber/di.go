package transcriber

import (
	"context"

	"github.com/Gokias/GokiBot/internal/config"
	"github.com/Gokias/GokiBot/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*transcriber.Resolver, error) {
		c := do.MustInvoke[*config.Config](i)
		return transcriber.NewResolver(Candidates(c), transcriber.DefaultRetryAfter), nil
	})
}

// Candidates lists the engine variants allowed by SPEECH_ENGINE, in preference order.
func Candidates(c *config.Config) []transcriber.Candidate {
	google := transcriber.Candidate{
		Kind: transcriber.KindGoogle,
		Build: func(ctx context.Context) (transcriber.Engine, error) {
			return NewCloudSpeechEngine(ctx, CloudSpeechConfig{
				ProjectID:       c.GoogleCloudProjectID,
				CredentialsJSON: c.GoogleCloudCredentialsJSON,
				Language:        c.DefaultTranscribeLanguage,
				Location:        c.GoogleCloudSpeechLocation,
				Model:           c.GoogleCloudSpeechModel,
			})
		},
	}
	openai := transcriber.Candidate{
		Kind: transcriber.KindOpenAI,
		Build: func(context.Context) (transcriber.Engine, error) {
			return NewWhisperEngine(WhisperConfig{
				APIKey:   c.OpenAIAPIKey,
				Model:    c.OpenAITranscribeModel,
				Language: c.DefaultTranscribeLanguage,
			})
		},
	}

	switch c.SpeechEngine {
	case config.SpeechEngineGoogle:
		return []transcriber.Candidate{google}
	case config.SpeechEngineOpenAI:
		return []transcriber.Candidate{openai}
	case config.SpeechEngineNone:
		return nil
	default:
		return []transcriber.Candidate{google, openai}
	}
}
