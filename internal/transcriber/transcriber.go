package transcriber

import (
	"context"
	"errors"
)

// ErrEngineUnavailable means no speech engine could be resolved.
var ErrEngineUnavailable = errors.New("speech engine unavailable")

// Utterance is one recognized phrase, offset from the start of its audio file.
type Utterance struct {
	OffsetSeconds float64
	Text          string
}

type Request struct {
	FilePath string
	// Language is a BCP-47 code; engines fall back to their default when empty.
	Language string
}

type Engine interface {
	Name() string
	Transcribe(ctx context.Context, req Request) ([]Utterance, error)
}
