package capture

import (
	"context"
	"errors"

	"github.com/Gokias/GokiBot/internal/audio"
)

var (
	// ErrUnsupported means the environment lacks a capability recording depends on.
	ErrUnsupported = errors.New("recording unsupported")
	// ErrConnectFailed means the voice channel could not be joined.
	ErrConnectFailed = errors.New("voice connect failed")
	// ErrAlreadyCapturing is returned when a guild already has an active sink.
	ErrAlreadyCapturing = errors.New("capture already active")
)

// Buffers maps a user id to that speaker's Opus frames for one slice, placed on the slice clock.
type Buffers map[string][]audio.Frame

// Sink is one in-flight capture interval.
type Sink interface {
	ID() string
	// Active reports false once the underlying voice connection has stopped delivering audio.
	Active() bool
}

type Backend interface {
	// Available is checked before any StartCapture attempt.
	Available() error
	StartCapture(ctx context.Context, guildID, channelID string) (Sink, error)
	// StopCapture detaches the sink; done is invoked exactly once, asynchronously.
	StopCapture(sink Sink, done func(Buffers))
	Disconnect(guildID string) error
}
