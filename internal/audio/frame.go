package audio

import (
	"errors"
	"time"
)

const (
	SampleRate = 48000
	Channels   = 2

	// FrameDuration is the length of one Discord voice packet.
	FrameDuration = 20 * time.Millisecond
)

// ErrCodecUnavailable means the binary was built without an Opus decoder.
var ErrCodecUnavailable = errors.New("opus codec unavailable")

// Frame is one received Opus packet placed on the slice clock.
type Frame struct {
	// Offset is measured from the moment the slice started capturing.
	Offset   time.Duration
	Duration time.Duration
	Opus     []byte
}

// Decoder turns one Opus packet into interleaved 16-bit PCM samples.
type Decoder interface {
	Decode(packet []byte) ([]int16, error)
}

type DecoderFactory func() (Decoder, error)

// MeasureFrames decodes every frame in order to learn its real duration.
// Frames that fail to decode are dropped.
func MeasureFrames(dec Decoder, frames []Frame) []Frame {
	out := make([]Frame, 0, len(frames))
	for _, f := range frames {
		pcm, err := dec.Decode(f.Opus)
		if err != nil || len(pcm) < Channels {
			continue
		}
		f.Duration = time.Duration(len(pcm)/Channels) * time.Second / SampleRate
		out = append(out, f)
	}
	return out
}
