//go:build !opus

package audio

import "github.com/Gokias/GokiBot/internal/audio"

// NewOpusDecoder reports the codec as missing; build with -tags opus to enable recording.
func NewOpusDecoder() (audio.Decoder, error) {
	return nil, audio.ErrCodecUnavailable
}
