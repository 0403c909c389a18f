//go:build opus

package audio

import (
	"github.com/Gokias/GokiBot/internal/audio"
	"github.com/hraban/opus"
)

const (
	frameSizeMs        = 60
	maxSamplesPerFrame = audio.SampleRate * frameSizeMs * audio.Channels / 1000
)

type opusDecoder struct {
	dec *opus.Decoder
	pcm []int16
}

func NewOpusDecoder() (audio.Decoder, error) {
	dec, err := opus.NewDecoder(audio.SampleRate, audio.Channels)
	if err != nil {
		return nil, err
	}
	return &opusDecoder{dec: dec, pcm: make([]int16, maxSamplesPerFrame)}, nil
}

func (d *opusDecoder) Decode(packet []byte) ([]int16, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, err
	}
	total := n * audio.Channels
	if total > len(d.pcm) {
		total = len(d.pcm)
	}
	frame := make([]int16, total)
	copy(frame, d.pcm[:total])
	return frame, nil
}
