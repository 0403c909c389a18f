package audio

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

const opusPayloadType = 0x78

// silentFrame is 20ms of stereo Opus silence.
var silentFrame = []byte{0xf8, 0xff, 0xfe}

// Timeline lays a speaker's frames on one continuous RTP clock starting at the slice start.
// The lead-in before the first frame and every pause of at least one frame are filled with silent frames.
func Timeline(frames []Frame) []*rtp.Packet {
	sorted := append([]Frame(nil), frames...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var (
		packets   []*rtp.Packet
		cursor    time.Duration
		timestamp uint32
		sequence  uint16
	)
	emit := func(payload []byte, d time.Duration) {
		sequence++
		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    opusPayloadType,
				SequenceNumber: sequence,
				Timestamp:      timestamp,
			},
			Payload: payload,
		})
		timestamp += uint32(d * SampleRate / time.Second)
		cursor += d
	}

	for _, f := range sorted {
		for f.Offset-cursor >= FrameDuration {
			emit(silentFrame, FrameDuration)
		}
		d := f.Duration
		if d <= 0 {
			d = FrameDuration
		}
		emit(f.Opus, d)
	}
	return packets
}

// EncodeOggOpus muxes a speaker's frames into an Ogg Opus file aligned to the slice start.
func EncodeOggOpus(frames []Frame) ([]byte, error) {
	var buf bytes.Buffer
	w, err := oggwriter.NewWith(&buf, SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("create ogg writer: %w", err)
	}
	for _, p := range Timeline(frames) {
		if err := w.WriteRTP(p); err != nil {
			return nil, fmt.Errorf("write opus packet: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close ogg writer: %w", err)
	}
	return buf.Bytes(), nil
}
