package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gokias/GokiBot/internal/audio"
	"github.com/Gokias/GokiBot/internal/capture"
	"github.com/Gokias/GokiBot/internal/discord"
	"github.com/google/uuid"
)

type voiceJoiner interface {
	JoinVoiceChannel(guildID, channelID string) (discord.VoiceConnection, error)
}

// clockResync is how far a sender's RTP clock may drift from arrival time before the track re-anchors.
const clockResync = 200 * time.Millisecond

// DiscordBackend records per-speaker audio from Discord voice connections, one connection per guild.
type DiscordBackend struct {
	discord    voiceJoiner
	newDecoder audio.DecoderFactory
	now        func() time.Time

	mu     sync.Mutex
	voices map[string]*guildVoice
}

type guildVoice struct {
	guildID   string
	channelID string
	conn      discord.VoiceConnection
	now       func() time.Time

	mu      sync.Mutex
	current *sink
	alive   atomic.Bool
}

type sink struct {
	id        string
	voice     *guildVoice
	startedAt time.Time

	mu       sync.Mutex
	tracks   map[string]*track
	stopOnce sync.Once
}

// track places one speaker's packets on the slice clock. The first packet is placed by arrival time;
// later packets follow the sender's RTP clock so network jitter does not move them.
type track struct {
	anchor   time.Duration
	anchorTS uint32
	frames   []audio.Frame
}

func NewDiscordBackend(dc voiceJoiner, newDecoder audio.DecoderFactory) *DiscordBackend {
	return &DiscordBackend{
		discord:    dc,
		newDecoder: newDecoder,
		now:        time.Now,
		voices:     make(map[string]*guildVoice),
	}
}

func (b *DiscordBackend) Available() error {
	if _, err := b.newDecoder(); err != nil {
		return fmt.Errorf("%w: %v", capture.ErrUnsupported, err)
	}
	return nil
}

func (b *DiscordBackend) StartCapture(ctx context.Context, guildID, channelID string) (capture.Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gv, err := b.voiceFor(guildID, channelID)
	if err != nil {
		return nil, err
	}

	gv.mu.Lock()
	defer gv.mu.Unlock()
	if gv.current != nil {
		return nil, capture.ErrAlreadyCapturing
	}
	s := &sink{
		id:        uuid.NewString(),
		voice:     gv,
		startedAt: b.now(),
		tracks:    make(map[string]*track),
	}
	gv.current = s
	slog.Debug("capture sink started", "guild_id", guildID, "sink_id", s.id)
	return s, nil
}

// voiceFor returns a live connection for the guild, rejoining when the previous one died.
func (b *DiscordBackend) voiceFor(guildID, channelID string) (*guildVoice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gv, ok := b.voices[guildID]; ok {
		if gv.alive.Load() && gv.channelID == channelID {
			return gv, nil
		}
		delete(b.voices, guildID)
		_ = gv.conn.Disconnect()
	}

	conn, err := b.discord.JoinVoiceChannel(guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrConnectFailed, err)
	}
	gv := &guildVoice{guildID: guildID, channelID: channelID, conn: conn, now: b.now}
	gv.alive.Store(true)
	b.voices[guildID] = gv
	go gv.receive()
	slog.Info("joined voice channel for capture", "guild_id", guildID, "channel_id", channelID)
	return gv, nil
}

func (gv *guildVoice) receive() {
	gv.conn.ReceiveAudio(func(p discord.VoicePacket) {
		gv.mu.Lock()
		s := gv.current
		gv.mu.Unlock()
		if s != nil {
			s.write(p, gv.now())
		}
	})
	gv.alive.Store(false)
	slog.Warn("voice receive loop ended", "guild_id", gv.guildID, "channel_id", gv.channelID)
}

func (b *DiscordBackend) StopCapture(cs capture.Sink, done func(capture.Buffers)) {
	s, ok := cs.(*sink)
	if !ok {
		go done(capture.Buffers{})
		return
	}
	s.stopOnce.Do(func() {
		s.voice.mu.Lock()
		if s.voice.current == s {
			s.voice.current = nil
		}
		s.voice.mu.Unlock()
		go done(b.collect(s))
	})
}

// collect measures every speaker's frames with a fresh decoder and drops undecodable packets.
func (b *DiscordBackend) collect(s *sink) capture.Buffers {
	s.mu.Lock()
	tracks := s.tracks
	s.tracks = nil
	s.mu.Unlock()

	out := make(capture.Buffers, len(tracks))
	for userID, t := range tracks {
		dec, err := b.newDecoder()
		if err != nil {
			slog.Error("opus decoder unavailable while finishing slice", "error", err, "sink_id", s.id)
			return out
		}
		frames := audio.MeasureFrames(dec, t.frames)
		if dropped := len(t.frames) - len(frames); dropped > 0 {
			slog.Debug("dropped undecodable packets", "sink_id", s.id, "user_id", userID, "dropped", dropped)
		}
		if len(frames) > 0 {
			out[userID] = frames
		}
	}
	return out
}

func (b *DiscordBackend) Disconnect(guildID string) error {
	b.mu.Lock()
	gv, ok := b.voices[guildID]
	delete(b.voices, guildID)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	gv.alive.Store(false)
	return gv.conn.Disconnect()
}

func (s *sink) ID() string { return s.id }

func (s *sink) Active() bool {
	return s.voice.alive.Load()
}

func (s *sink) write(p discord.VoicePacket, at time.Time) {
	arrival := max(at.Sub(s.startedAt), 0)
	buf := make([]byte, len(p.Opus))
	copy(buf, p.Opus)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracks == nil {
		return
	}
	t, ok := s.tracks[p.UserID]
	if !ok {
		t = &track{}
		s.tracks[p.UserID] = t
	}
	t.frames = append(t.frames, audio.Frame{Offset: t.place(arrival, p.Timestamp), Opus: buf})
}

func (t *track) place(arrival time.Duration, timestamp uint32) time.Duration {
	if len(t.frames) == 0 {
		t.anchor, t.anchorTS = arrival, timestamp
		return arrival
	}
	byClock := t.anchor + time.Duration(timestamp-t.anchorTS)*time.Second/audio.SampleRate
	if drift := arrival - byClock; drift > clockResync || drift < -clockResync {
		t.anchor, t.anchorTS = arrival, timestamp
		return arrival
	}
	return byClock
}
