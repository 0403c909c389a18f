package webhook

import "context"

const TranscriptSchemaVersion = 1

type TranscriptParticipant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type TranscriptLine struct {
	Slice       int    `json:"slice"`
	Index       int    `json:"index"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	SpokenAt    string `json:"spoken_at"`
	Text        string `json:"text"`
}

// TranscriptPayload is posted once per session when it is torn down.
type TranscriptPayload struct {
	SchemaVersion    int                     `json:"schema_version"`
	SessionID        string                  `json:"session_id"`
	GuildID          string                  `json:"guild_id"`
	GuildName        string                  `json:"guild_name"`
	VoiceChannelID   string                  `json:"voice_channel_id"`
	VoiceChannelName string                  `json:"voice_channel_name"`
	ThreadID         string                  `json:"thread_id"`
	StartAt          string                  `json:"start_at"`
	EndAt            string                  `json:"end_at"`
	Timezone         string                  `json:"timezone"`
	StopReason       string                  `json:"stop_reason"`
	Participants     []TranscriptParticipant `json:"participants"`
	Lines            []TranscriptLine        `json:"lines"`
	Transcript       string                  `json:"transcript"`
}

type Sender interface {
	SendTranscript(ctx context.Context, payload TranscriptPayload) error
}
