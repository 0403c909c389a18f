package discord

import (
	"context"
	"errors"
)

// ErrDestinationMissing is returned when a channel or thread no longer exists.
var ErrDestinationMissing = errors.New("discord destination missing")

type FileMessage struct {
	ChannelID string
	Content   string
	Filename  string
	FileBody  []byte
}

type SlashCommandOption struct {
	Name        string
	Description string
	Required    bool
}

type SlashCommandDefinition struct {
	Name        string
	Description string
	Options     []SlashCommandOption
}

type SlashCommandEvent struct {
	GuildID          string
	ChannelID        string
	CommandName      string
	UserID           string
	UserDisplayName  string
	Options          map[string]string
	RespondEphemeral func(content string) error
}

type VoiceStateEvent struct {
	GuildID         string
	UserID          string
	UserIsBot       bool
	BeforeChannelID string
	AfterChannelID  string
}

type ReactionEvent struct {
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	UserIsBot bool
	Emoji     string
}

type VoiceParticipant struct {
	UserID      string
	DisplayName string
	IsBot       bool
}

type TranscriptParticipant struct {
	UserID      string
	DisplayName string
	IsBot       bool
}

type TranscriptMetadata struct {
	DiscordServerID         string
	DiscordServerName       string
	DiscordVoiceChannelID   string
	DiscordVoiceChannelName string
	Participants            []TranscriptParticipant
}

type Client interface {
	Connect(ctx context.Context) error
	Close() error
	Run() error
	GetBotUserID() (string, error)

	RegisterVoiceStateUpdateHandler(handler func(VoiceStateEvent))
	RegisterSlashCommandHandler(handler func(SlashCommandEvent))
	RegisterReactionAddHandler(handler func(ReactionEvent))
	UpsertSlashCommands(guildID string, defs []SlashCommandDefinition) error

	JoinVoiceChannel(guildID, channelID string) (VoiceConnection, error)
	GetUserVoiceChannelID(guildID, userID string) (string, error)
	ListVoiceChannelParticipants(guildID, channelID string) ([]VoiceParticipant, error)
	ResolveDisplayName(guildID, userID string) string
	ResolveTranscriptMetadata(ctx context.Context, guildID, channelID string, participantUserIDs []string) (TranscriptMetadata, error)

	StartThread(channelID, name string) (string, error)
	AddThreadMember(threadID, userID string) error
	SendChannelMessage(channelID, content string) error
	CreateChannelMessage(channelID, content string) (string, error)
	EditChannelMessage(channelID, messageID, content string) error
	SendChannelMessageWithFile(msg FileMessage) error
	SendDirectMessage(userID, content string) error
	AddReaction(channelID, messageID, emoji string) error
}

// VoicePacket is one received Opus packet with the sender's RTP timestamp (48kHz units).
type VoicePacket struct {
	UserID    string
	Timestamp uint32
	Opus      []byte
}

type VoiceConnection interface {
	Disconnect() error
	// ReceiveAudio blocks until the connection stops delivering packets.
	ReceiveAudio(callback func(VoicePacket))
}
