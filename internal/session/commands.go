package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Gokias/GokiBot/internal/discord"
)

const threadNameLayout = "2006-01-02 15:04"

func (m *Manager) HandleSlashCommand(event discord.SlashCommandEvent) {
	slog.Info("slash command received", "guild_id", event.GuildID, "command", event.CommandName, "user_id", event.UserID)
	if event.GuildID == "" {
		respondEphemeral(event, messageEphemeralGuildOnly)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch event.CommandName {
	case commandTranscribe:
		m.handleStartCommand(ctx, event)
	case commandTranscribeStop:
		m.handleStopCommand(event)
	case commandTranscribeName:
		m.handleNameCommand(ctx, event)
	case commandTranscribeConsent:
		m.handleConsentCommand(ctx, event)
	case commandTranscribeLanguage:
		m.handleLanguageCommand(ctx, event)
	default:
		respondEphemeral(event, messageEphemeralUnknownCommand)
	}
}

func (m *Manager) handleStartCommand(ctx context.Context, event discord.SlashCommandEvent) {
	voiceChannelID, err := m.discord.GetUserVoiceChannelID(event.GuildID, event.UserID)
	if err != nil {
		slog.Error("failed to resolve user voice channel", "error", err, "guild_id", event.GuildID, "user_id", event.UserID)
		respondEphemeral(event, messageEphemeralVoiceLookupFailed)
		return
	}
	if voiceChannelID == "" {
		respondEphemeral(event, messageEphemeralJoinVCFirst)
		return
	}
	if m.registry.Get(event.GuildID) != nil {
		respondEphemeral(event, messageEphemeralAlreadyRunning)
		return
	}
	if err := m.recorder.Available(); err != nil {
		respondEphemeral(event, messageEphemeralUnsupported)
		return
	}

	threadID, err := m.discord.StartThread(event.ChannelID, threadName(m.now().In(m.loc).Format(threadNameLayout)))
	if err != nil {
		slog.Error("failed to create transcript thread", "error", err, "guild_id", event.GuildID, "channel_id", event.ChannelID)
		respondEphemeral(event, messageEphemeralThreadFailed)
		return
	}

	if _, err := m.StartSession(ctx, event.GuildID, voiceChannelID, threadID); err != nil {
		switch {
		case errors.Is(err, ErrSessionAlreadyActive):
			respondEphemeral(event, messageEphemeralAlreadyRunning)
		case errors.Is(err, ErrRecordingUnsupported):
			respondEphemeral(event, messageEphemeralUnsupported)
		case errors.Is(err, ErrConnectFailed):
			respondEphemeral(event, messageEphemeralConnectFailed)
		default:
			respondEphemeral(event, messageEphemeralStartFailed)
		}
		return
	}
	respondEphemeral(event, startEphemeralMessage(threadID))
}

// handleStopCommand answers first because ending waits for the in-flight slice.
func (m *Manager) handleStopCommand(event discord.SlashCommandEvent) {
	if m.activeSession(event.GuildID) == nil {
		respondEphemeral(event, messageEphemeralNotRunning)
		return
	}
	respondEphemeral(event, messageEphemeralStopping)
	if err := m.EndSession(context.Background(), event.GuildID); err != nil && !errors.Is(err, ErrNoActiveSession) {
		slog.Error("failed to end session", "error", err, "guild_id", event.GuildID)
	}
}

func (m *Manager) handleNameCommand(ctx context.Context, event discord.SlashCommandEvent) {
	name := event.Options[optionName]
	if err := m.SetDisplayAlias(ctx, event.GuildID, event.UserID, name); err != nil {
		if errors.Is(err, ErrInvalidDisplayName) {
			respondEphemeral(event, messageEphemeralNameInvalid)
			return
		}
		slog.Error("failed to set display alias", "error", err, "guild_id", event.GuildID, "user_id", event.UserID)
		respondEphemeral(event, messageEphemeralSaveFailed)
		return
	}
	respondEphemeral(event, aliasSavedMessage(name))
}

func (m *Manager) handleConsentCommand(ctx context.Context, event discord.SlashCommandEvent) {
	if err := m.RecordConsentOptIn(ctx, event.GuildID, event.UserID); err != nil {
		slog.Error("failed to record consent", "error", err, "guild_id", event.GuildID, "user_id", event.UserID)
		respondEphemeral(event, messageEphemeralSaveFailed)
		return
	}
	respondEphemeral(event, messageEphemeralConsentSaved)
}

func (m *Manager) handleLanguageCommand(ctx context.Context, event discord.SlashCommandEvent) {
	code, err := m.SetGuildLanguage(ctx, event.GuildID, event.Options[optionCode])
	if err != nil {
		if errors.Is(err, ErrInvalidLanguage) {
			respondEphemeral(event, messageEphemeralLanguageInvalid)
			return
		}
		slog.Error("failed to set guild language", "error", err, "guild_id", event.GuildID)
		respondEphemeral(event, messageEphemeralSaveFailed)
		return
	}
	respondEphemeral(event, languageSavedMessage(code))
}

func respondEphemeral(event discord.SlashCommandEvent, content string) {
	if event.RespondEphemeral == nil {
		return
	}
	if err := event.RespondEphemeral(content); err != nil {
		slog.Warn("failed to respond to slash command", "error", err, "command", event.CommandName)
	}
}
