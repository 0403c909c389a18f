package repository

import (
	"context"
	"time"
)

type CreateSessionInput struct {
	GuildID        string
	VoiceChannelID string
	ThreadID       string
	StartedAt      time.Time
}

type CompleteSessionInput struct {
	SessionID  string
	EndedAt    time.Time
	StopReason string
}

type InsertSegmentInput struct {
	SessionID    string
	SliceNumber  int
	SegmentIndex int
	UserID       string
	DisplayName  string
	Content      string
	SpokenAt     time.Time
}

type UpsertConsentInput struct {
	GuildID     string
	UserID      string
	DisplayName string
	ConsentedAt time.Time
	ExpiresAt   time.Time
}

type SessionRepository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error)
	UpdateSessionCompleted(ctx context.Context, input CompleteSessionInput) error
	GetRunningSessionByGuild(ctx context.Context, guildID string) (*Session, error)
}

type TranscriptRepository interface {
	InsertSegment(ctx context.Context, input InsertSegmentInput) error
	ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]TranscriptSegment, error)
}

// ConsentRepository is shared by every session; writes use upsert semantics.
type ConsentRepository interface {
	UpsertConsent(ctx context.Context, input UpsertConsentInput) error
	// GetActiveConsent returns nil when no record exists or the record has expired at now.
	GetActiveConsent(ctx context.Context, guildID, userID string, now time.Time) (*ConsentRecord, error)
	MarkPromptSent(ctx context.Context, guildID, userID string, at time.Time) error
}

type GuildSettingsRepository interface {
	GetGuildSetting(ctx context.Context, guildID, key string) (string, bool, error)
	SetGuildSetting(ctx context.Context, guildID, key, value string) error
}

type Repository interface {
	SessionRepository
	TranscriptRepository
	ConsentRepository
	GuildSettingsRepository
}

const GuildSettingTranscribeLanguage = "transcribe_language"
