package repository

import "time"

type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
)

type Session struct {
	ID             string
	GuildID        string
	VoiceChannelID string
	ThreadID       string
	StartedAt      time.Time
	EndedAt        *time.Time
	Status         SessionStatus
	StopReason     string
}

type TranscriptSegment struct {
	ID           string
	SessionID    string
	SliceNumber  int
	SegmentIndex int
	UserID       string
	DisplayName  string
	Content      string
	SpokenAt     time.Time
	CreatedAt    time.Time
}

// ConsentRecord authorizes capture of one user's audio in one guild until ExpiresAt.
type ConsentRecord struct {
	GuildID     string
	UserID      string
	DisplayName string
	ConsentedAt time.Time
	ExpiresAt   time.Time
}

// IsActive is the only place consent expiry is compared.
func (r ConsentRecord) IsActive(now time.Time) bool {
	return !now.After(r.ExpiresAt)
}
