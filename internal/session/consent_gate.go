package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Gokias/GokiBot/internal/discord"
	"github.com/Gokias/GokiBot/internal/repository"
	"github.com/Gokias/GokiBot/internal/telemetry"
)

const consentEmoji = "✅"

type Decision int

const (
	DecisionIgnored Decision = iota
	DecisionAlreadyConsented
	DecisionAlreadyPrompted
	DecisionRestored
	DecisionPrompted
)

func (d Decision) String() string {
	switch d {
	case DecisionAlreadyConsented:
		return "already_consented"
	case DecisionAlreadyPrompted:
		return "already_prompted"
	case DecisionRestored:
		return "restored"
	case DecisionPrompted:
		return "prompted"
	default:
		return "ignored"
	}
}

// ConsentGate decides whether a voice participant's audio may be captured and prompts when it may not.
type ConsentGate struct {
	discord  discord.Client
	consents repository.ConsentRepository
	now      func() time.Time
}

func NewConsentGate(dc discord.Client, consents repository.ConsentRepository) *ConsentGate {
	return &ConsentGate{discord: dc, consents: consents, now: time.Now}
}

func (g *ConsentGate) Evaluate(ctx context.Context, s *Session, member discord.VoiceParticipant) (Decision, error) {
	decision, err := g.evaluate(ctx, s, member)
	if err == nil {
		telemetry.ConsentDecisions.WithLabelValues(decision.String()).Inc()
	}
	return decision, err
}

func (g *ConsentGate) evaluate(ctx context.Context, s *Session, member discord.VoiceParticipant) (Decision, error) {
	if member.IsBot || member.UserID == "" || s.IsClosed() {
		return DecisionIgnored, nil
	}
	if s.IsConsented(member.UserID) {
		return DecisionAlreadyConsented, nil
	}
	if s.IsPrompted(member.UserID) {
		return DecisionAlreadyPrompted, nil
	}

	rec, err := g.consents.GetActiveConsent(ctx, s.GuildID, member.UserID, g.now())
	if err != nil {
		return DecisionIgnored, fmt.Errorf("lookup consent: %w", err)
	}
	if rec != nil {
		s.Consent(member.UserID, rec.DisplayName)
		slog.Info("consent restored", "guild_id", s.GuildID, "user_id", member.UserID, "expires_at", rec.ExpiresAt)
		return DecisionRestored, nil
	}

	if !s.MarkPrompted(member.UserID) {
		return DecisionAlreadyPrompted, nil
	}

	if err := g.discord.SendDirectMessage(member.UserID, consentDirectMessage(s.ThreadID)); err != nil {
		slog.Warn("failed to send consent dm", "error", err, "guild_id", s.GuildID, "user_id", member.UserID)
	}
	if err := g.discord.AddThreadMember(s.ThreadID, member.UserID); err != nil {
		slog.Warn("failed to add member to transcript thread", "error", err, "guild_id", s.GuildID, "user_id", member.UserID)
	}
	if err := g.RefreshPrompt(s); err != nil {
		slog.Warn("failed to post consent prompt", "error", err, "guild_id", s.GuildID, "thread_id", s.ThreadID)
	}
	if err := g.consents.MarkPromptSent(ctx, s.GuildID, member.UserID, g.now()); err != nil {
		slog.Error("failed to record consent prompt", "error", err, "guild_id", s.GuildID, "user_id", member.UserID)
	}
	slog.Info("consent prompt sent", "guild_id", s.GuildID, "user_id", member.UserID)
	return DecisionPrompted, nil
}

// RefreshPrompt posts the group consent prompt once per session and edits it afterwards.
func (g *ConsentGate) RefreshPrompt(s *Session) error {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()

	content := consentPromptMessage(s.PendingPrompts())
	if id := s.promptMessage(); id != "" {
		return g.discord.EditChannelMessage(s.ThreadID, id, content)
	}
	id, err := g.discord.CreateChannelMessage(s.ThreadID, content)
	if err != nil {
		return err
	}
	s.setPromptMessage(id)
	if err := g.discord.AddReaction(s.ThreadID, id, consentEmoji); err != nil {
		slog.Warn("failed to add consent reaction", "error", err, "thread_id", s.ThreadID)
	}
	return nil
}
