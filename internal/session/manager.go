package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Gokias/GokiBot/internal/capture"
	"github.com/Gokias/GokiBot/internal/config"
	"github.com/Gokias/GokiBot/internal/discord"
	"github.com/Gokias/GokiBot/internal/repository"
	"github.com/Gokias/GokiBot/internal/telemetry"
	"github.com/Gokias/GokiBot/internal/webhook"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
)

const (
	teardownTimeout = 30 * time.Second
	commandTimeout  = 30 * time.Second
)

type Manager struct {
	cfg       *config.Config
	repo      repository.Repository
	discord   discord.Client
	backend   capture.Backend
	webhook   webhook.Sender
	registry  *Registry
	gate      *ConsentGate
	recorder  *SliceRecorder
	finalizer *SliceFinalizer
	loc       *time.Location
	now       func() time.Time

	sliceInterval   time.Duration
	finalizeTimeout time.Duration

	botMu     sync.RWMutex
	botUserID string
}

func NewManager(cfg *config.Config, repo repository.Repository, dc discord.Client, backend capture.Backend, engines EngineResolver, wh webhook.Sender) *Manager {
	loc := cfg.Location()
	return &Manager{
		cfg:             cfg,
		repo:            repo,
		discord:         dc,
		backend:         backend,
		webhook:         wh,
		registry:        NewRegistry(),
		gate:            NewConsentGate(dc, repo),
		recorder:        NewSliceRecorder(backend, cfg.FinalizeTimeout()),
		finalizer:       NewSliceFinalizer(dc, repo, engines, cfg.SliceInterval(), loc),
		loc:             loc,
		now:             time.Now,
		sliceInterval:   cfg.SliceInterval(),
		finalizeTimeout: cfg.FinalizeTimeout(),
	}
}

func (m *Manager) SetBotUserID(userID string) {
	m.botMu.Lock()
	defer m.botMu.Unlock()
	m.botUserID = userID
}

func (m *Manager) BotUserID() string {
	m.botMu.RLock()
	defer m.botMu.RUnlock()
	return m.botUserID
}

// StartSession starts capturing the voice channel and publishing lines into threadID.
func (m *Manager) StartSession(ctx context.Context, guildID, voiceChannelID, threadID string) (string, error) {
	if err := m.recorder.Available(); err != nil {
		return "", err
	}
	if !m.registry.Reserve(guildID) {
		return "", ErrSessionAlreadyActive
	}
	slog.Info("start session requested", "guild_id", guildID, "channel_id", voiceChannelID, "thread_id", threadID)

	s, err := m.prepareSession(ctx, guildID, voiceChannelID, threadID)
	if err != nil {
		m.registry.Release(guildID)
		slog.Error("failed to start session", "error", err, "guild_id", guildID, "channel_id", voiceChannelID)
		return "", err
	}
	m.registry.Activate(s)
	telemetry.SessionsStarted.Inc()
	telemetry.ActiveSessions.Set(float64(m.registry.Len()))

	if err := m.discord.SendChannelMessage(threadID, startThreadMessage(voiceChannelID)); err != nil {
		slog.Warn("failed to post start notice", "error", err, "guild_id", guildID, "thread_id", threadID)
	}
	m.evaluateParticipants(ctx, s)

	go m.runLoop(s)
	slog.Info("session activated", "guild_id", guildID, "session_id", s.ID, "work_dir", s.WorkDir, "language", s.Language)
	return s.ID, nil
}

func (m *Manager) prepareSession(ctx context.Context, guildID, voiceChannelID, threadID string) (*Session, error) {
	m.completeOrphanSession(ctx, guildID)

	s := newSession(sessionParams{
		GuildID:        guildID,
		VoiceChannelID: voiceChannelID,
		ThreadID:       threadID,
		StartedAt:      m.now(),
		WorkDir:        filepath.Join(m.cfg.TranscriptWorkDir, guildID+"-"+uuid.NewString()),
		Language:       m.guildLanguage(ctx, guildID),
	})
	if err := os.MkdirAll(s.WorkDir, 0o700); err != nil {
		s.cancel()
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	cleanup := func() {
		s.cancel()
		if err := m.backend.Disconnect(guildID); err != nil {
			slog.Warn("failed to disconnect after aborted start", "error", err, "guild_id", guildID)
		}
		_ = os.RemoveAll(s.WorkDir)
	}

	if _, err := m.recorder.Start(ctx, s); err != nil {
		cleanup()
		return nil, err
	}

	created, err := m.repo.CreateSession(ctx, repository.CreateSessionInput{
		GuildID:        guildID,
		VoiceChannelID: voiceChannelID,
		ThreadID:       threadID,
		StartedAt:      s.StartedAt,
	})
	if err != nil {
		if sink, _ := s.detachSink(); sink != nil {
			m.backend.StopCapture(sink, func(capture.Buffers) {})
		}
		cleanup()
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.ID = created.ID
	return s, nil
}

func (m *Manager) completeOrphanSession(ctx context.Context, guildID string) {
	orphan, err := m.repo.GetRunningSessionByGuild(ctx, guildID)
	if err != nil {
		slog.Error("failed to query running session", "error", err, "guild_id", guildID)
		return
	}
	if orphan == nil {
		return
	}
	if err := m.repo.UpdateSessionCompleted(ctx, repository.CompleteSessionInput{
		SessionID:  orphan.ID,
		EndedAt:    m.now(),
		StopReason: stopReasonOrphaned,
	}); err != nil {
		slog.Error("failed to complete orphan session", "error", err, "session_id", orphan.ID, "guild_id", guildID)
		return
	}
	slog.Warn("orphan running session marked as completed", "session_id", orphan.ID, "guild_id", guildID)
}

func (m *Manager) guildLanguage(ctx context.Context, guildID string) string {
	code, ok, err := m.repo.GetGuildSetting(ctx, guildID, repository.GuildSettingTranscribeLanguage)
	if err != nil {
		slog.Warn("failed to read guild language; using default", "error", err, "guild_id", guildID)
		return m.cfg.DefaultTranscribeLanguage
	}
	if !ok || code == "" {
		return m.cfg.DefaultTranscribeLanguage
	}
	return code
}

func (m *Manager) evaluateParticipants(ctx context.Context, s *Session) {
	participants, err := m.discord.ListVoiceChannelParticipants(s.GuildID, s.VoiceChannelID)
	if err != nil {
		slog.Warn("failed to list voice participants", "error", err, "guild_id", s.GuildID, "channel_id", s.VoiceChannelID)
		return
	}
	botUserID := m.BotUserID()
	for _, p := range participants {
		if p.IsBot || p.UserID == botUserID {
			continue
		}
		if _, err := m.gate.Evaluate(ctx, s, p); err != nil {
			slog.Error("consent evaluation failed", "error", err, "guild_id", s.GuildID, "user_id", p.UserID)
		}
	}
}

// EndSession closes the guild's session, finalizes the in-flight slice, and tears it down.
func (m *Manager) EndSession(ctx context.Context, guildID string) error {
	return m.endSession(ctx, guildID, stopReasonManual)
}

func (m *Manager) endSession(ctx context.Context, guildID, reason string) error {
	s := m.registry.Get(guildID)
	if s == nil {
		return ErrNoActiveSession
	}
	if !s.MarkClosed() {
		return ErrNoActiveSession
	}
	slog.Info("ending session", "guild_id", guildID, "session_id", s.ID, "reason", reason)

	s.cancel()
	wait := time.NewTimer(2 * m.finalizeTimeout)
	defer wait.Stop()
	select {
	case <-s.done:
	case <-wait.C:
		slog.Warn("live loop did not stop in time; continuing teardown", "guild_id", guildID, "session_id", s.ID)
	case <-ctx.Done():
		slog.Warn("end session wait cancelled; continuing teardown", "error", ctx.Err(), "guild_id", guildID, "session_id", s.ID)
	}

	if err := m.finalizeCurrentSlice(s); err != nil {
		slog.Warn("final slice was not finalized", "error", err, "guild_id", guildID, "session_id", s.ID)
	}
	m.teardown(s, reason)
	return nil
}

// EndAllSessions ends every registered session concurrently.
func (m *Manager) EndAllSessions(ctx context.Context) error {
	var g errgroup.Group
	for _, guildID := range m.registry.GuildIDs() {
		g.Go(func() error {
			if err := m.endSession(ctx, guildID, stopReasonServerClosed); err != nil && !errors.Is(err, ErrNoActiveSession) {
				return fmt.Errorf("end session for guild %s: %w", guildID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// teardown runs once per session regardless of which path closed it.
func (m *Manager) teardown(s *Session, reason string) {
	s.teardownOnce.Do(func() {
		s.MarkClosed()
		s.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		if err := m.backend.Disconnect(s.GuildID); err != nil {
			slog.Warn("failed to disconnect voice", "error", err, "guild_id", s.GuildID)
		}
		endedAt := m.now()
		if err := m.discord.SendChannelMessage(s.ThreadID, stopNotice(reason)); err != nil {
			slog.Warn("failed to post stop notice", "error", err, "guild_id", s.GuildID, "thread_id", s.ThreadID)
		}
		m.deliverTranscript(ctx, s, endedAt, reason)

		if err := m.repo.UpdateSessionCompleted(ctx, repository.CompleteSessionInput{
			SessionID:  s.ID,
			EndedAt:    endedAt,
			StopReason: reason,
		}); err != nil {
			slog.Error("failed to complete session", "error", err, "session_id", s.ID)
		}

		m.registry.Remove(s)
		if err := os.RemoveAll(s.WorkDir); err != nil {
			slog.Warn("failed to remove work dir", "error", err, "work_dir", s.WorkDir)
		}
		telemetry.SessionsTornDown.WithLabelValues(reason).Inc()
		telemetry.ActiveSessions.Set(float64(m.registry.Len()))
		slog.Info("session torn down", "guild_id", s.GuildID, "session_id", s.ID, "reason", reason, "slices", s.SliceNumber())
	})
}

func (m *Manager) deliverTranscript(ctx context.Context, s *Session, endedAt time.Time, reason string) {
	segments, err := m.repo.ListSegmentsBySessionID(ctx, s.ID)
	if err != nil {
		slog.Error("failed to list transcript segments", "error", err, "session_id", s.ID)
		return
	}
	userIDs, names := segmentParticipants(segments)
	meta, err := m.discord.ResolveTranscriptMetadata(ctx, s.GuildID, s.VoiceChannelID, userIDs)
	if err != nil {
		slog.Warn("failed to resolve transcript metadata; using ids", "error", err, "session_id", s.ID)
	}
	for i, p := range meta.Participants {
		if name := names[p.UserID]; name != "" {
			meta.Participants[i].DisplayName = name
		}
	}

	sum := transcriptSummary{
		sessionID:  s.ID,
		threadID:   s.ThreadID,
		startedAt:  s.StartedAt,
		endedAt:    endedAt,
		timezone:   m.cfg.TranscriptTimezone,
		loc:        m.loc,
		stopReason: reason,
	}
	body := buildTranscriptText(meta, sum, segments)
	if len(segments) > 0 {
		if err := m.discord.SendChannelMessageWithFile(discord.FileMessage{
			ChannelID: s.ThreadID,
			Content:   messageAttachmentTitle,
			Filename:  fmt.Sprintf("transcript-%s.txt", s.StartedAt.In(m.loc).Format("20060102-150405")),
			FileBody:  body,
		}); err != nil {
			slog.Warn("failed to attach transcript", "error", err, "session_id", s.ID)
		}
	}
	if err := m.webhook.SendTranscript(ctx, buildTranscriptWebhookPayload(meta, sum, segments, body)); err != nil {
		slog.Error("failed to send webhook transcript", "error", err, "session_id", s.ID)
	}
}

// SetDisplayAlias stores the name shown for the user and records consent.
func (m *Manager) SetDisplayAlias(ctx context.Context, guildID, userID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxAliasLength {
		return ErrInvalidDisplayName
	}
	if err := m.upsertConsent(ctx, guildID, userID, name); err != nil {
		return err
	}
	if s := m.activeSession(guildID); s != nil {
		s.SetAlias(userID, name)
		m.refreshPromptIfPosted(s)
	}
	return nil
}

// RecordConsentOptIn records consent and applies it to the active session from the next slice snapshot.
func (m *Manager) RecordConsentOptIn(ctx context.Context, guildID, userID string) error {
	name := ""
	rec, err := m.repo.GetActiveConsent(ctx, guildID, userID, m.now())
	if err != nil {
		slog.Warn("failed to read existing consent", "error", err, "guild_id", guildID, "user_id", userID)
	} else if rec != nil {
		name = rec.DisplayName
	}
	if name == "" {
		name = m.discord.ResolveDisplayName(guildID, userID)
	}
	if err := m.upsertConsent(ctx, guildID, userID, name); err != nil {
		return err
	}
	if s := m.activeSession(guildID); s != nil {
		s.Consent(userID, name)
		m.refreshPromptIfPosted(s)
	}
	slog.Info("consent recorded", "guild_id", guildID, "user_id", userID)
	return nil
}

func (m *Manager) upsertConsent(ctx context.Context, guildID, userID, name string) error {
	now := m.now()
	if err := m.repo.UpsertConsent(ctx, repository.UpsertConsentInput{
		GuildID:     guildID,
		UserID:      userID,
		DisplayName: name,
		ConsentedAt: now,
		ExpiresAt:   now.Add(m.cfg.ConsentValidity()),
	}); err != nil {
		return fmt.Errorf("upsert consent: %w", err)
	}
	return nil
}

func (m *Manager) activeSession(guildID string) *Session {
	s := m.registry.Get(guildID)
	if s == nil || s.IsClosed() {
		return nil
	}
	return s
}

func (m *Manager) refreshPromptIfPosted(s *Session) {
	if s.promptMessage() == "" {
		return
	}
	if err := m.gate.RefreshPrompt(s); err != nil {
		slog.Warn("failed to refresh consent prompt", "error", err, "guild_id", s.GuildID)
	}
}

// SetGuildLanguage validates and stores the recognition language; it returns the canonical tag.
func (m *Manager) SetGuildLanguage(ctx context.Context, guildID, code string) (string, error) {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLanguage, err)
	}
	canonical := tag.String()
	if err := m.repo.SetGuildSetting(ctx, guildID, repository.GuildSettingTranscribeLanguage, canonical); err != nil {
		return "", fmt.Errorf("save guild language: %w", err)
	}
	return canonical, nil
}

func (m *Manager) HandleVoiceStateUpdate(event discord.VoiceStateEvent) {
	s := m.activeSession(event.GuildID)
	if s == nil {
		return
	}
	before, after := event.BeforeChannelID, event.AfterChannelID

	if event.UserID == m.BotUserID() {
		if after != s.VoiceChannelID {
			slog.Info("bot left the session voice channel", "guild_id", event.GuildID, "after_channel_id", after)
			m.endSessionAsync(event.GuildID, stopReasonBotRemoved)
		}
		return
	}
	if event.UserIsBot {
		return
	}

	switch {
	case after == s.VoiceChannelID && before != s.VoiceChannelID:
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		member := discord.VoiceParticipant{UserID: event.UserID, DisplayName: m.discord.ResolveDisplayName(event.GuildID, event.UserID)}
		decision, err := m.gate.Evaluate(ctx, s, member)
		if err != nil {
			slog.Error("consent evaluation failed", "error", err, "guild_id", event.GuildID, "user_id", event.UserID)
			return
		}
		slog.Info("participant joined", "guild_id", event.GuildID, "user_id", event.UserID, "decision", decision.String())
	case before == s.VoiceChannelID && after != s.VoiceChannelID:
		if !m.hasHumanParticipants(s) {
			slog.Info("all participants left", "guild_id", event.GuildID, "session_id", s.ID)
			m.endSessionAsync(event.GuildID, stopReasonParticipantsLeft)
		}
	}
}

func (m *Manager) hasHumanParticipants(s *Session) bool {
	participants, err := m.discord.ListVoiceChannelParticipants(s.GuildID, s.VoiceChannelID)
	if err != nil {
		slog.Warn("failed to list voice participants; keeping session", "error", err, "guild_id", s.GuildID)
		return true
	}
	botUserID := m.BotUserID()
	for _, p := range participants {
		if !p.IsBot && p.UserID != botUserID {
			return true
		}
	}
	return false
}

func (m *Manager) endSessionAsync(guildID, reason string) {
	go func() {
		if err := m.endSession(context.Background(), guildID, reason); err != nil && !errors.Is(err, ErrNoActiveSession) {
			slog.Error("failed to end session", "error", err, "guild_id", guildID, "reason", reason)
		}
	}()
}

func (m *Manager) HandleReactionAdd(event discord.ReactionEvent) {
	if event.UserIsBot || event.Emoji != consentEmoji {
		return
	}
	s := m.activeSession(event.GuildID)
	if s == nil || event.MessageID != s.promptMessage() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := m.RecordConsentOptIn(ctx, event.GuildID, event.UserID); err != nil {
		slog.Error("failed to record consent from reaction", "error", err, "guild_id", event.GuildID, "user_id", event.UserID)
	}
}
