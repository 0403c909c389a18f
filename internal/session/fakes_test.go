package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gokias/GokiBot/internal/capture"
	"github.com/Gokias/GokiBot/internal/config"
	"github.com/Gokias/GokiBot/internal/discord"
	"github.com/Gokias/GokiBot/internal/repository"
	"github.com/Gokias/GokiBot/internal/transcriber"
	"github.com/Gokias/GokiBot/internal/webhook"
	"golang.org/x/time/rate"
)

type sentMessage struct {
	channelID string
	content   string
}

type mockDiscordClient struct {
	mu                   sync.Mutex
	sendCalls            []sentMessage
	sendErr              error
	fileCalls            []discord.FileMessage
	dmCalls              []string
	createdMessages      []string
	editedMessages       []string
	reactions            []string
	threadMembers        []string
	threads              []string
	displayNames         map[string]string
	userVoiceChannelByID map[string]string
	participants         []discord.VoiceParticipant
	nextMessageID        int
}

func (m *mockDiscordClient) Connect(_ context.Context) error { return nil }
func (m *mockDiscordClient) Close() error                    { return nil }
func (m *mockDiscordClient) Run() error                      { return nil }
func (m *mockDiscordClient) GetBotUserID() (string, error)   { return "bot-self", nil }

func (m *mockDiscordClient) RegisterVoiceStateUpdateHandler(_ func(discord.VoiceStateEvent)) {}
func (m *mockDiscordClient) RegisterSlashCommandHandler(_ func(discord.SlashCommandEvent))   {}
func (m *mockDiscordClient) RegisterReactionAddHandler(_ func(discord.ReactionEvent))        {}
func (m *mockDiscordClient) UpsertSlashCommands(_ string, _ []discord.SlashCommandDefinition) error {
	return nil
}

func (m *mockDiscordClient) JoinVoiceChannel(_, _ string) (discord.VoiceConnection, error) {
	return nil, fmt.Errorf("voice is handled by the capture backend in tests")
}

func (m *mockDiscordClient) GetUserVoiceChannelID(_, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userVoiceChannelByID[userID], nil
}

func (m *mockDiscordClient) ListVoiceChannelParticipants(_, _ string) ([]discord.VoiceParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]discord.VoiceParticipant(nil), m.participants...), nil
}

func (m *mockDiscordClient) setParticipants(p ...discord.VoiceParticipant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants = p
}

func (m *mockDiscordClient) ResolveDisplayName(_, userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayNames[userID]
}

func (m *mockDiscordClient) ResolveTranscriptMetadata(_ context.Context, guildID, channelID string, participantUserIDs []string) (discord.TranscriptMetadata, error) {
	participants := make([]discord.TranscriptParticipant, 0, len(participantUserIDs))
	for _, userID := range participantUserIDs {
		participants = append(participants, discord.TranscriptParticipant{UserID: userID, DisplayName: userID})
	}
	return discord.TranscriptMetadata{
		DiscordServerID:         guildID,
		DiscordServerName:       guildID,
		DiscordVoiceChannelID:   channelID,
		DiscordVoiceChannelName: channelID,
		Participants:            participants,
	}, nil
}

func (m *mockDiscordClient) StartThread(channelID, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = append(m.threads, name)
	return "thread-" + channelID, nil
}

func (m *mockDiscordClient) AddThreadMember(_, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threadMembers = append(m.threadMembers, userID)
	return nil
}

func (m *mockDiscordClient) SendChannelMessage(channelID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls = append(m.sendCalls, sentMessage{channelID: channelID, content: content})
	return m.sendErr
}

func (m *mockDiscordClient) CreateChannelMessage(_, content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMessageID++
	m.createdMessages = append(m.createdMessages, content)
	return fmt.Sprintf("msg-%d", m.nextMessageID), nil
}

func (m *mockDiscordClient) EditChannelMessage(_, _, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editedMessages = append(m.editedMessages, content)
	return nil
}

func (m *mockDiscordClient) SendChannelMessageWithFile(msg discord.FileMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileCalls = append(m.fileCalls, msg)
	return nil
}

func (m *mockDiscordClient) SendDirectMessage(userID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dmCalls = append(m.dmCalls, userID)
	return nil
}

func (m *mockDiscordClient) AddReaction(_, messageID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, messageID+":"+emoji)
	return nil
}

// transcriptLines returns posted messages that look like transcript lines, in order.
func (m *mockDiscordClient) transcriptLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.sendCalls {
		if strings.HasPrefix(c.content, "[") {
			out = append(out, c.content)
		}
	}
	return out
}

func (m *mockDiscordClient) sentContaining(substr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.sendCalls {
		if strings.Contains(c.content, substr) {
			n++
		}
	}
	return n
}

func (m *mockDiscordClient) fileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fileCalls)
}

type mockRepository struct {
	mu           sync.Mutex
	createCount  int
	running      *repository.Session
	completed    []repository.CompleteSessionInput
	insertCalls  []repository.InsertSegmentInput
	consents     map[string]repository.ConsentRecord
	upserts      []repository.UpsertConsentInput
	promptsSent  []string
	lookups      int
	settings     map[string]string
	consentErr   error
	createErr    error
	settingsErr  error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		consents: make(map[string]repository.ConsentRecord),
		settings: make(map[string]string),
	}
}

func (m *mockRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.createCount++
	return &repository.Session{
		ID:             fmt.Sprintf("session-%d", m.createCount),
		GuildID:        input.GuildID,
		VoiceChannelID: input.VoiceChannelID,
		ThreadID:       input.ThreadID,
		StartedAt:      input.StartedAt,
		Status:         repository.SessionStatusRunning,
	}, nil
}

func (m *mockRepository) UpdateSessionCompleted(_ context.Context, input repository.CompleteSessionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, input)
	return nil
}

func (m *mockRepository) GetRunningSessionByGuild(_ context.Context, _ string) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running, nil
}

func (m *mockRepository) InsertSegment(_ context.Context, input repository.InsertSegmentInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls = append(m.insertCalls, input)
	return nil
}

func (m *mockRepository) ListSegmentsBySessionID(_ context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.TranscriptSegment
	for _, in := range m.insertCalls {
		if in.SessionID != sessionID {
			continue
		}
		out = append(out, repository.TranscriptSegment{
			SessionID:    in.SessionID,
			SliceNumber:  in.SliceNumber,
			SegmentIndex: in.SegmentIndex,
			UserID:       in.UserID,
			DisplayName:  in.DisplayName,
			Content:      in.Content,
			SpokenAt:     in.SpokenAt,
		})
	}
	return out, nil
}

func (m *mockRepository) UpsertConsent(_ context.Context, input repository.UpsertConsentInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consentErr != nil {
		return m.consentErr
	}
	m.upserts = append(m.upserts, input)
	m.consents[input.GuildID+"/"+input.UserID] = repository.ConsentRecord{
		GuildID:     input.GuildID,
		UserID:      input.UserID,
		DisplayName: input.DisplayName,
		ConsentedAt: input.ConsentedAt,
		ExpiresAt:   input.ExpiresAt,
	}
	return nil
}

func (m *mockRepository) GetActiveConsent(_ context.Context, guildID, userID string, now time.Time) (*repository.ConsentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	rec, ok := m.consents[guildID+"/"+userID]
	if !ok || !rec.IsActive(now) {
		return nil, nil
	}
	return &rec, nil
}

func (m *mockRepository) MarkPromptSent(_ context.Context, guildID, userID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptsSent = append(m.promptsSent, guildID+"/"+userID)
	return nil
}

func (m *mockRepository) GetGuildSetting(_ context.Context, guildID, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settingsErr != nil {
		return "", false, m.settingsErr
	}
	v, ok := m.settings[guildID+"/"+key]
	return v, ok, nil
}

func (m *mockRepository) SetGuildSetting(_ context.Context, guildID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[guildID+"/"+key] = value
	return nil
}

func (m *mockRepository) completedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completed)
}

type mockSink struct {
	id     string
	active atomic.Bool
}

func (s *mockSink) ID() string   { return s.id }
func (s *mockSink) Active() bool { return s.active.Load() }

type mockBackend struct {
	mu           sync.Mutex
	availableErr error
	startErrs    []error
	startErr     error
	buffers      capture.Buffers
	hangStop     bool
	starts       int
	stops        int
	disconnects  int
	sinks        []*mockSink
}

func (b *mockBackend) Available() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.availableErr
}

func (b *mockBackend) StartCapture(_ context.Context, _, _ string) (capture.Sink, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	err := b.startErr
	if len(b.startErrs) > 0 {
		err = b.startErrs[0]
		b.startErrs = b.startErrs[1:]
	}
	if err != nil {
		return nil, err
	}
	s := &mockSink{id: fmt.Sprintf("sink-%d", b.starts)}
	s.active.Store(true)
	b.sinks = append(b.sinks, s)
	return s, nil
}

func (b *mockBackend) StopCapture(_ capture.Sink, done func(capture.Buffers)) {
	b.mu.Lock()
	b.stops++
	hang := b.hangStop
	buffers := make(capture.Buffers, len(b.buffers))
	for k, v := range b.buffers {
		buffers[k] = v
	}
	b.mu.Unlock()
	if hang {
		return
	}
	go done(buffers)
}

func (b *mockBackend) Disconnect(_ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnects++
	return nil
}

func (b *mockBackend) setBuffers(buffers capture.Buffers) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffers = buffers
}

func (b *mockBackend) setStartErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startErr = err
}

func (b *mockBackend) counts() (starts, stops, disconnects int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts, b.stops, b.disconnects
}

func (b *mockBackend) lastSink() *mockSink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sinks[len(b.sinks)-1]
}

type mockEngine struct {
	mu           sync.Mutex
	files        []string
	byUser       map[string][]transcriber.Utterance
	onTranscribe func(path string)
}

func (e *mockEngine) Name() string { return "mock" }

func (e *mockEngine) Transcribe(_ context.Context, req transcriber.Request) ([]transcriber.Utterance, error) {
	if e.onTranscribe != nil {
		e.onTranscribe(req.FilePath)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files = append(e.files, req.FilePath)
	userID := strings.TrimSuffix(filepath.Base(req.FilePath), ".ogg")
	return e.byUser[userID], nil
}

func (e *mockEngine) transcribedUsers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.files))
	for _, f := range e.files {
		out = append(out, strings.TrimSuffix(filepath.Base(f), ".ogg"))
	}
	return out
}

type mockResolver struct {
	engine transcriber.Engine
	err    error
}

func (r *mockResolver) Resolve(_ context.Context) (transcriber.Engine, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.engine, nil
}

type mockWebhookSender struct {
	mu       sync.Mutex
	payloads []webhook.TranscriptPayload
}

func (m *mockWebhookSender) SendTranscript(_ context.Context, payload webhook.TranscriptPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return nil
}

func (m *mockWebhookSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payloads)
}

type testHarness struct {
	manager  *Manager
	repo     *mockRepository
	discord  *mockDiscordClient
	backend  *mockBackend
	engine   *mockEngine
	resolver *mockResolver
	webhook  *mockWebhookSender
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	cfg := &config.Config{
		Env:                       "test",
		TranscriptTimezone:        "UTC",
		DefaultTranscribeLanguage: "en-US",
		SliceIntervalSec:          12,
		FinalizeTimeoutSec:        1,
		MaxCaptureFailures:        3,
		ConsentValidityDays:       180,
		TranscriptWorkDir:         t.TempDir(),
		SpeechEngine:              config.SpeechEngineAuto,
	}
	h := &testHarness{
		repo: newMockRepository(),
		discord: &mockDiscordClient{
			displayNames:         map[string]string{},
			userVoiceChannelByID: map[string]string{},
		},
		backend: &mockBackend{},
		engine:  &mockEngine{byUser: map[string][]transcriber.Utterance{}},
		webhook: &mockWebhookSender{},
	}
	h.resolver = &mockResolver{engine: h.engine}
	h.manager = NewManager(cfg, h.repo, h.discord, h.backend, h.resolver, h.webhook)
	h.manager.SetBotUserID("bot-self")
	// Ticks are driven by hand unless a test shortens the interval.
	h.manager.sliceInterval = time.Hour
	h.manager.finalizer.publishRate = rate.Inf
	t.Cleanup(func() {
		_ = h.manager.EndAllSessions(context.Background())
	})
	return h
}

func (h *testHarness) start(t *testing.T) *Session {
	t.Helper()
	if _, err := h.manager.StartSession(context.Background(), "guild-1", "vc-1", "thread-1"); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	s := h.manager.registry.Get("guild-1")
	if s == nil {
		t.Fatal("expected session in registry")
	}
	return s
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}
