package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Gokias/GokiBot/internal/capture"
)

// Session is one continuous transcription run in one guild.
// Identity fields are immutable after construction; everything else is guarded by mu.
type Session struct {
	ID             string
	GuildID        string
	VoiceChannelID string
	ThreadID       string
	StartedAt      time.Time
	WorkDir        string
	Language       string

	mu              sync.Mutex
	consented       map[string]struct{}
	aliases         map[string]string
	prompted        map[string]struct{}
	sliceNumber     int
	failureCount    int
	closed          bool
	sink            capture.Sink
	promptMessageID string
	nextLineIndex   int

	promptMu sync.Mutex

	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	teardownOnce sync.Once
}

type sessionParams struct {
	GuildID        string
	VoiceChannelID string
	ThreadID       string
	StartedAt      time.Time
	WorkDir        string
	Language       string
}

func newSession(p sessionParams) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		GuildID:        p.GuildID,
		VoiceChannelID: p.VoiceChannelID,
		ThreadID:       p.ThreadID,
		StartedAt:      p.StartedAt,
		WorkDir:        p.WorkDir,
		Language:       p.Language,
		consented:      make(map[string]struct{}),
		aliases:        make(map[string]string),
		prompted:       make(map[string]struct{}),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
}

func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// MarkClosed reports whether this call performed the transition.
func (s *Session) MarkClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

func (s *Session) IsConsented(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.consented[userID]
	return ok
}

// Consent adds the user to the consented set. name becomes the alias only when none is set yet.
// A closed session ignores it.
func (s *Session) Consent(userID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.consented[userID] = struct{}{}
	if _, ok := s.aliases[userID]; !ok && name != "" {
		s.aliases[userID] = name
	}
}

func (s *Session) SetAlias(userID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.consented[userID] = struct{}{}
	s.aliases[userID] = name
}

func (s *Session) Alias(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.aliases[userID]
	return name, ok
}

func (s *Session) IsPrompted(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.prompted[userID]
	return ok
}

// MarkPrompted returns false when the user was already prompted in this session or the session is closed.
func (s *Session) MarkPrompted(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.prompted[userID]; ok {
		return false
	}
	s.prompted[userID] = struct{}{}
	return true
}

// PendingPrompts lists prompted users that have not consented yet, ascending by id.
func (s *Session) PendingPrompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.prompted))
	for id := range s.prompted {
		if _, ok := s.consented[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ConsentSnapshot copies the consented set under the session lock.
func (s *Session) ConsentSnapshot() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.consented))
	for id := range s.consented {
		out[id] = struct{}{}
	}
	return out
}

func (s *Session) SliceNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sliceNumber
}

func (s *Session) FailureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failureCount
}

func (s *Session) recordFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
	return s.failureCount
}

func (s *Session) resetFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount = 0
}

func (s *Session) currentSink() capture.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

// attachSink opens the next slice and returns its number.
func (s *Session) attachSink(sink capture.Sink) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	s.sliceNumber++
	return s.sliceNumber
}

func (s *Session) detachSink() (capture.Sink, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sink := s.sink
	s.sink = nil
	return sink, s.sliceNumber
}

func (s *Session) promptMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promptMessageID
}

func (s *Session) setPromptMessage(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptMessageID = id
}

func (s *Session) takeLineIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.nextLineIndex
	s.nextLineIndex++
	return idx
}
