package session

import (
	"sort"
	"sync"
)

// Registry holds at most one session per guild.
// A reserved guild blocks a second start while the first one is still connecting.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	reserved map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		reserved: make(map[string]struct{}),
	}
}

// Reserve claims the guild slot; it returns false when a session exists or is starting.
func (r *Registry) Reserve(guildID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[guildID]; ok {
		return false
	}
	if _, ok := r.reserved[guildID]; ok {
		return false
	}
	r.reserved[guildID] = struct{}{}
	return true
}

func (r *Registry) Release(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, guildID)
}

// Activate publishes a session for its reserved guild.
func (r *Registry) Activate(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, s.GuildID)
	r.sessions[s.GuildID] = s
}

func (r *Registry) Get(guildID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[guildID]
}

// Remove deletes the entry only if it still points at s.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.GuildID] != s {
		return false
	}
	delete(r.sessions, s.GuildID)
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) GuildIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
