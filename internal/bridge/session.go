package bridge

import (
	"sync"

	"github.com/google/uuid"

	"personaut/internal/store"
)

// Session tracks one collaborator's connection identity. Host environments
// periodically invalidate sessions; the open project must survive that, so
// only the session id and the transient message history are replaced.
type Session struct {
	mu      sync.Mutex
	id      string
	project string
	history []store.BuildLogEntry
}

// NewSession mints a session with a fresh id.
func NewSession() *Session {
	return &Session{id: uuid.NewString()}
}

// ID returns the current session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Project returns the bound project name, if any.
func (s *Session) Project() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project
}

// BindProject associates the session with a project.
func (s *Session) BindProject(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.project = name
}

// Remember appends to the transient message history.
func (s *Session) Remember(entry store.BuildLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
}

// History returns a copy of the transient message history.
func (s *Session) History() []store.BuildLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.BuildLogEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Invalidate handles a session-invalid/session-valid cycle: the id is
// replaced and the history cleared, but the bound project is kept so the
// collaborator resumes where they were.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = uuid.NewString()
	s.history = nil
}
