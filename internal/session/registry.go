// Package session keeps the in-memory conversation state of live chat sessions.
package session

import (
	"sync"

	"github.com/charmbracelet/log"

	"ragchat/internal/domain"
	"ragchat/internal/history"
)

// HistoryLoader returns the durable turns of a session in order.
type HistoryLoader interface {
	Load(sessionID string) []history.Turn
}

// State is the in-memory conversation of one session. A State is owned by a single
// connection; the mutex only makes reads from other goroutines safe.
type State struct {
	ID string

	mu       sync.Mutex
	messages []domain.Message
}

// Messages returns a copy of the accumulated messages.
func (s *State) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Append adds messages to the end of the conversation.
func (s *State) Append(msgs ...domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// Len returns the number of messages held.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Registry maps session ids to their live State.
type Registry struct {
	loader HistoryLoader
	logger *log.Logger

	mu       sync.Mutex
	sessions map[string]*State
}

// NewRegistry creates an empty registry that rebuilds state through loader.
func NewRegistry(loader HistoryLoader, logger *log.Logger) *Registry {
	return &Registry{
		loader:   loader,
		logger:   logger.WithPrefix("sessions"),
		sessions: make(map[string]*State),
	}
}

// GetOrCreate returns the live state for id, building it from durable history on
// first use. The same *State is returned until Remove is called.
func (r *Registry) GetOrCreate(id string) *State {
	if st, ok := r.Get(id); ok {
		return st
	}

	// disk read happens outside the lock; the first insert wins
	st := &State{ID: id, messages: FromTurns(r.loader.Load(id))}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[id]; ok {
		return existing
	}
	r.sessions[id] = st
	r.logger.Debug("session created", "session_id", id, "restored_messages", len(st.messages))
	return st
}

// Get returns the live state for id, if any.
func (r *Registry) Get(id string) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[id]
	return st, ok
}

// Remove drops the live state for id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	r.logger.Debug("session removed", "session_id", id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// FromTurns maps persisted turns to chat messages: human -> user, ai -> assistant.
// Turns with an unknown role are skipped.
func FromTurns(turns []history.Turn) []domain.Message {
	msgs := make([]domain.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case history.RoleHuman:
			msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: t.Content})
		case history.RoleAI:
			msgs = append(msgs, domain.Message{Role: domain.RoleAssistant, Content: t.Content})
		}
	}
	return msgs
}
