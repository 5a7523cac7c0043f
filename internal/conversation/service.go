package conversation

import (
	"context"

	"github.com/charmbracelet/log"

	"ragchat/internal/domain"
	"ragchat/internal/history"
	"ragchat/internal/session"
)

// Service is the surface used by chat transports: a session is created or
// resumed, answers questions one at a time, and is ended exactly once.
type Service struct {
	engine   *Engine
	registry *session.Registry
	logger   *log.Logger
}

// NewService wires an engine to the process-wide session registry.
func NewService(engine *Engine, registry *session.Registry, logger *log.Logger) *Service {
	return &Service{engine: engine, registry: registry, logger: logger.WithPrefix("conversation")}
}

// CreateOrResume makes the session live, restoring its durable history.
func (s *Service) CreateOrResume(sessionID string) error {
	if err := history.ValidateSessionID(sessionID); err != nil {
		return err
	}
	st := s.registry.GetOrCreate(sessionID)
	s.logger.Info("session active", "session_id", sessionID, "messages", st.Len())
	return nil
}

// Answer answers question within the session, creating it when needed.
func (s *Service) Answer(ctx context.Context, sessionID, question string) Result {
	st := s.registry.GetOrCreate(sessionID)
	return s.engine.Answer(ctx, st, question)
}

// End drops the in-memory state of the session. Durable history is kept.
func (s *Service) End(sessionID string) {
	s.registry.Remove(sessionID)
	s.logger.Info("session ended", "session_id", sessionID)
}

// History returns the in-memory conversation of a live session.
func (s *Service) History(sessionID string) ([]domain.Message, bool) {
	st, ok := s.registry.Get(sessionID)
	if !ok {
		return nil, false
	}
	return st.Messages(), true
}

// LiveSessions returns the number of sessions currently held in memory.
func (s *Service) LiveSessions() int { return s.registry.Len() }
