// Package conversation answers questions within a chat session using retrieved
// context, and keeps session memory and durable history in step.
package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/log"

	"ragchat/internal/domain"
	"ragchat/internal/session"
)

// FallbackAnswer is returned to the user when retrieval or generation fails.
const FallbackAnswer = "Error while generating response."

// DefaultTopK is the number of passages retrieved per question.
const DefaultTopK = 5

// TurnRecorder persists a completed question/answer turn.
type TurnRecorder interface {
	Append(sessionID, question, answer string) error
}

// Result is what a caller gets back for a question.
type Result struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id"`
}

// RetrievalError wraps a Retriever failure.
type RetrievalError struct{ Err error }

func (e *RetrievalError) Error() string { return "retrieve context: " + e.Err.Error() }
func (e *RetrievalError) Unwrap() error { return e.Err }

// GenerationError wraps a Generator failure.
type GenerationError struct{ Err error }

func (e *GenerationError) Error() string { return "generate answer: " + e.Err.Error() }
func (e *GenerationError) Unwrap() error { return e.Err }

var errEmptyAnswer = errors.New("generator returned an empty answer")

// Engine runs one question through retrieve -> generate -> record.
type Engine struct {
	retriever domain.Retriever
	generator domain.Generator
	recorder  TurnRecorder
	topK      int
	system    string
	logger    *log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTopK sets how many passages are retrieved per question.
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithSystemPrompt replaces the default system instruction.
func WithSystemPrompt(s string) Option {
	return func(e *Engine) {
		if strings.TrimSpace(s) != "" {
			e.system = s
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine binds an engine to its collaborators.
func NewEngine(retriever domain.Retriever, generator domain.Generator, recorder TurnRecorder, opts ...Option) *Engine {
	e := &Engine{
		retriever: retriever,
		generator: generator,
		recorder:  recorder,
		topK:      DefaultTopK,
		system:    DefaultSystemPrompt,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithPrefix("engine")
	return e
}

// TopK returns the retrieval breadth.
func (e *Engine) TopK() int { return e.topK }

// Answer never fails: retrieval and generation errors degrade to FallbackAnswer
// and leave both session memory and durable history untouched.
func (e *Engine) Answer(ctx context.Context, st *session.State, question string) Result {
	answer, sources, err := e.generate(ctx, st, question)
	if err != nil {
		e.logger.Error("answer failed", "session_id", st.ID, "question", question, "err", err)
		return Result{Answer: FallbackAnswer, SessionID: st.ID}
	}
	for i, src := range sources {
		e.logger.Debug("source document", "session_id", st.ID, "rank", i+1, "score", src.Score, "source", src.Source)
	}

	if err := e.recorder.Append(st.ID, question, answer); err != nil {
		// answer is still returned and kept in memory
		e.logger.Error("turn not persisted", "session_id", st.ID, "err", err)
	}
	st.Append(
		domain.Message{Role: domain.RoleUser, Content: question},
		domain.Message{Role: domain.RoleAssistant, Content: answer},
	)
	return Result{Answer: answer, SessionID: st.ID}
}

func (e *Engine) generate(ctx context.Context, st *session.State, question string) (string, []domain.Passage, error) {
	passages, err := e.retriever.Retrieve(ctx, question, e.topK)
	if err != nil {
		return "", nil, &RetrievalError{Err: err}
	}
	prompt := BuildPrompt(e.system, st.Messages(), passages, question)

	gen, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		return "", nil, &GenerationError{Err: err}
	}
	answer := strings.TrimSpace(gen.Answer)
	if answer == "" {
		return "", nil, &GenerationError{Err: errEmptyAnswer}
	}
	sources := gen.Sources
	if len(sources) == 0 {
		sources = passages
	}
	e.logger.Info("answered", "session_id", st.ID, "passages", len(passages), "history", len(prompt.Messages)-2)
	return answer, sources, nil
}
