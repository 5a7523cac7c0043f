package conversation

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
	"ragchat/internal/history"
	"ragchat/internal/logger"
	"ragchat/internal/session"
)

type stubRetriever struct {
	passages []domain.Passage
	err      error
	gotK     int
}

func (r *stubRetriever) Retrieve(_ context.Context, _ string, k int) ([]domain.Passage, error) {
	r.gotK = k
	return r.passages, r.err
}

type stubGenerator struct {
	mu      sync.Mutex
	answers []string
	err     error
	prompts []domain.Prompt
}

func (g *stubGenerator) Generate(_ context.Context, p domain.Prompt) (domain.Generation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, p)
	if g.err != nil {
		return domain.Generation{}, g.err
	}
	answer := ""
	if len(g.answers) > 0 {
		answer, g.answers = g.answers[0], g.answers[1:]
	}
	return domain.Generation{Answer: answer}, nil
}

func (g *stubGenerator) lastPrompt() domain.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[len(g.prompts)-1]
}

type failingRecorder struct{}

func (failingRecorder) Append(id, _, _ string) error {
	return &history.WriteError{SessionID: id, Err: errors.New("disk full")}
}

type fixture struct {
	store     *history.Store
	registry  *session.Registry
	retriever *stubRetriever
	generator *stubGenerator
	svc       *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	l := logger.Discard()
	store, err := history.NewStore(t.TempDir(), 10, l)
	require.NoError(t, err)
	f := &fixture{
		store:     store,
		registry:  session.NewRegistry(store, l),
		retriever: &stubRetriever{passages: []domain.Passage{{Text: "X is a letter.", Source: map[string]string{"source": "alphabet.txt"}}}},
		generator: &stubGenerator{},
	}
	engine := NewEngine(f.retriever, f.generator, store, append([]Option{WithLogger(l)}, opts...)...)
	f.svc = NewService(engine, f.registry, l)
	return f
}

func TestAnswer_PersistsAndUpdatesMemory(t *testing.T) {
	f := newFixture(t)
	f.generator.answers = []string{"X is a letter."}
	require.NoError(t, f.svc.CreateOrResume("s1"))

	res := f.svc.Answer(context.Background(), "s1", "What is X?")

	assert.Equal(t, Result{Answer: "X is a letter.", SessionID: "s1"}, res)
	assert.Equal(t, []history.Turn{
		{Role: history.RoleHuman, Content: "What is X?"},
		{Role: history.RoleAI, Content: "X is a letter."},
	}, f.store.Load("s1"))

	msgs, ok := f.svc.History("s1")
	require.True(t, ok)
	assert.Equal(t, []domain.Message{
		{Role: domain.RoleUser, Content: "What is X?"},
		{Role: domain.RoleAssistant, Content: "X is a letter."},
	}, msgs)
}

func TestAnswer_HistoryFlowsIntoNextPrompt(t *testing.T) {
	f := newFixture(t)
	f.generator.answers = []string{"first", "second"}

	f.svc.Answer(context.Background(), "s", "q1")
	f.svc.Answer(context.Background(), "s", "what about it?")

	p := f.generator.lastPrompt()
	require.Len(t, p.Messages, 4)
	assert.Equal(t, domain.RoleSystem, p.Messages[0].Role)
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "q1"}, p.Messages[1])
	assert.Equal(t, domain.Message{Role: domain.RoleAssistant, Content: "first"}, p.Messages[2])
	last := p.Messages[3]
	assert.Equal(t, domain.RoleUser, last.Role)
	assert.Contains(t, last.Content, "X is a letter.")
	assert.Contains(t, last.Content, "(alphabet.txt)")
	assert.True(t, strings.HasSuffix(last.Content, "Question: what about it?"))
}

func TestAnswer_GeneratorFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.generator.answers = []string{"one"}
	f.svc.Answer(context.Background(), "y", "first question")
	require.Len(t, f.store.Load("y"), 2)

	f.generator.err = context.DeadlineExceeded
	res := f.svc.Answer(context.Background(), "y", "What is X?")

	assert.Equal(t, Result{Answer: FallbackAnswer, SessionID: "y"}, res)
	turns := f.store.Load("y")
	require.Len(t, turns, 2, "failed turn must not be recorded")
	for _, turn := range turns {
		assert.NotEqual(t, "What is X?", turn.Content)
	}
	msgs, _ := f.svc.History("y")
	assert.Len(t, msgs, 2, "failed turn must not reach session memory")
}

func TestAnswer_RetrieverFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.retriever.err = errors.New("index unavailable")

	res := f.svc.Answer(context.Background(), "r", "anything")

	assert.Equal(t, FallbackAnswer, res.Answer)
	assert.Equal(t, "r", res.SessionID)
	assert.Empty(t, f.store.Load("r"))
	assert.Empty(t, f.generator.prompts, "generator is not called without context")
}

func TestAnswer_EmptyGenerationDegrades(t *testing.T) {
	f := newFixture(t)
	f.generator.answers = []string{"   "}

	res := f.svc.Answer(context.Background(), "e", "q")
	assert.Equal(t, FallbackAnswer, res.Answer)
	assert.Empty(t, f.store.Load("e"))
}

func TestAnswer_PersistFailureStillAnswers(t *testing.T) {
	l := logger.Discard()
	store, err := history.NewStore(t.TempDir(), 10, l)
	require.NoError(t, err)
	registry := session.NewRegistry(store, l)
	gen := &stubGenerator{answers: []string{"still here"}}
	engine := NewEngine(&stubRetriever{}, gen, failingRecorder{}, WithLogger(l))
	svc := NewService(engine, registry, l)

	res := svc.Answer(context.Background(), "p", "q")

	assert.Equal(t, "still here", res.Answer)
	msgs, ok := svc.History("p")
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestEngine_TopKIsFixed(t *testing.T) {
	f := newFixture(t, WithTopK(3))
	f.generator.answers = []string{"a"}

	f.svc.Answer(context.Background(), "k", "q")
	assert.Equal(t, 3, f.retriever.gotK)

	f2 := newFixture(t)
	f2.generator.answers = []string{"a"}
	f2.svc.Answer(context.Background(), "k", "q")
	assert.Equal(t, DefaultTopK, f2.retriever.gotK)
}

func TestService_ResumeRestoresDurableHistory(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Append("old", "earlier q", "earlier a"))

	require.NoError(t, f.svc.CreateOrResume("old"))
	msgs, ok := f.svc.History("old")
	require.True(t, ok)
	assert.Equal(t, []domain.Message{
		{Role: domain.RoleUser, Content: "earlier q"},
		{Role: domain.RoleAssistant, Content: "earlier a"},
	}, msgs)
}

func TestService_EndIsIdempotentAndKeepsDurableHistory(t *testing.T) {
	f := newFixture(t)
	f.generator.answers = []string{"a"}
	f.svc.Answer(context.Background(), "gone", "q")

	f.svc.End("gone")
	f.svc.End("gone")

	assert.Zero(t, f.svc.LiveSessions())
	_, ok := f.svc.History("gone")
	assert.False(t, ok)
	assert.Len(t, f.store.Load("gone"), 2)
	_, err := os.Stat(f.store.Dir())
	assert.NoError(t, err)
}

func TestService_CreateOrResumeRejectsBadID(t *testing.T) {
	f := newFixture(t)
	err := f.svc.CreateOrResume("../../etc/passwd")
	assert.ErrorIs(t, err, history.ErrInvalidSessionID)
	assert.Zero(t, f.svc.LiveSessions())
}

func TestBuildPrompt_NoContext(t *testing.T) {
	p := BuildPrompt("sys", nil, nil, "  hello  ")
	require.Len(t, p.Messages, 2)
	assert.Equal(t, "sys", p.Messages[0].Content)
	assert.Contains(t, p.Messages[1].Content, "(no relevant context found)")
	assert.True(t, strings.HasSuffix(p.Messages[1].Content, "Question: hello"))
}

func TestRenderSource(t *testing.T) {
	assert.Equal(t, "", renderSource(nil))
	assert.Equal(t, "(doc.txt)", renderSource(map[string]string{"source": "doc.txt", "chunk_id": "1"}))
	assert.Equal(t, "(a=1, b=2)", renderSource(map[string]string{"b": "2", "a": "1"}))
}
