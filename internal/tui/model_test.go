package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/conversation"
	"ragchat/internal/domain"
)

type fakeChat struct {
	questions []string
	answer    string
}

func (f *fakeChat) Answer(_ context.Context, id, q string) conversation.Result {
	f.questions = append(f.questions, q)
	return conversation.Result{Answer: f.answer, SessionID: id}
}

func typeText(m tea.Model, s string) tea.Model {
	for _, r := range s {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

func TestModel_EnterAsksAndRendersAnswer(t *testing.T) {
	chat := &fakeChat{answer: "Six layers."}
	var m tea.Model = New(context.Background(), chat, "s1", "summary", nil)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})

	m = typeText(m, "layers?")
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.(Model).pending)
	assert.Equal(t, "", m.(Model).input.Value())

	// a second Enter while pending is ignored
	_, again := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, again)

	m, _ = m.Update(cmd())
	assert.Equal(t, []string{"layers?"}, chat.questions)
	model := m.(Model)
	assert.False(t, model.pending)
	require.Len(t, model.entries, 2)
	assert.Equal(t, "Six layers.", model.entries[1].text)
	assert.Contains(t, model.View(), "RAG Chat")
}

func TestModel_FallbackAnswerSetsStatus(t *testing.T) {
	chat := &fakeChat{answer: conversation.FallbackAnswer}
	var m tea.Model = New(context.Background(), chat, "s1", "", nil)
	m = typeText(m, "q")
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = m.Update(cmd())
	assert.Contains(t, m.(Model).status, "failed")
}

func TestNew_ShowsEarlierMessages(t *testing.T) {
	m := New(context.Background(), &fakeChat{}, "old", "", []domain.Message{
		{Role: domain.RoleUser, Content: "earlier q"},
		{Role: domain.RoleAssistant, Content: "earlier a"},
	})
	require.Len(t, m.entries, 2)
	assert.Equal(t, "earlier q", m.entries[1].question)
	assert.True(t, strings.Contains(m.renderTranscript(), "earlier a"))
}

func TestHighlightBestSentence(t *testing.T) {
	text := "Cats sleep a lot. The decoder has six layers."
	out := highlightBestSentence(text, "decoder layers")
	assert.Contains(t, out, "Cats sleep a lot.")
	assert.Contains(t, out, "six layers")

	plain := highlightBestSentence("Nothing related here.", "decoder")
	assert.Equal(t, "Nothing related here.", plain)
}

func TestHighlightBestSentence_UnterminatedTail(t *testing.T) {
	out := highlightBestSentence("Cats sleep. the decoder stacks layers", "decoder")
	assert.Contains(t, out, "Cats sleep.")
	assert.Contains(t, out, "decoder stacks layers")
	assert.Equal(t, " ", highlightBestSentence(" ", "decoder"))
}
