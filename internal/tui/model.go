package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragchat/internal/conversation"
	"ragchat/internal/domain"
	"ragchat/internal/textutil"
)

// ChatPort is the TUI-facing subset of the conversation service.
type ChatPort interface {
	Answer(ctx context.Context, sessionID, question string) conversation.Result
}

type entry struct {
	role     string
	text     string
	question string
}

type answerMsg struct {
	question string
	result   conversation.Result
}

// Model is the Bubble Tea model for the chat TUI.
type Model struct {
	ctx       context.Context
	chat      ChatPort
	sessionID string
	input     textinput.Model
	viewport  viewport.Model
	entries   []entry
	summary   string
	status    string
	pending   bool
	ready     bool
}

// New creates a chat model for sessionID. Earlier messages of a resumed session
// are shown first.
func New(ctx context.Context, chat ChatPort, sessionID, summary string, earlier []domain.Message) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	m := Model{
		ctx:       ctx,
		chat:      chat,
		sessionID: sessionID,
		input:     ti,
		viewport:  vp,
		summary:   summary,
		status:    "Session " + sessionID + ". Type to chat.",
	}
	var lastQuestion string
	for _, msg := range earlier {
		switch msg.Role {
		case domain.RoleUser:
			lastQuestion = msg.Content
			m.entries = append(m.entries, entry{role: domain.RoleUser, text: msg.Content})
		case domain.RoleAssistant:
			m.entries = append(m.entries, entry{role: domain.RoleAssistant, text: msg.Content, question: lastQuestion})
		}
	}
	return m
}

// Init starts the cursor blink and sets the window title.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tea.SetWindowTitle(title(m.sessionID)))
}

// Update handles key, window and answer events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around transcript and input boxes
		_, rh := transcriptBoxStyle.GetFrameSize()
		_, qh := inputBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + summary
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.refresh()
		return m, nil
	case answerMsg:
		m.pending = false
		m.entries = append(m.entries, entry{role: domain.RoleAssistant, text: msg.result.Answer, question: msg.question})
		if msg.result.Answer == conversation.FallbackAnswer {
			m.status = "Answer failed; see log."
		} else {
			m.status = "Session " + m.sessionID
		}
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.pending {
				return m, nil
			}
			m.input.SetValue("")
			m.pending = true
			m.status = "Thinking..."
			m.entries = append(m.entries, entry{role: domain.RoleUser, text: q})
			m.refresh()
			return m, m.ask(q)
		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(question string) tea.Cmd {
	chat, ctx, id := m.chat, m.ctx, m.sessionID
	return func() tea.Msg {
		return answerMsg{question: question, result: chat.Answer(ctx, id, question)}
	}
}

// View renders the TUI layout and the transcript.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("RAG Chat")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := inputBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + transcript + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if len(m.entries) == 0 {
		return "No messages yet."
	}
	var b strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch e.role {
		case domain.RoleUser:
			b.WriteString(userStyle.Render("you: "))
			b.WriteString(e.text)
		default:
			b.WriteString(assistantStyle.Render("assistant: "))
			b.WriteString(highlightBestSentence(e.text, e.question))
		}
	}
	return b.String()
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
)

// highlightBestSentence emphasizes the sentence sharing most words with question.
// Text without any overlap is returned unchanged.
func highlightBestSentence(text, question string) string {
	sentences := textutil.Sentences(text)
	if len(sentences) == 0 {
		return text
	}
	query := textutil.WordSet(question)
	bestIdx, bestScore := -1, 0
	for i, s := range sentences {
		if shared, _ := textutil.Overlap(query, s); shared > bestScore {
			bestIdx, bestScore = i, shared
		}
	}
	if bestIdx >= 0 {
		sentences[bestIdx] = highlightStyle.Render(sentences[bestIdx])
	}
	return strings.Join(sentences, " ")
}

func title(sessionID string) string { return fmt.Sprintf("rag chat [%s]", sessionID) }
