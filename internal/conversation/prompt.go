package conversation

import (
	"fmt"
	"sort"
	"strings"

	"ragchat/internal/domain"
)

// DefaultSystemPrompt sets the assistant persona and how it weighs its sources.
const DefaultSystemPrompt = `You are a helpful assistant that answers questions about the user's documents.
Use the conversation history to resolve references such as "it" or "that section".
Prefer the provided document context over your prior knowledge.
If neither the context nor the conversation contains the answer, say "I don't know" instead of guessing.
Keep answers precise and concise.`

// BuildPrompt assembles system instruction, history, retrieved context and question.
// The question and its context always form the last user message.
func BuildPrompt(system string, history []domain.Message, passages []domain.Passage, question string) domain.Prompt {
	msgs := make([]domain.Message, 0, len(history)+2)
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: system})
	msgs = append(msgs, history...)
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: renderQuestion(passages, question)})
	return domain.Prompt{Messages: msgs, Context: passages}
}

func renderQuestion(passages []domain.Passage, question string) string {
	var b strings.Builder
	b.WriteString("Answer the question using the following context:\n\n")
	if len(passages) == 0 {
		b.WriteString("(no relevant context found)\n")
	}
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d]", i+1)
		if src := renderSource(p.Source); src != "" {
			b.WriteString(" ")
			b.WriteString(src)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(p.Text))
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	return b.String()
}

// renderSource formats passage metadata; missing metadata renders as nothing.
func renderSource(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	if src, ok := meta["source"]; ok && src != "" {
		return "(" + src + ")"
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+meta[k])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
