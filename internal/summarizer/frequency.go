package summarizer

import (
	"math"
	"sort"
	"strings"

	"ragchat/internal/textutil"
)

// FrequencySummarizer is an extractive summarizer: sentences whose content
// words are frequent across the whole text rank highest.
type FrequencySummarizer struct{}

// NewFrequencySummarizer creates a frequency-based sentence ranker summarizer.
func NewFrequencySummarizer() *FrequencySummarizer { return &FrequencySummarizer{} }

type sentence struct {
	pos     int
	text    string
	words   int
	content []string
	score   float64
}

// Summarize returns up to maxSentences sentences of text in their original
// order. Text that already fits is returned whole with whitespace collapsed.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	texts := textutil.Sentences(text)
	if len(texts) == 0 {
		return strings.TrimSpace(text), nil
	}
	if len(texts) <= maxSentences {
		return strings.Join(texts, " "), nil
	}

	sentences := make([]sentence, len(texts))
	freq := make(map[string]float64)
	for i, t := range texts {
		sentences[i] = sentence{pos: i, text: t, words: len(textutil.Words(t)), content: textutil.ContentWords(t)}
		for _, w := range sentences[i].content {
			freq[w]++
		}
	}
	top := 0.0
	for _, f := range freq {
		top = math.Max(top, f)
	}
	for i := range sentences {
		sentences[i].score = score(sentences[i], freq, top)
	}

	sort.SliceStable(sentences, func(i, j int) bool { return sentences[i].score > sentences[j].score })
	picked := sentences[:maxSentences]
	sort.Slice(picked, func(i, j int) bool { return picked[i].pos < picked[j].pos })
	out := make([]string, len(picked))
	for i, p := range picked {
		out[i] = p.text
	}
	return strings.Join(out, " "), nil
}

// score sums relative content word frequencies, damped by the square root of
// the sentence length so long sentences do not win by size alone.
func score(s sentence, freq map[string]float64, top float64) float64 {
	if top == 0 || s.words == 0 {
		return 0
	}
	sum := 0.0
	for _, w := range s.content {
		sum += freq[w] / top
	}
	return sum / math.Sqrt(float64(s.words))
}
