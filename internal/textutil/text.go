// Package textutil holds the tokenization shared by chunking, embedding,
// summarizing and lexical ranking.
package textutil

import (
	"regexp"
	"strings"
)

var (
	wordRe     = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]*`)
)

// Words returns the lowercased words of text. Inner apostrophes are kept.
func Words(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

// ContentWords is Words without stopwords.
func ContentWords(text string) []string {
	words := Words(text)
	out := words[:0]
	for _, w := range words {
		if !IsStopword(w) {
			out = append(out, w)
		}
	}
	return out
}

// WordSet returns the distinct words of text.
func WordSet(text string) map[string]struct{} {
	words := Words(text)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Overlap reports how many distinct words of text are in set, and how many
// distinct words text has.
func Overlap(set map[string]struct{}, text string) (shared, distinct int) {
	for w := range WordSet(text) {
		distinct++
		if _, ok := set[w]; ok {
			shared++
		}
	}
	return shared, distinct
}

// Sentences splits text after runs of '.', '!' or '?'. A trailing fragment
// without a terminator is its own sentence. Whitespace is collapsed.
func Sentences(text string) []string {
	var out []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.Join(strings.Fields(s), " "); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsStopword reports whether w (lowercase) is a common English function word.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
