package tfidf

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync/atomic"

	"ragchat/internal/textutil"
)

// Embedder is a TF-IDF vectorizer fitted to the indexed corpus. Embed may run
// concurrently with Prepare; each call sees one complete vocabulary.
type Embedder struct {
	fitted atomic.Pointer[model]
}

// model is an immutable vocabulary with smoothed IDF weights.
type model struct {
	vocabulary map[string]int
	idf        []float64
}

// NewEmbedder creates an unprepared TF-IDF embedder.
func NewEmbedder() *Embedder { return &Embedder{} }

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "tfidf" }

// Prepare fits the vocabulary to corpus, one document per text.
func (e *Embedder) Prepare(corpus []string) error {
	m, err := fit(corpus)
	if err != nil {
		return err
	}
	e.fitted.Store(m)
	return nil
}

// Dimension returns the vocabulary size, or 0 before Prepare.
func (e *Embedder) Dimension() int {
	if m := e.fitted.Load(); m != nil {
		return len(m.idf)
	}
	return 0
}

// Embed returns the L2-normalized TF-IDF vector of text. Terms outside the
// vocabulary are ignored; text with none gives a zero vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float64, error) {
	m := e.fitted.Load()
	if m == nil {
		return nil, errors.New("tfidf embedder not prepared")
	}
	return m.vector(text), nil
}

func fit(corpus []string) (*model, error) {
	if len(corpus) == 0 {
		return nil, errors.New("empty corpus for TF-IDF prepare")
	}
	df := make(map[string]int)
	for _, text := range corpus {
		for term := range termCounts(text) {
			df[term]++
		}
	}
	if len(df) == 0 {
		return nil, errors.New("no indexable terms in corpus")
	}
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	slices.Sort(terms)
	m := &model{
		vocabulary: make(map[string]int, len(terms)),
		idf:        make([]float64, len(terms)),
	}
	n := float64(len(corpus))
	for i, term := range terms {
		m.vocabulary[term] = i
		m.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
	return m, nil
}

// vector weights raw term counts by IDF. Normalizing makes the division by
// document length unnecessary.
func (m *model) vector(text string) []float64 {
	vec := make([]float64, len(m.idf))
	var hits []int
	norm := 0.0
	for term, count := range termCounts(text) {
		idx, ok := m.vocabulary[term]
		if !ok {
			continue
		}
		w := float64(count) * m.idf[idx]
		vec[idx] = w
		norm += w * w
		hits = append(hits, idx)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for _, idx := range hits {
		vec[idx] /= norm
	}
	return vec
}

func termCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, w := range textutil.ContentWords(text) {
		counts[w]++
	}
	return counts
}
