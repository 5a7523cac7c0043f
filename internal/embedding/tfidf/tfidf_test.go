package tfidf

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func TestEmbed_RequiresPrepare(t *testing.T) {
	e := NewEmbedder()
	_, err := e.Embed(context.Background(), "anything")
	require.Error(t, err)
	assert.Error(t, e.Prepare(nil))
	assert.Error(t, e.Prepare([]string{"the and of"}), "stopwords only")
}

func TestEmbed_RanksRelatedTextHigher(t *testing.T) {
	corpus := []string{
		"The transformer uses multi-head attention in every layer.",
		"Bananas are rich in potassium and grow in tropical climates.",
		"Attention weights are computed with scaled dot products.",
	}
	e := NewEmbedder()
	require.NoError(t, e.Prepare(corpus))
	assert.Positive(t, e.Dimension())
	assert.Equal(t, "tfidf", e.Name())

	q, err := e.Embed(context.Background(), "How does attention work?")
	require.NoError(t, err)
	require.Len(t, q, e.Dimension())

	vecs := make([][]float64, len(corpus))
	for i, c := range corpus {
		vecs[i], err = e.Embed(context.Background(), c)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, dot(vecs[i], vecs[i]), 1e-9, "vectors are unit length")
	}
	assert.Greater(t, dot(q, vecs[0]), dot(q, vecs[1]))
	assert.Greater(t, dot(q, vecs[2]), dot(q, vecs[1]))
}

func TestEmbed_UnknownTermsGiveZeroVector(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare([]string{"alpha beta gamma"}))
	v, err := e.Embed(context.Background(), "zeta")
	require.NoError(t, err)
	assert.Equal(t, make([]float64, 3), v)
}

func TestEmbed_TermCountsAndIDF(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare([]string{"alpha beta", "alpha gamma"}))
	require.Equal(t, 3, e.Dimension())

	// vocabulary is sorted: alpha, beta, gamma; alpha appears in both documents
	v, err := e.Embed(context.Background(), "beta beta alpha")
	require.NoError(t, err)
	idfRare := math.Log(3.0/2.0) + 1
	wantBeta, wantAlpha := 2*idfRare, 1.0
	norm := math.Hypot(wantBeta, wantAlpha)
	assert.InDelta(t, wantAlpha/norm, v[0], 1e-9)
	assert.InDelta(t, wantBeta/norm, v[1], 1e-9)
	assert.Zero(t, v[2])
}

func TestPrepare_ReplacesVocabulary(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare([]string{"alpha beta gamma"}))
	require.NoError(t, e.Prepare([]string{"delta"}))
	assert.Equal(t, 1, e.Dimension())

	v, err := e.Embed(context.Background(), "alpha delta")
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, v)
}

func TestEmbed_ConcurrentWithPrepare(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare([]string{"alpha beta"}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v, err := e.Embed(context.Background(), "alpha gamma")
				assert.NoError(t, err)
				assert.NotEmpty(t, v)
			}
		}()
	}
	for j := 0; j < 100; j++ {
		require.NoError(t, e.Prepare([]string{"alpha beta", "gamma delta"}))
	}
	wg.Wait()
}
