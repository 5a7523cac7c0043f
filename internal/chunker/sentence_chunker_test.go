package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
)

func TestChunk_GroupsWithOverlap(t *testing.T) {
	c := NewSentenceChunker(2, 1)
	doc := domain.Document{ID: "d", Path: "docs/d.txt", Content: "One. Two!\nThree? Four."}

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "One. Two!", chunks[0].Text)
	assert.Equal(t, "Two! Three?", chunks[1].Text)
	assert.Equal(t, "Three? Four.", chunks[2].Text)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, "d", ch.DocumentID)
		assert.Equal(t, "docs/d.txt", ch.Source)
	}
	assert.Equal(t, "d:1", chunks[1].ChunkID)
}

func TestChunk_NoTerminatorKeepsWholeText(t *testing.T) {
	chunks, err := NewSentenceChunker(5, 0).Chunk(domain.Document{ID: "x", Content: "  just a fragment  "})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "just a fragment", chunks[0].Text)
	assert.Equal(t, "x", chunks[0].Source, "falls back to the document id")
}

func TestChunk_EmptyDocument(t *testing.T) {
	chunks, err := NewSentenceChunker(5, 1).Chunk(domain.Document{ID: "e", Content: " \n "})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestNewSentenceChunker_ClampsOverlap(t *testing.T) {
	c := NewSentenceChunker(2, 5)
	chunks, err := c.Chunk(domain.Document{ID: "o", Content: "A. B. C."})
	require.NoError(t, err)
	assert.Len(t, chunks, 2, "overlap never stalls progress")
}

func TestChunk_KeepsUnterminatedTail(t *testing.T) {
	chunks, err := NewSentenceChunker(2, 0).Chunk(domain.Document{ID: "t", Content: "First. Second. and a tail"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "and a tail", chunks[1].Text)
}
