package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"ragchat/internal/domain"
	"ragchat/internal/textutil"
)

// ErrNoDocuments is returned when none of the given sources yields a supported document.
var ErrNoDocuments = errors.New("no .txt, .md, .pdf or .docx documents found")

const maxRemoteBytes = 10 << 20

// batchEmbedder is implemented by embedders that can embed many texts per call.
type batchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// IngestResult describes a completed ingestion.
type IngestResult struct {
	Documents int
	Chunks    int
	Summary   string
}

// RAGService indexes documents and serves retrieval over them. It implements
// domain.Retriever.
type RAGService struct {
	chunker             domain.Chunker
	embedder            domain.Embedder
	store               domain.VectorStore
	summarizer          domain.Summarizer
	summaryMaxSentences int
	client              *http.Client
	logger              *log.Logger

	ingestMu sync.Mutex
	mu       sync.RWMutex
	chunks   []domain.Chunk
}

// Option customizes a RAGService.
type Option func(*RAGService)

// WithHTTPClient sets the client used to fetch http(s) sources.
func WithHTTPClient(c *http.Client) Option { return func(s *RAGService) { s.client = c } }

// WithLogger sets the service logger.
func WithLogger(l *log.Logger) Option { return func(s *RAGService) { s.logger = l } }

func NewRAGService(chunker domain.Chunker, embedder domain.Embedder, store domain.VectorStore, summarizer domain.Summarizer, summaryMaxSentences int, opts ...Option) *RAGService {
	s := &RAGService{
		chunker:             chunker,
		embedder:            embedder,
		store:               store,
		summarizer:          summarizer,
		summaryMaxSentences: summaryMaxSentences,
		client:              &http.Client{Timeout: 30 * time.Second},
		logger:              log.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ingest loads the given sources (file paths, globs or http(s) URLs), replaces the
// index with their chunks and returns a summary of the loaded text.
func (s *RAGService) Ingest(ctx context.Context, sources []string) (IngestResult, error) {
	documents, err := s.load(ctx, sources)
	if err != nil {
		return IngestResult{}, err
	}

	var allChunks []domain.Chunk
	var allTexts []string
	var allTextConcat strings.Builder
	for _, d := range documents {
		chunks, err := s.chunker.Chunk(d)
		if err != nil {
			return IngestResult{}, fmt.Errorf("chunk %s: %w", d.Path, err)
		}
		for _, ch := range chunks {
			allChunks = append(allChunks, ch)
			allTexts = append(allTexts, ch.Text)
		}
		allTextConcat.WriteString("\n")
		allTextConcat.WriteString(d.Content)
	}
	if len(allChunks) == 0 {
		return IngestResult{}, ErrNoDocuments
	}
	summary, err := s.summarizer.Summarize(allTextConcat.String(), s.summaryMaxSentences)
	if err != nil {
		return IngestResult{}, fmt.Errorf("summarize: %w", err)
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	// Remote vectors do not depend on the corpus, so they are computed before
	// queries are blocked. A corpus-fitted embedder changes its vocabulary and
	// the index together under the write lock.
	var vectors [][]float64
	batch, remote := s.embedder.(batchEmbedder)
	if remote {
		if vectors, err = batch.EmbedBatch(ctx, allTexts); err != nil {
			return IngestResult{}, fmt.Errorf("embed chunks: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !remote {
		if err := s.embedder.Prepare(allTexts); err != nil {
			return IngestResult{}, fmt.Errorf("prepare embedder: %w", err)
		}
		if vectors, err = s.embedEach(ctx, allTexts); err != nil {
			return IngestResult{}, err
		}
	}
	if len(vectors) != len(allChunks) {
		return IngestResult{}, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(allChunks))
	}
	// remote embedders only learn their dimension from the first vector
	if err := s.store.Init(ctx, len(vectors[0])); err != nil {
		return IngestResult{}, fmt.Errorf("init vector store: %w", err)
	}
	if err := s.store.Clear(ctx); err != nil {
		return IngestResult{}, fmt.Errorf("clear vector store: %w", err)
	}
	if err := s.store.Upsert(ctx, allChunks, vectors); err != nil {
		return IngestResult{}, fmt.Errorf("upsert chunks: %w", err)
	}
	s.chunks = allChunks

	s.logger.Info("documents indexed", "documents", len(documents), "chunks", len(allChunks), "embedder", s.embedder.Name())
	return IngestResult{Documents: len(documents), Chunks: len(allChunks), Summary: summary}, nil
}

// Chunks returns the number of indexed chunks.
func (s *RAGService) Chunks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Query returns the topK chunks most similar to query. A degenerate vector result
// (zero query vector or all-zero scores) falls back to lexical overlap ranking.
func (s *RAGService) Query(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.chunks) == 0 {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if isZero(vec) {
		return s.lexicalSearch(query, topK), nil
	}
	res, err := s.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	allZero := true
	for _, r := range res {
		if r.Score > 1e-9 {
			allZero = false
			break
		}
	}
	if allZero {
		return s.lexicalSearch(query, topK), nil
	}
	return res, nil
}

// Retrieve implements domain.Retriever on top of Query.
func (s *RAGService) Retrieve(ctx context.Context, query string, k int) ([]domain.Passage, error) {
	res, err := s.Query(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Passage, 0, len(res))
	for _, r := range res {
		out = append(out, domain.Passage{
			Text: r.Chunk.Text,
			Source: map[string]string{
				"source":      r.Chunk.Source,
				"document_id": r.Chunk.DocumentID,
				"chunk_id":    r.Chunk.ChunkID,
			},
			Score: r.Score,
		})
	}
	return out, nil
}

func (s *RAGService) embedEach(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i, t := range texts {
		vec, err := s.embedder.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d: %w", i, err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (s *RAGService) load(ctx context.Context, sources []string) ([]domain.Document, error) {
	var documents []domain.Document
	for _, src := range sources {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		if isRemote(src) {
			u, err := url.Parse(src)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", src, err)
			}
			extract, ok := extractorFor(path.Ext(u.Path))
			if !ok {
				continue
			}
			data, err := s.fetch(ctx, src)
			if err != nil {
				return nil, err
			}
			doc, err := newDocument(src, data, extract)
			if err != nil {
				return nil, err
			}
			documents = append(documents, doc)
			continue
		}
		matches, _ := filepath.Glob(src)
		if matches == nil {
			matches = []string{src}
		}
		for _, m := range matches {
			extract, ok := extractorFor(filepath.Ext(m))
			if !ok {
				continue
			}
			data, err := os.ReadFile(m)
			if err != nil {
				return nil, err
			}
			doc, err := newDocument(m, data, extract)
			if err != nil {
				return nil, err
			}
			documents = append(documents, doc)
		}
	}
	if len(documents) == 0 {
		return nil, ErrNoDocuments
	}
	return documents, nil
}

func newDocument(src string, data []byte, extract extractor) (domain.Document, error) {
	content, err := extract(data)
	if err != nil {
		return domain.Document{}, fmt.Errorf("load %s: %w", src, err)
	}
	return domain.Document{ID: hashString(src), Path: src, Content: content}, nil
}

func (s *RAGService) fetch(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", src, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src, err)
	}
	if len(data) > maxRemoteBytes {
		return nil, fmt.Errorf("fetch %s: document exceeds %d bytes", src, maxRemoteBytes)
	}
	return data, nil
}

func isRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

func isZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// lexicalSearch ranks chunks by Ochiai token overlap; chunks sharing no token
// with the query are dropped.
func (s *RAGService) lexicalSearch(query string, topK int) []domain.SearchResult {
	qset := textutil.WordSet(query)
	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, 0, len(s.chunks))
	for i, ch := range s.chunks {
		if sc := overlapOchiai(qset, ch.Text); sc > 0 {
			scores = append(scores, pair{i, sc})
		}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if topK <= 0 {
		topK = 5
	}
	if topK > len(scores) {
		topK = len(scores)
	}
	out := make([]domain.SearchResult, 0, topK)
	for i := 0; i < topK; i++ {
		p := scores[i]
		out = append(out, domain.SearchResult{Chunk: s.chunks[p.idx], Score: p.score})
	}
	return out
}

// overlapOchiai returns |A∩B| / sqrt(|A||B|) over distinct words.
func overlapOchiai(qset map[string]struct{}, text string) float64 {
	shared, distinct := textutil.Overlap(qset, text)
	if len(qset) == 0 || distinct == 0 {
		return 0
	}
	return float64(shared) / math.Sqrt(float64(len(qset))*float64(distinct))
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
