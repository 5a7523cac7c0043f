// Package app assembles the retrieval and conversation components selected by
// the configuration. Both the server and the terminal client start from here.
package app

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"ragchat/internal/chunker"
	"ragchat/internal/config"
	"ragchat/internal/conversation"
	"ragchat/internal/domain"
	"ragchat/internal/embedding/openai"
	"ragchat/internal/embedding/tfidf"
	"ragchat/internal/history"
	"ragchat/internal/llm"
	"ragchat/internal/service"
	"ragchat/internal/session"
	"ragchat/internal/summarizer"
	"ragchat/internal/vectorstore/memory"
	"ragchat/internal/vectorstore/qdrant"
)

// Components are the long-lived objects of one process.
type Components struct {
	RAG      *service.RAGService
	Store    *history.Store
	Registry *session.Registry
	Chat     *conversation.Service
}

// Build creates every component. Configuration mistakes (unknown types, missing
// API keys) are returned as errors.
func Build(cfg *config.AppConfig, logger *log.Logger) (*Components, error) {
	rag, err := NewRAGService(cfg, logger)
	if err != nil {
		return nil, err
	}
	gen, err := NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	store, err := history.NewStore(cfg.History.Dir, cfg.History.MaxSessions, logger)
	if err != nil {
		return nil, err
	}
	registry := session.NewRegistry(store, logger)
	engine := conversation.NewEngine(rag, gen, store,
		conversation.WithTopK(cfg.Retrieval.TopK),
		conversation.WithSystemPrompt(cfg.Generator.SystemPrompt),
		conversation.WithLogger(logger),
	)
	return &Components{
		RAG:      rag,
		Store:    store,
		Registry: registry,
		Chat:     conversation.NewService(engine, registry, logger),
	}, nil
}

// NewRAGService assembles the ingestion and retrieval pipeline.
func NewRAGService(cfg *config.AppConfig, logger *log.Logger) (*service.RAGService, error) {
	emb, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	ch, err := NewChunker(cfg)
	if err != nil {
		return nil, err
	}
	st, err := NewVectorStore(cfg)
	if err != nil {
		return nil, err
	}
	sum, err := NewSummarizer(cfg)
	if err != nil {
		return nil, err
	}
	return service.NewRAGService(ch, emb, st, sum, cfg.Summarizer.MaxSentences,
		service.WithLogger(logger.WithPrefix("ingest"))), nil
}

func NewEmbedder(cfg *config.AppConfig) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "tfidf", "":
		return tfidf.NewEmbedder(), nil
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:   cfg.Embedder.OpenAI.BaseURL,
			APIKeyEnv: cfg.Embedder.OpenAI.APIKeyEnv,
			Model:     cfg.Embedder.OpenAI.Model,
			Timeout:   time.Duration(cfg.Embedder.OpenAI.TimeoutSecs) * time.Second,
			BatchSize: cfg.Embedder.OpenAI.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
}

func NewChunker(cfg *config.AppConfig) (domain.Chunker, error) {
	switch cfg.Chunker.Type {
	case "sentence", "":
		return chunker.NewSentenceChunker(cfg.Chunker.SentencesPerChunk, cfg.Chunker.OverlapSentences), nil
	default:
		return nil, fmt.Errorf("unknown chunker: %s", cfg.Chunker.Type)
	}
}

func NewVectorStore(cfg *config.AppConfig) (domain.VectorStore, error) {
	switch cfg.VectorStore.Type {
	case "memory", "":
		return memory.NewStorage(), nil
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			return nil, fmt.Errorf("qdrant config missing")
		}
		q := cfg.VectorStore.Qdrant
		return qdrant.NewStorage(qdrant.Config{
			URL:        q.URL,
			APIKey:     q.APIKey,
			Collection: q.Collection,
			Distance:   q.Distance,
			Timeout:    time.Duration(q.TimeoutSecs) * time.Second,
		}), nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
	}
}

func NewSummarizer(cfg *config.AppConfig) (domain.Summarizer, error) {
	switch cfg.Summarizer.Type {
	case "frequency", "":
		return summarizer.NewFrequencySummarizer(), nil
	default:
		return nil, fmt.Errorf("unknown summarizer: %s", cfg.Summarizer.Type)
	}
}

// NewGenerator builds the answer generator. A missing API key fails here, at startup.
func NewGenerator(cfg *config.AppConfig) (domain.Generator, error) {
	switch cfg.Generator.Type {
	case "openai", "":
		g := cfg.Generator.OpenAI
		gen, err := llm.NewOpenAIGenerator(llm.Config{
			BaseURL:     g.BaseURL,
			APIKeyEnv:   g.APIKeyEnv,
			Model:       g.Model,
			Temperature: g.Temperature,
			MaxTokens:   g.MaxTokens,
			Timeout:     time.Duration(g.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("generator init failed: %w", err)
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("unknown generator: %s", cfg.Generator.Type)
	}
}
