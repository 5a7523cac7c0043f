// Package server exposes the chat backend over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ragchat/internal/config"
	"ragchat/internal/conversation"
	"ragchat/internal/history"
	"ragchat/internal/service"
)

// Chat is the conversation surface used by WebSocket sessions.
type Chat interface {
	CreateOrResume(sessionID string) error
	Answer(ctx context.Context, sessionID, question string) conversation.Result
	End(sessionID string)
}

// Ingestor indexes documents on demand.
type Ingestor interface {
	Ingest(ctx context.Context, sources []string) (service.IngestResult, error)
}

// HistoryReader reads durable session history.
type HistoryReader interface {
	Load(sessionID string) []history.Turn
}

// Server owns the gin router and the HTTP listener.
type Server struct {
	addr            string
	appName         string
	version         string
	shutdownTimeout time.Duration
	maxMessageBytes int64

	chat     Chat
	docs     Ingestor
	turns    HistoryReader
	logger   *log.Logger
	router   *gin.Engine
	upgrader websocket.Upgrader
	sessions sync.WaitGroup

	ownersMu sync.Mutex
	owners   map[string]struct{}
}

// New builds the router. Nothing listens until Run is called.
func New(cfg *config.AppConfig, chat Chat, docs Ingestor, turns HistoryReader, logger *log.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		addr:            cfg.Addr(),
		appName:         cfg.App.Name,
		version:         cfg.App.Version,
		shutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSecs) * time.Second,
		maxMessageBytes: cfg.Server.MaxMessageBytes,
		chat:            chat,
		docs:            docs,
		turns:           turns,
		logger:          logger.WithPrefix("server"),
		owners:          make(map[string]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// same open policy as the CORS middleware
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger), cors())
	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.POST("/preprocess", s.handlePreprocess)
	r.GET("/api/sessions/:id/history", s.handleHistory)
	r.GET("/api/ws/chat", s.handleChat)
	s.router = r
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// claim marks id as owned by one connection. It fails if id is already owned.
func (s *Server) claim(id string) bool {
	s.ownersMu.Lock()
	defer s.ownersMu.Unlock()
	if _, taken := s.owners[id]; taken {
		return false
	}
	s.owners[id] = struct{}{}
	return true
}

func (s *Server) release(id string) {
	s.ownersMu.Lock()
	defer s.ownersMu.Unlock()
	delete(s.owners, id)
}

// Run serves until ctx is cancelled, then shuts down gracefully and waits for open
// chat sessions to finish their cleanup.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// hijacked WebSocket connections observe shutdown through this context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr, "app", s.appName, "version", s.version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn("chat sessions still open at shutdown deadline")
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":       "Welcome to the " + s.appName + " API!",
		"documentation": "/health, POST /preprocess?file_url=..., ws /api/ws/chat",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "Healthy",
		"app_name": s.appName,
		"version":  s.version,
	})
}

func (s *Server) handlePreprocess(c *gin.Context) {
	fileURL := strings.TrimSpace(c.Query("file_url"))
	if !strings.HasPrefix(fileURL, "http://") && !strings.HasPrefix(fileURL, "https://") {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "file_url must be an http(s) URL."})
		return
	}
	s.logger.Info("preprocessing started", "file_url", fileURL)
	res, err := s.docs.Ingest(c.Request.Context(), []string{fileURL})
	if err != nil {
		s.logger.Error("preprocessing failed", "file_url", fileURL, "err", err)
		if errors.Is(err, service.ErrNoDocuments) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Only .txt, .md, .pdf and .docx documents are supported."})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "An error occurred during preprocessing."})
		return
	}
	s.logger.Info("preprocessing completed", "file_url", fileURL, "chunks", res.Chunks)
	c.JSON(http.StatusOK, gin.H{
		"status":  "Success",
		"chunks":  res.Chunks,
		"summary": res.Summary,
		"message": fmt.Sprintf("File preprocessed and embeddings stored, %d vectors created.", res.Chunks),
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	id := c.Param("id")
	if err := history.ValidateSessionID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid session id."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "turns": s.turns.Load(id)})
}
