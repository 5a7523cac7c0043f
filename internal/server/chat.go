package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ragchat/internal/history"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	inboxSize  = 16
)

// Client-facing error texts. Internal error details are only logged.
const (
	errInvalidFormat    = "Invalid message format."
	errGeneratingAnswer = "Error generating answer."
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatReply struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
}

type chatError struct {
	Error string `json:"error"`
}

func (s *Server) handleChat(c *gin.Context) {
	id := c.Query("session_id")
	if id == "" {
		id = uuid.NewString()
	} else if err := history.ValidateSessionID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid session id."})
		return
	}
	if !s.claim(id) {
		s.logger.Warn("session already connected", "session_id", id)
		c.JSON(http.StatusConflict, gin.H{"detail": "Session is already open in another connection."})
		return
	}
	defer s.release(id)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already replied
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	s.sessions.Add(1)
	defer s.sessions.Done()
	defer conn.Close()

	if err := s.chat.CreateOrResume(id); err != nil {
		s.logger.Error("session not started", "session_id", id, "err", err)
		return
	}
	defer s.chat.End(id)
	s.logger.Info("websocket connection accepted", "session_id", id)

	cs := &chatSession{id: id, conn: conn, chat: s.chat, logger: s.logger}
	if s.maxMessageBytes > 0 {
		conn.SetReadLimit(s.maxMessageBytes)
	}
	cs.run(c.Request.Context())
	s.logger.Info("websocket disconnected", "session_id", id)
}

// chatSession serves one connection. run is the only writer to conn; a reader
// goroutine feeds inbound frames through a channel.
type chatSession struct {
	id     string
	conn   *websocket.Conn
	chat   Chat
	logger *log.Logger
}

type answerOutcome struct {
	reply chatReply
	err   error
}

func (cs *chatSession) run(ctx context.Context) {
	inbox := make(chan []byte, inboxSize)
	closed := make(chan struct{})
	done := make(chan struct{})
	defer close(done)

	_ = cs.conn.SetReadDeadline(time.Now().Add(pongWait))
	cs.conn.SetPongHandler(func(string) error {
		return cs.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go cs.read(inbox, closed, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cs.close(websocket.CloseGoingAway, "server shutting down")
			return
		case <-closed:
			return
		case <-ticker.C:
			if err := cs.ping(); err != nil {
				return
			}
		case data := <-inbox:
			if !cs.handle(ctx, data, closed, ticker.C) {
				return
			}
		}
	}
}

func (cs *chatSession) read(inbox chan<- []byte, closed chan<- struct{}, done <-chan struct{}) {
	defer close(closed)
	for {
		_, data, err := cs.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				cs.logger.Warn("websocket read failed", "session_id", cs.id, "err", err)
			}
			return
		}
		select {
		case inbox <- data:
		case <-done:
			return
		}
	}
}

// handle answers one inbound frame. It returns false when the session must end.
func (cs *chatSession) handle(ctx context.Context, data []byte, closed <-chan struct{}, ticks <-chan time.Time) bool {
	var req chatRequest
	if err := json.Unmarshal(data, &req); err != nil || strings.TrimSpace(req.Message) == "" {
		cs.logger.Warn("invalid message", "session_id", cs.id, "err", err)
		return cs.send(chatError{Error: errInvalidFormat}) == nil
	}
	cs.logger.Info("question received", "session_id", cs.id)

	// A dropped connection does not cancel the answer, so a completed turn is
	// still recorded. Only server shutdown does.
	actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	result := make(chan answerOutcome, 1)
	go cs.answer(actx, req.Message, result)

	for {
		select {
		case out := <-result:
			if out.err != nil {
				cs.logger.Error("answer failed", "session_id", cs.id, "err", out.err)
				return cs.send(chatError{Error: errGeneratingAnswer}) == nil
			}
			return cs.send(out.reply) == nil
		case <-ticks:
			if err := cs.ping(); err != nil {
				settle(ctx, cancel, result)
				return false
			}
		case <-closed:
			settle(ctx, cancel, result)
			cs.logger.Info("connection closed while answering; reply discarded", "session_id", cs.id)
			return false
		case <-ctx.Done():
			cancel()
			<-result
			cs.close(websocket.CloseGoingAway, "server shutting down")
			return false
		}
	}
}

// settle waits for an answer whose reply can no longer be delivered. It is
// cancelled only if the server shuts down first.
func settle(ctx context.Context, cancel context.CancelFunc, result <-chan answerOutcome) {
	select {
	case <-result:
	case <-ctx.Done():
		cancel()
		<-result
	}
}

func (cs *chatSession) answer(ctx context.Context, question string, out chan<- answerOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out <- answerOutcome{err: fmt.Errorf("panic while answering: %v", r)}
		}
	}()
	res := cs.chat.Answer(ctx, cs.id, question)
	out <- answerOutcome{reply: chatReply{Reply: res.Answer, SessionID: res.SessionID}}
}

func (cs *chatSession) send(v any) error {
	_ = cs.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := cs.conn.WriteJSON(v); err != nil {
		cs.logger.Warn("websocket write failed", "session_id", cs.id, "err", err)
		return err
	}
	return nil
}

func (cs *chatSession) ping() error {
	return cs.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (cs *chatSession) close(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = cs.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
