package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/xhad/webrag/internal/models"
	"github.com/xhad/webrag/pkg/llm"
	"github.com/xhad/webrag/pkg/rag"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	URLs    []string    `json:"urls,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type ContextRequest struct {
	Query     string   `json:"query"`
	URLs      []string `json:"urls"`
	MaxTokens int      `json:"max_tokens"`
}

type Chatter interface {
	Chat(ctx context.Context, query string, urls []string) (*llm.Reply, error)
}

type Server struct {
	assembler *rag.Assembler
	chat      Chatter
	maxTokens int
	logger    *log.Logger
}

// New builds the HTTP surface. chat may be nil, which disables /ws.
func New(assembler *rag.Assembler, chat Chatter, maxTokens int, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		assembler: assembler,
		chat:      chat,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/context", s.handleContext)
	mux.HandleFunc("/api/content", s.handleContent)
	if s.chat != nil {
		mux.HandleFunc("/ws", s.handleWebSocket)
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = s.maxTokens
	}

	result, err := s.assembler.GenerateContext(r.Context(), req.Query, req.URLs, req.MaxTokens)
	if err != nil {
		s.logger.Error("context generation failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		contents, err := s.assembler.CachedContent(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if contents == nil {
			contents = []models.WebContent{}
		}
		writeJSON(w, http.StatusOK, contents)
	case http.MethodDelete:
		if err := s.assembler.ClearCache(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "err", err)
			}
			return
		}

		// Messages are answered in order; gorilla connections allow
		// one concurrent writer.
		s.handleMessage(r.Context(), conn, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) {
	if msg.Type != "chat" {
		s.sendMessage(conn, Message{Type: "error", Content: fmt.Sprintf("unknown message type: %s", msg.Type)})
		return
	}
	if msg.Content == "" {
		s.sendMessage(conn, Message{Type: "error", Content: "content is required"})
		return
	}

	if len(msg.URLs) > 0 {
		s.sendMessage(conn, Message{Type: "status", Content: fmt.Sprintf("Retrieving context from %d URLs", len(msg.URLs))})
	}

	reply, err := s.chat.Chat(ctx, msg.Content, msg.URLs)
	if err != nil {
		s.sendMessage(conn, Message{Type: "error", Content: fmt.Sprintf("Error: %v", err)})
		return
	}

	s.sendMessage(conn, Message{
		Type:    "response",
		Content: reply.Content,
		Data:    map[string]interface{}{"sources": reply.Sources},
	})
}

func (s *Server) sendMessage(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Warn("error sending message", "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
