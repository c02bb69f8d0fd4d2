package websocket

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voicechat/core"
	"voicechat/handlers/session"
)

const (
	defaultSendBufferSize = 256
	defaultPingInterval   = 20 * time.Second
	writeTimeout          = 10 * time.Second
	shutdownTimeout       = 5 * time.Second
)

// ServerConfig configures the browser-facing websocket server.
type ServerConfig struct {
	Addr           string        `json:"addr"`
	Path           string        `json:"path"`
	AllowedOrigins []string      `json:"allowed_origins"` // empty allows any origin
	AudioDir       string        `json:"-"`               // served under /audio/ when set
	ForwardEvents  bool          `json:"forward_events"`
	SendBufferSize int           `json:"send_buffer_size"`
	PingInterval   time.Duration `json:"ping_interval"`
	MaxMessageSize int64         `json:"max_message_size"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           "127.0.0.1:8080",
		Path:           "/ws",
		ForwardEvents:  true,
		SendBufferSize: defaultSendBufferSize,
		PingInterval:   defaultPingInterval,
		MaxMessageSize: 32 << 20,
	}
}

// Server exposes one session engine to browser clients. All connections
// share the engine, whose lock serializes their requests.
type Server struct {
	config    ServerConfig
	engine    *session.Engine
	extractor core.DocumentExtractor
	hub       *Hub
	upgrader  websocket.Upgrader
	logger    *core.Logger
}

// NewServer creates a server. extractor may be nil, in which case uploads
// are rejected; hub may be nil when nothing is broadcast.
func NewServer(config ServerConfig, engine *session.Engine, extractor core.DocumentExtractor, hub *Hub, logger *core.Logger) *Server {
	defaults := DefaultServerConfig()
	if config.Path == "" {
		config.Path = defaults.Path
	}
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = defaults.SendBufferSize
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	s := &Server{
		config:    config,
		engine:    engine,
		extractor: extractor,
		hub:       hub,
		logger:    logger.OrDefault().With(map[string]any{"component": "ws_server"}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.config.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// Handler returns the HTTP routes: the websocket endpoint, a health check and,
// when configured, the synthesized audio files.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if s.config.AudioDir != "" {
		mux.Handle("/audio/", http.StripPrefix("/audio/", http.FileServer(http.Dir(s.config.AudioDir))))
	}
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("websocket server listening", "addr", s.config.Addr, "path", s.config.Path)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("websocket server shutting down", "clients", s.hub.Len())
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(s.config.MaxMessageSize)

	c := newClient(uuid.NewString(), conn, s, r.URL.Query())
	s.hub.add(c)
	defer s.hub.remove(c)

	c.logger.Info("client connected", "remote", r.RemoteAddr)
	c.run(r.Context())
	c.logger.Info("client disconnected")
}

// audioURL maps an artifact path to its URL under /audio/, or "" when the
// file is not served.
func (s *Server) audioURL(path string) string {
	if s.config.AudioDir == "" || path == "" {
		return ""
	}
	rel, err := filepath.Rel(s.config.AudioDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return "/audio/" + filepath.ToSlash(rel)
}
