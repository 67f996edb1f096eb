package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"flowsync/pkg/auth"
)

// Server upgrades HTTP requests onto the room channel. Connections are
// anonymous at upgrade time; authorization happens at join_room, which is
// where the token travels.
type Server struct {
	hub         *Hub
	manager     SessionManager
	authn       Authenticator
	upgrader    websocket.Upgrader
	joinLimiter *auth.TokenBucketLimiter
	logger      *zap.Logger
}

// ServerConfig holds upgrade settings.
type ServerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultServerConfig allows all origins; production deployments pass a
// real origin check.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
}

// NewServer creates the WebSocket endpoint.
func NewServer(hub *Hub, manager SessionManager, authn Authenticator, config *ServerConfig, logger *zap.Logger) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{
		hub:     hub,
		manager: manager,
		authn:   authn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		// 10 join attempts per connection, one more every 6 seconds.
		joinLimiter: auth.NewTokenBucketLimiter(10, 6*time.Second),
		logger:      logger,
	}
}

// HandleWebSocket upgrades the connection and starts its pumps.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.Error(err),
			zap.String("remoteAddr", r.RemoteAddr),
		)
		return
	}
	client := newClient(s.hub, s.manager, s.authn, s.joinLimiter, conn, s.logger)
	client.start()
}
