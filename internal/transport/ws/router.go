package ws

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"koemuse-server/internal/platform/logging"
)

// HandlerBuilder creates a session handler for an upgraded websocket connection.
type HandlerBuilder func(conn *Connection, req *http.Request) (SessionHandler, error)

// Router upgrades HTTP connections into websocket relay sessions.
type Router struct {
	hub    *Hub
	logger *logging.Logger

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
	builder          atomic.Value // HandlerBuilder
}

// RouterOptions configures the websocket router.
type RouterOptions struct {
	HandshakeTimeout time.Duration
	CheckOrigin      func(r *http.Request) bool
}

// NewRouter constructs a websocket router.
func NewRouter(hub *Hub, logger *logging.Logger, opts RouterOptions) *Router {
	upgrader := &websocket.Upgrader{
		CheckOrigin: opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Router{
		hub:              hub,
		logger:           logger,
		upgrader:         upgrader,
		handshakeTimeout: timeout,
	}
}

// SetHandlerBuilder registers the builder invoked after each successful upgrade.
func (r *Router) SetHandlerBuilder(builder HandlerBuilder) {
	r.builder.Store(builder)
}

// Handle upgrades the HTTP connection and launches a new relay session.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	value := r.builder.Load()
	if value == nil {
		http.Error(w, "websocket handler not ready", http.StatusServiceUnavailable)
		return
	}
	builder := value.(HandlerBuilder)

	handshakeCtx, cancel := context.WithTimeoutCause(req.Context(), r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()
	req = req.WithContext(handshakeCtx)

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.ErrorTag("WebSocket", "upgrade failed: %v", err)
		return
	}

	sessionID := resolveSessionID(req)
	r.logger.InfoTag("WebSocket", "connection opened, session %s", sessionID)

	wsConn := NewConnection(sessionID, conn)
	handler, err := builder(wsConn, req)
	if err != nil || handler == nil {
		r.logger.ErrorTag("WebSocket", "session handler creation failed: %v", err)
		_ = wsConn.Close()
		return
	}

	session := NewSession(handler, wsConn, r.logger)
	r.hub.Register(session)

	go session.Run(func(runErr error) {
		r.hub.Unregister(session.ID())
		if runErr != nil {
			r.logger.WarnTag("WebSocket", "session %s ended abnormally: %v", session.ID(), runErr)
		} else {
			r.logger.InfoTag("WebSocket", "session %s ended", session.ID())
		}
	})
}

func resolveSessionID(req *http.Request) string {
	if id := req.URL.Query().Get("session-id"); id != "" {
		return id
	}
	return uuid.NewString()
}
