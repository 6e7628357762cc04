package ws

import (
	"context"
	"sync/atomic"
	"time"

	"koemuse-server/internal/platform/logging"
)

const defaultCloseTimeout = 5 * time.Second

// SessionHandler runs the application protocol for one websocket connection.
type SessionHandler interface {
	Handle()
	Close()
	GetSessionID() string
}

// Session ties a handler to its connection and guarantees both are torn
// down exactly once, with a deadline on the handler's cleanup.
type Session struct {
	id      string
	handler SessionHandler
	conn    *Connection
	logger  *logging.Logger

	closed atomic.Bool
}

// NewSession wraps an upgraded connection and its handler.
func NewSession(handler SessionHandler, conn *Connection, logger *logging.Logger) *Session {
	return &Session{
		id:      handler.GetSessionID(),
		handler: handler,
		conn:    conn,
		logger:  logger,
	}
}

// ID exposes the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Run blocks in the handler until the session ends, then cleans up and
// reports through onDone.
func (s *Session) Run(onDone func(error)) {
	var runErr error
	defer func() {
		s.Close(runErr)
		if onDone != nil {
			onDone(runErr)
		}
	}()

	s.handler.Handle()
}

// Close tears the session down. The handler gets a bounded window to
// release its resources before the connection is closed underneath it.
func (s *Session) Close(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), defaultCloseTimeout, reason)
	defer cancel()

	if s.handler != nil {
		done := make(chan struct{})
		go func() {
			s.handler.Close()
			close(done)
		}()

		select {
		case <-done:
		case <-shutdownCtx.Done():
			s.logger.WarnTag("WebSocket", "session %s handler close timed out: %v", s.id, context.Cause(shutdownCtx))
		}
	}

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.WarnTag("WebSocket", "session %s connection close failed: %v", s.id, err)
		}
	}
}
