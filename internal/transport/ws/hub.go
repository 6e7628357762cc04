package ws

import (
	"sync"

	"koemuse-server/internal/platform/logging"
)

// Hub is the registry of live relay sessions. It exists so shutdown and
// the status endpoint can reach every open session; the relay itself
// never goes through it.
type Hub struct {
	logger   *logging.Logger
	sessions sync.Map // session id -> *Session
}

func NewHub(logger *logging.Logger) *Hub {
	return &Hub{logger: logger}
}

// Register tracks a session under its id.
func (h *Hub) Register(session *Session) {
	if session == nil {
		return
	}
	h.sessions.Store(session.ID(), session)
}

// Unregister forgets a session once it has ended.
func (h *Hub) Unregister(id string) {
	if id == "" {
		return
	}
	h.sessions.Delete(id)
}

// CloseAll closes every tracked session with the given reason. Used on
// server shutdown.
func (h *Hub) CloseAll(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	h.sessions.Range(func(key, value any) bool {
		if session, ok := value.(*Session); ok {
			session.Close(reason)
		}
		h.sessions.Delete(key)
		return true
	})
}

// Counts reports connected clients and live sessions. One relay session
// per connection, so the two numbers are equal.
func (h *Hub) Counts() (clients int, sessions int) {
	h.sessions.Range(func(key, value any) bool {
		clients++
		return true
	})
	return clients, clients
}
