package ws

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	id      string
	handled atomic.Bool
	closed  atomic.Int32
}

func (h *recordingHandler) Handle()              { h.handled.Store(true) }
func (h *recordingHandler) Close()               { h.closed.Add(1) }
func (h *recordingHandler) GetSessionID() string { return h.id }

func TestSessionRunClosesHandlerOnce(t *testing.T) {
	handler := &recordingHandler{id: "sess-a"}
	session := NewSession(handler, nil, nil)

	done := make(chan error, 1)
	session.Run(func(err error) { done <- err })
	require.NoError(t, <-done)

	assert.True(t, handler.handled.Load())
	assert.Equal(t, int32(1), handler.closed.Load())

	// a second close is a no-op
	session.Close(nil)
	assert.Equal(t, int32(1), handler.closed.Load())
}

func TestHubTracksSessions(t *testing.T) {
	hub := NewHub(nil)
	session := NewSession(&recordingHandler{id: "sess-b"}, nil, nil)

	hub.Register(session)
	clients, sessions := hub.Counts()
	assert.Equal(t, 1, clients)
	assert.Equal(t, 1, sessions)

	hub.CloseAll(nil)
	clients, _ = hub.Counts()
	assert.Zero(t, clients)
}
