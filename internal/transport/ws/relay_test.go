package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koemuse-server/internal/domain/music"
	"koemuse-server/internal/domain/recognition/amivoice"
)

type fakeUpstream struct {
	events chan amivoice.TranscriptionEvent
	audio  chan []byte

	stopped atomic.Bool
	closed  atomic.Bool

	errMu sync.Mutex
	err   error
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		events: make(chan amivoice.TranscriptionEvent, 8),
		audio:  make(chan []byte, 8),
	}
}

func (f *fakeUpstream) Events() <-chan amivoice.TranscriptionEvent { return f.events }

func (f *fakeUpstream) Err() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.err
}

func (f *fakeUpstream) SendAudio(data []byte) error {
	if f.closed.Load() {
		return errors.New("stream already closed")
	}
	f.audio <- data
	return nil
}

// Stop mirrors the real stream: a released connection cannot carry the
// stop command anymore.
func (f *fakeUpstream) Stop() error {
	if f.closed.Load() {
		return errors.New("stream already closed")
	}
	f.stopped.Store(true)
	return nil
}

func (f *fakeUpstream) Close() error {
	if f.closed.CompareAndSwap(false, true) {
		close(f.events)
	}
	return nil
}

func (f *fakeUpstream) failWith(err error) {
	f.errMu.Lock()
	f.err = err
	f.errMu.Unlock()
	f.Close()
}

type dispatchCall struct {
	sessionID string
	text      string
}

type fakeDispatcher struct {
	calls chan dispatchCall
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{calls: make(chan dispatchCall, 4)}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, sessionID, text string) {
	f.calls <- dispatchCall{sessionID: sessionID, text: text}
}

func (f *fakeDispatcher) wait(t *testing.T) dispatchCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher was not invoked")
		return dispatchCall{}
	}
}

type relayHarness struct {
	client *websocket.Conn
	bus    evbus.Bus
}

func startRelay(t *testing.T, sessionID string, dial UpstreamDialer, dispatcher Dispatcher, opts RelayOptions) *relayHarness {
	t.Helper()
	bus := evbus.New()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConnection(sessionID, sock)
		relay, err := NewRelay(sessionID, conn, dial, dispatcher, bus, nil, opts)
		if err != nil {
			conn.Close()
			return
		}
		relay.Handle()
		relay.Close()
		conn.Close()
	}))
	t.Cleanup(server.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return &relayHarness{client: client, bus: bus}
}

func (h *relayHarness) readEvent(t *testing.T) map[string]any {
	t.Helper()
	h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := h.client.ReadMessage()
	require.NoError(t, err)
	var event map[string]any
	require.NoError(t, sonic.Unmarshal(data, &event))
	return event
}

func waitAudioChunk(t *testing.T, up *fakeUpstream) []byte {
	t.Helper()
	select {
	case data := <-up.audio:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("audio chunk never reached upstream")
		return nil
	}
}

func TestRelayForwardsAudioAndTranscription(t *testing.T) {
	up := newFakeUpstream()
	dispatcher := newFakeDispatcher()
	h := startRelay(t, "sess-relay-1", func(ctx context.Context) (Upstream, error) {
		return up, nil
	}, dispatcher, RelayOptions{})

	require.NoError(t, h.client.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, waitAudioChunk(t, up))

	up.events <- amivoice.TranscriptionEvent{Text: "今日は", IsFinal: false}
	event := h.readEvent(t)
	assert.Equal(t, "recognition_update", event["type"])
	assert.Equal(t, "今日は", event["text"])
	assert.Equal(t, false, event["isFinal"])

	up.events <- amivoice.TranscriptionEvent{Text: "今日は楽しい", IsFinal: true}
	event = h.readEvent(t)
	assert.Equal(t, "recognition_update", event["type"])
	assert.Equal(t, true, event["isFinal"])

	call := dispatcher.wait(t)
	assert.Equal(t, "sess-relay-1", call.sessionID)
	assert.Equal(t, "今日は楽しい", call.text)

	// final result stops the upstream stream before releasing it; the
	// fake refuses a stop after close, so ordering is what is asserted
	assert.Eventually(t, up.stopped.Load, time.Second, 10*time.Millisecond)
	assert.Eventually(t, up.closed.Load, time.Second, 10*time.Millisecond)
}

func TestRelayDropsAudioAfterFinalResult(t *testing.T) {
	up := newFakeUpstream()
	dispatcher := newFakeDispatcher()
	h := startRelay(t, "sess-relay-8", func(ctx context.Context) (Upstream, error) {
		return up, nil
	}, dispatcher, RelayOptions{})

	up.events <- amivoice.TranscriptionEvent{Text: "終わり", IsFinal: true}
	h.readEvent(t) // final recognition_update
	dispatcher.wait(t)
	assert.Eventually(t, up.stopped.Load, time.Second, 10*time.Millisecond)

	require.NoError(t, h.client.WriteMessage(websocket.BinaryMessage, []byte{7, 7, 7}))
	select {
	case data := <-up.audio:
		t.Fatalf("audio chunk forwarded after the terminal transition: %v", data)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRelayStopRecordingSendsStopUpstream(t *testing.T) {
	up := newFakeUpstream()
	h := startRelay(t, "sess-relay-2", func(ctx context.Context) (Upstream, error) {
		return up, nil
	}, newFakeDispatcher(), RelayOptions{})

	require.NoError(t, h.client.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop_recording"}`)))
	assert.Eventually(t, up.stopped.Load, time.Second, 10*time.Millisecond)
	// stop does not tear the client channel down
	assert.False(t, up.closed.Load())
}

func TestRelayDialFailureEmitsRecognitionError(t *testing.T) {
	h := startRelay(t, "sess-relay-3", func(ctx context.Context) (Upstream, error) {
		return nil, assert.AnError
	}, newFakeDispatcher(), RelayOptions{})

	event := h.readEvent(t)
	assert.Equal(t, "recognition_error", event["type"])
	assert.Contains(t, event["message"], "接続に失敗")
}

func TestRelayUpstreamErrorEmitsRecognitionError(t *testing.T) {
	up := newFakeUpstream()
	h := startRelay(t, "sess-relay-4", func(ctx context.Context) (Upstream, error) {
		return up, nil
	}, newFakeDispatcher(), RelayOptions{})

	up.failWith(assert.AnError)
	event := h.readEvent(t)
	assert.Equal(t, "recognition_error", event["type"])

	// session is over; the client read eventually fails
	h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := h.client.ReadMessage()
	assert.Error(t, err)
}

func TestRelayDeliversGenerationOutcome(t *testing.T) {
	up := newFakeUpstream()
	dispatcher := newFakeDispatcher()
	h := startRelay(t, "sess-relay-5", func(ctx context.Context) (Upstream, error) {
		return up, nil
	}, dispatcher, RelayOptions{})

	up.events <- amivoice.TranscriptionEvent{Text: "嬉しい", IsFinal: true}
	h.readEvent(t) // final recognition_update
	dispatcher.wait(t)

	// an outcome for some other session must not reach this client
	h.bus.Publish(music.TopicGenerated, &music.Generated{SessionID: "someone-else", MusicURL: "/x.mp3"})
	h.bus.Publish(music.TopicGenerated, &music.Generated{
		SessionID:       "sess-relay-5",
		OriginalText:    "嬉しい",
		DetectedEmotion: "positive",
		MusicURL:        "/generated_music/abc.mp3",
	})

	event := h.readEvent(t)
	assert.Equal(t, "music_generated", event["type"])
	assert.Equal(t, true, event["success"])
	assert.Equal(t, "positive", event["detectedEmotion"])
	assert.Equal(t, "/generated_music/abc.mp3", event["musicUrl"])
}

func TestRelayDeliversGenerationFailure(t *testing.T) {
	up := newFakeUpstream()
	dispatcher := newFakeDispatcher()
	h := startRelay(t, "sess-relay-6", func(ctx context.Context) (Upstream, error) {
		return up, nil
	}, dispatcher, RelayOptions{})

	up.events <- amivoice.TranscriptionEvent{Text: "悲しい", IsFinal: true}
	h.readEvent(t)
	dispatcher.wait(t)

	h.bus.Publish(music.TopicGenerationError, &music.GenerationFailure{
		SessionID: "sess-relay-6",
		Message:   "音楽の生成中にエラーが発生しました",
	})

	event := h.readEvent(t)
	assert.Equal(t, "music_generation_error", event["type"])
	assert.Contains(t, event["message"], "エラー")
}

func TestRelayIdleTimeoutClosesSession(t *testing.T) {
	up := newFakeUpstream()
	h := startRelay(t, "sess-relay-7", func(ctx context.Context) (Upstream, error) {
		return up, nil
	}, newFakeDispatcher(), RelayOptions{IdleTimeout: 200 * time.Millisecond})

	// no traffic at all; the watcher closes both sides
	h.client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := h.client.ReadMessage()
	assert.Error(t, err)
	assert.True(t, up.closed.Load())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(99).String())
}
