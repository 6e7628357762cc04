package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/gorilla/websocket"

	"koemuse-server/internal/domain/music"
	"koemuse-server/internal/domain/recognition/amivoice"
	"koemuse-server/internal/platform/logging"
)

// State is the relay session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Upstream is the streaming recognition connection a relay owns. At most
// one is open per session.
type Upstream interface {
	Events() <-chan amivoice.TranscriptionEvent
	Err() error
	SendAudio(data []byte) error
	Stop() error
	Close() error
}

// UpstreamDialer opens the upstream recognition stream for a session.
type UpstreamDialer func(ctx context.Context) (Upstream, error)

// Dispatcher runs the text-to-music pipeline for a final transcript.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID, text string)
}

// RelayOptions configures a relay session.
type RelayOptions struct {
	IdleTimeout time.Duration
}

// Relay drives one browser session: it owns the upstream recognition
// stream, forwards audio chunks upstream in arrival order, pushes
// transcription events back to the client, and hands the final transcript
// to the dispatcher. Generation outcomes come back over the bus.
type Relay struct {
	sessionID  string
	conn       *Connection
	dial       UpstreamDialer
	dispatcher Dispatcher
	bus        evbus.Bus
	logger     *logging.Logger
	opts       RelayOptions

	state     atomic.Int32
	finalized atomic.Bool
	closed    atomic.Bool
	done      chan struct{}

	upMu     sync.Mutex
	upstream Upstream

	onGenerated func(ev *music.Generated)
	onFailure   func(ev *music.GenerationFailure)
}

// NewRelay builds the session handler for one upgraded connection and
// subscribes it to generation outcomes.
func NewRelay(sessionID string, conn *Connection, dial UpstreamDialer, dispatcher Dispatcher, bus evbus.Bus, logger *logging.Logger, opts RelayOptions) (*Relay, error) {
	r := &Relay{
		sessionID:  sessionID,
		conn:       conn,
		dial:       dial,
		dispatcher: dispatcher,
		bus:        bus,
		logger:     logger,
		opts:       opts,
		done:       make(chan struct{}),
	}

	r.onGenerated = func(ev *music.Generated) {
		if ev.SessionID != r.sessionID {
			return
		}
		r.send(musicGeneratedEvent{
			Type:            eventMusicGenerated,
			Success:         true,
			OriginalText:    ev.OriginalText,
			DetectedEmotion: string(ev.DetectedEmotion),
			MusicURL:        ev.MusicURL,
		})
	}
	r.onFailure = func(ev *music.GenerationFailure) {
		if ev.SessionID != r.sessionID {
			return
		}
		r.send(errorEvent{Type: eventMusicGenerationErr, Message: ev.Message})
	}

	if err := bus.Subscribe(music.TopicGenerated, r.onGenerated); err != nil {
		return nil, err
	}
	if err := bus.Subscribe(music.TopicGenerationError, r.onFailure); err != nil {
		_ = bus.Unsubscribe(music.TopicGenerated, r.onGenerated)
		return nil, err
	}
	return r, nil
}

// GetSessionID implements SessionHandler.
func (r *Relay) GetSessionID() string {
	return r.sessionID
}

// State returns the current lifecycle state.
func (r *Relay) State() State {
	return State(r.state.Load())
}

func (r *Relay) setState(next State) {
	for {
		current := r.state.Load()
		if State(current) == StateClosed && next != StateClosed {
			return
		}
		if r.state.CompareAndSwap(current, int32(next)) {
			return
		}
	}
}

// Handle implements SessionHandler. It opens the upstream stream, then
// pumps client frames and upstream events until either side ends.
func (r *Relay) Handle() {
	r.setState(StateConnecting)

	up, err := r.dial(context.Background())
	if err != nil {
		r.logger.ErrorTag("Relay", "session %s upstream dial failed: %v", r.sessionID, err)
		r.send(errorEvent{Type: eventRecognitionError, Message: "音声認識サービスへの接続に失敗しました。"})
		r.setState(StateClosed)
		return
	}
	r.setUpstream(up)
	r.setState(StateStreaming)
	r.logger.InfoTag("Relay", "session %s streaming", r.sessionID)

	go r.pumpUpstream(up)
	if r.opts.IdleTimeout > 0 {
		go r.watchIdle()
	}

	r.readClient(up)
}

// readClient forwards binary frames upstream and handles control events
// until the client disconnects or the relay goes terminal.
func (r *Relay) readClient(up Upstream) {
	for {
		messageType, data, err := r.conn.ReadMessage()
		if err != nil {
			r.logger.InfoTag("Relay", "session %s client gone: %v", r.sessionID, err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if r.State() != StateStreaming {
				continue
			}
			if err := up.SendAudio(data); err != nil {
				r.logger.ErrorTag("Relay", "session %s audio forward failed: %v", r.sessionID, err)
				r.send(errorEvent{Type: eventRecognitionError, Message: "音声データの送信中にエラーが発生しました。"})
				r.closeUpstream()
				return
			}
		case websocket.TextMessage:
			if parseClientEvent(data) == clientEventStopRecording {
				r.logger.InfoTag("Relay", "session %s stop requested by client", r.sessionID)
				if err := up.Stop(); err != nil {
					r.logger.WarnTag("Relay", "session %s stop command failed: %v", r.sessionID, err)
				}
			}
		}
	}
}

// pumpUpstream translates upstream messages into client events. A final
// result triggers the terminal transition and the generation dispatch.
func (r *Relay) pumpUpstream(up Upstream) {
	for ev := range up.Events() {
		if err := r.send(recognitionUpdateEvent{
			Type:    eventRecognitionUpdate,
			Text:    ev.Text,
			IsFinal: ev.IsFinal,
		}); err != nil {
			r.logger.WarnTag("Relay", "session %s client push failed: %v", r.sessionID, err)
		}
		if ev.IsFinal {
			r.finalize(up, ev.Text)
		}
	}

	if err := up.Err(); err != nil && !r.finalized.Load() && r.State() != StateClosed {
		r.logger.ErrorTag("Relay", "session %s upstream failed: %v", r.sessionID, err)
		r.send(errorEvent{Type: eventRecognitionError, Message: "音声認識中にエラーが発生しました。"})
		r.closeUpstream()
		// unblock the client read loop so the session ends
		_ = r.conn.Close()
	}
}

// finalize performs the terminal transition exactly once: stop and close
// the upstream stream, then dispatch generation out of band. The client
// connection stays open for the generation outcome events.
func (r *Relay) finalize(up Upstream, text string) {
	if !r.finalized.CompareAndSwap(false, true) {
		return
	}
	r.setState(StateFinalizing)
	r.logger.InfoTag("Relay", "session %s final transcript: %q", r.sessionID, text)

	if err := up.Stop(); err != nil {
		r.logger.WarnTag("Relay", "session %s upstream stop failed: %v", r.sessionID, err)
	}
	if err := up.Close(); err != nil {
		r.logger.WarnTag("Relay", "session %s upstream close failed: %v", r.sessionID, err)
	}

	go r.dispatcher.Dispatch(context.Background(), r.sessionID, text)
}

// watchIdle force-closes sessions with no traffic in either direction.
func (r *Relay) watchIdle() {
	interval := r.opts.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			if r.conn.IsStale(r.opts.IdleTimeout) {
				r.logger.WarnTag("Relay", "session %s closed: %v", r.sessionID, ErrIdleTimeout)
				r.closeUpstream()
				_ = r.conn.Close()
				return
			}
		}
	}
}

// Close implements SessionHandler. Safe to call more than once.
func (r *Relay) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	close(r.done)
	_ = r.bus.Unsubscribe(music.TopicGenerated, r.onGenerated)
	_ = r.bus.Unsubscribe(music.TopicGenerationError, r.onFailure)
	r.closeUpstream()
	r.setState(StateClosed)
}

func (r *Relay) setUpstream(up Upstream) {
	r.upMu.Lock()
	r.upstream = up
	r.upMu.Unlock()
}

func (r *Relay) closeUpstream() {
	r.upMu.Lock()
	up := r.upstream
	r.upstream = nil
	r.upMu.Unlock()
	if up != nil {
		_ = up.Close()
	}
}

func (r *Relay) send(event any) error {
	return sendEvent(r.conn, event)
}
