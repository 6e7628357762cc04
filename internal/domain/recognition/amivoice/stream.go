package amivoice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"koemuse-server/internal/platform/errors"
	"koemuse-server/internal/platform/logging"
)

const dialHandshakeTimeout = 10 * time.Second

// TranscriptionEvent is one recognition result from the vendor. Partial
// results carry IsFinal=false and are superseded by later events.
type TranscriptionEvent struct {
	Text    string
	IsFinal bool
}

// StreamConfig holds the settings for one streaming recognition session.
type StreamConfig struct {
	URL              string
	AppKey           string
	Password         string
	GrammarFileNames string
	ResultIntervalMs int
	Segmentation     bool
}

// command is the client-to-vendor message envelope.
type command struct {
	Command string         `json:"command"`
	Param   map[string]any `json:"param,omitempty"`
}

// vendorMessage is the vendor-to-client message envelope. Exactly one of
// Result and Error is populated.
type vendorMessage struct {
	Result *vendorResult   `json:"result"`
	Error  json.RawMessage `json:"error"`
}

type vendorResult struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// Stream is one live connection to the AmiVoice streaming recognition
// endpoint. It is exclusively owned by a single relay session.
type Stream struct {
	conn   *websocket.Conn
	logger *logging.Logger

	writeMu sync.Mutex
	closed  atomic.Bool

	events chan TranscriptionEvent

	errMu sync.Mutex
	err   error
}

// DialStream opens the vendor connection and performs the handshake: auth,
// recognition parameters and the start command, in that order. The reader
// goroutine is running when DialStream returns.
func DialStream(ctx context.Context, cfg StreamConfig, logger *logging.Logger) (*Stream, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: dialHandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.KindRecognition, "stream.dial", "failed to connect to recognition service", err)
	}

	s := &Stream{
		conn:   conn,
		logger: logger,
		events: make(chan TranscriptionEvent, 16),
	}

	handshake := []command{
		{
			Command: "auth",
			Param: map[string]any{
				"appKey":   cfg.AppKey,
				"password": cfg.Password,
			},
		},
		{
			Command: "param",
			Param: map[string]any{
				"grammarFileNames": cfg.GrammarFileNames,
				"resultType":       "json",
				"resultInterval":   cfg.ResultIntervalMs,
				"segmentation":     fmt.Sprintf("%t", cfg.Segmentation),
			},
		},
		{Command: "start"},
	}
	for _, cmd := range handshake {
		if err := s.writeJSON(cmd); err != nil {
			s.Close()
			return nil, errors.Wrap(errors.KindRecognition, "stream.handshake", "failed to initialise recognition stream", err)
		}
	}

	logger.DebugTag("ASR", "stream opened, start command sent")

	go s.readLoop()

	return s, nil
}

// Events returns the transcription event channel. It is closed when the
// stream ends; check Err afterwards for the termination cause.
func (s *Stream) Events() <-chan TranscriptionEvent {
	return s.events
}

// Err reports why the stream terminated, nil for a clean shutdown.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// SendAudio forwards one audio frame verbatim as a binary message. No
// buffering or transcoding happens here; format compatibility is the
// producer's responsibility.
func (s *Stream) SendAudio(data []byte) error {
	if s.closed.Load() {
		return errors.New(errors.KindRecognition, "stream.send_audio", "stream already closed")
	}
	if len(data) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errors.Wrap(errors.KindRecognition, "stream.send_audio", "failed to forward audio frame", err)
	}
	return nil
}

// Stop asks the vendor to finish recognition of buffered audio. The stream
// stays open so the final result can still arrive.
func (s *Stream) Stop() error {
	if s.closed.Load() {
		return nil
	}
	if err := s.writeJSON(command{Command: "stop"}); err != nil {
		return errors.Wrap(errors.KindRecognition, "stream.stop", "failed to send stop command", err)
	}
	return nil
}

// Close tears down the vendor connection. Safe to call more than once.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

func (s *Stream) writeJSON(cmd command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Stream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// readLoop translates vendor messages into TranscriptionEvents until the
// connection ends. Non-JSON payloads are logged and skipped; a vendor error
// message or a read failure terminates the stream. A final result only ends
// the loop: the connection stays open so the owning session can still send
// the stop command before releasing it.
func (s *Stream) readLoop() {
	defer close(s.events)

	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() {
				s.setErr(errors.Wrap(errors.KindRecognition, "stream.read", "recognition stream read failed", err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg vendorMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.WarnTag("ASR", "discarding malformed vendor payload: %v", err)
			continue
		}

		switch {
		case msg.Result != nil:
			if msg.Result.Text == "" && !msg.Result.IsFinal {
				continue
			}
			s.events <- TranscriptionEvent{
				Text:    msg.Result.Text,
				IsFinal: msg.Result.IsFinal,
			}
			if msg.Result.IsFinal {
				return
			}
		case len(msg.Error) > 0:
			s.setErr(errors.New(errors.KindRecognition, "stream.vendor",
				fmt.Sprintf("recognition service error: %s", string(msg.Error))))
			return
		}
	}
}
