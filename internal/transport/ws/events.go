package ws

import (
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// Browser-facing event names. Audio arrives as raw binary frames; every
// other message in either direction is a JSON envelope with a type field.
const (
	eventRecognitionUpdate   = "recognition_update"
	eventRecognitionError    = "recognition_error"
	eventMusicGenerated      = "music_generated"
	eventMusicGenerationErr  = "music_generation_error"
	clientEventStopRecording = "stop_recording"
)

type recognitionUpdateEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type musicGeneratedEvent struct {
	Type            string `json:"type"`
	Success         bool   `json:"success"`
	OriginalText    string `json:"originalText"`
	DetectedEmotion string `json:"detectedEmotion"`
	MusicURL        string `json:"musicUrl"`
}

type clientEvent struct {
	Type string `json:"type"`
}

func sendEvent(conn *Connection, event any) error {
	payload, err := sonic.Marshal(event)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// parseClientEvent decodes a text frame from the browser. Unknown or
// malformed frames return an empty type; the relay ignores them.
func parseClientEvent(data []byte) string {
	var ev clientEvent
	if err := sonic.Unmarshal(data, &ev); err != nil {
		return ""
	}
	return ev.Type
}
