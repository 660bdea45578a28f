package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second

	// maxModelFrameBytes bounds one realtime event; audio deltas are the
	// largest frames and stay well under this.
	maxModelFrameBytes = 1 << 20

	defaultRealtimeURL = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview"
)

// Model event types the bridge reacts to.
const (
	ModelEventSessionUpdated = "session.updated"
	ModelEventAudioDelta     = "response.audio.delta"
	ModelEventSpeechStarted  = "input_audio_buffer.speech_started"
	ModelEventResponseDone   = "response.done"
	ModelEventError          = "error"
)

// ModelEvent is one decoded frame from the model socket.
type ModelEvent struct {
	Type         string
	ItemID       string
	Delta        string
	ErrorCode    string
	ErrorMessage string
}

// ModelStream is the model side of a bridged call. Writes are safe for
// concurrent use; events are closed when the socket dies.
type ModelStream interface {
	Events() <-chan ModelEvent
	UpdateSession(session map[string]any) error
	AppendAudio(payloadBase64 string) error
	CommitAudio() error
	RequestResponse(instructions string) error
	TruncateItem(itemID string, audioEndMS int64) error
	Close() error
}

// ModelDialer opens a realtime session against the model provider.
type ModelDialer struct {
	APIKey string
	URL    string
}

func (d ModelDialer) Dial(ctx context.Context) (ModelStream, error) {
	target := strings.TrimSpace(d.URL)
	if target == "" {
		target = defaultRealtimeURL
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+d.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, target, headers)
	if err != nil {
		return nil, fmt.Errorf("dial model websocket: %w", err)
	}
	conn.SetReadLimit(maxModelFrameBytes)

	s := &modelStream{
		conn:   conn,
		done:   make(chan struct{}),
		events: make(chan ModelEvent, 256),
	}
	go s.readLoop()
	return s, nil
}

type modelStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	events    chan ModelEvent
}

func (s *modelStream) Events() <-chan ModelEvent { return s.events }

func (s *modelStream) UpdateSession(session map[string]any) error {
	return s.writeJSON(map[string]any{
		"type":    "session.update",
		"session": session,
	})
}

func (s *modelStream) AppendAudio(payloadBase64 string) error {
	return s.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": payloadBase64,
	})
}

func (s *modelStream) CommitAudio() error {
	return s.writeJSON(map[string]any{"type": "input_audio_buffer.commit"})
}

func (s *modelStream) RequestResponse(instructions string) error {
	payload := map[string]any{"type": "response.create"}
	if instructions != "" {
		payload["response"] = map[string]any{"instructions": instructions}
	}
	return s.writeJSON(payload)
}

func (s *modelStream) TruncateItem(itemID string, audioEndMS int64) error {
	return s.writeJSON(map[string]any{
		"type":          "conversation.item.truncate",
		"item_id":       itemID,
		"content_index": 0,
		"audio_end_ms":  audioEndMS,
	})
}

func (s *modelStream) writeJSON(payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(payload)
}

// readLoop is the only goroutine that sends on events, so it alone closes
// the channel when it exits.
func (s *modelStream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}

		eventType := stringField(raw, "type")
		switch eventType {
		case ModelEventSessionUpdated:
			if !s.send(ModelEvent{Type: ModelEventSessionUpdated}) {
				return
			}
		case ModelEventAudioDelta:
			ev := ModelEvent{
				Type:   ModelEventAudioDelta,
				ItemID: stringField(raw, "item_id"),
				Delta:  stringField(raw, "delta"),
			}
			if !s.send(ev) {
				return
			}
		case ModelEventSpeechStarted:
			if !s.send(ModelEvent{Type: ModelEventSpeechStarted}) {
				return
			}
		case ModelEventResponseDone:
			if !s.send(ModelEvent{Type: ModelEventResponseDone}) {
				return
			}
		case ModelEventError:
			code, message := errorFields(raw)
			if !s.send(ModelEvent{Type: ModelEventError, ErrorCode: code, ErrorMessage: message}) {
				return
			}
		default:
			// ignore the rest of the realtime event surface
		}
	}
}

// send delivers one event unless the stream has been closed; a consumer
// that stopped draining cannot strand readLoop on a full buffer.
func (s *modelStream) send(ev ModelEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Close tears down the socket. The events channel stays owned by readLoop,
// which closes it after its read fails.
func (s *modelStream) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		retErr = s.conn.Close()
	})
	return retErr
}

func stringField(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

func errorFields(raw map[string]any) (code, message string) {
	nested, ok := raw["error"].(map[string]any)
	if !ok {
		return "", ""
	}
	return stringField(nested, "code"), stringField(nested, "message")
}
