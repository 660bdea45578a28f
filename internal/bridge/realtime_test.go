package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// A socket torn down while its event buffer is full of undrained frames
// must end with a closed events channel, never a send panic.
func TestModelStreamCloseWithUndrainedEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// flood well past the event buffer capacity
		for i := 0; i < 600; i++ {
			if err := conn.WriteJSON(map[string]any{"type": ModelEventResponseDone}); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	dialer := ModelDialer{APIKey: "test", URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	stream, err := dialer.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	// Leave Events() undrained so the reader parks on a full buffer.
	time.Sleep(200 * time.Millisecond)
	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-stream.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("events channel still open after Close")
		}
	}
}
