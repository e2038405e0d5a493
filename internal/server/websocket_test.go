package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/jfoltran/cdcingester/internal/replication"
)

func TestHubBroadcastsPublishedEvents(t *testing.T) {
	bus := replication.NewFanoutBus()
	hub := newHub(bus, zerolog.Nop())

	srv := httptest.NewServer(http.HandlerFunc(hub.handleWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	if err := bus.Publish(`{"kind":"insert"}`); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"kind":"insert"}` {
		t.Errorf("got %q, want insert event", string(data))
	}
}
