// internal/handler/event_bus_test.go
package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"can-bridge-service/internal/model"
	"can-bridge-service/internal/protocol/prototest"
)

func receive(t *testing.T, sub *Subscription) model.BridgeEvent {
	t.Helper()
	select {
	case event := <-sub.Events:
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return model.BridgeEvent{}
	}
}

func TestEventBusFiltersBySession(t *testing.T) {
	bus := NewEventBus(zaptest.NewLogger(t))
	go bus.Start()
	defer bus.Stop()

	first, second := uuid.New(), uuid.New()
	all := bus.Subscribe(uuid.Nil, 10)
	onlyFirst := bus.Subscribe(first, 10)

	bus.Publish(model.NewBridgeEvent(model.EventSessionConnected, second, nil))
	bus.Publish(model.NewBridgeEvent(model.EventSessionConnected, first, nil))

	if got := receive(t, all); got.SessionID != second {
		t.Errorf("all subscriber first event for %s, want %s", got.SessionID, second)
	}
	if got := receive(t, all); got.SessionID != first {
		t.Errorf("all subscriber second event for %s, want %s", got.SessionID, first)
	}
	if got := receive(t, onlyFirst); got.SessionID != first {
		t.Errorf("filtered subscriber got event for %s", got.SessionID)
	}

	select {
	case event := <-onlyFirst.Events:
		t.Errorf("filtered subscriber received extra event %+v", event)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestEventBusDropsForFullSubscriber(t *testing.T) {
	bus := NewEventBus(zaptest.NewLogger(t))
	go bus.Start()
	defer bus.Stop()

	slow := bus.Subscribe(uuid.Nil, 1)
	fast := bus.Subscribe(uuid.Nil, 10)

	sessionID := uuid.New()
	for i := 0; i < 3; i++ {
		bus.Publish(model.NewBridgeEvent(model.EventSectionCompleted, sessionID, nil))
	}
	for i := 0; i < 3; i++ {
		receive(t, fast)
	}

	deadline := time.Now().Add(time.Second)
	for slow.Dropped() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if slow.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", slow.Dropped())
	}

	bus.Unsubscribe(slow)
	if _, ok := <-slow.Events; !ok {
		t.Fatal("buffered event lost on unsubscribe")
	}
	if _, ok := <-slow.Events; ok {
		t.Error("channel still open after unsubscribe")
	}
	if bus.SubscriberCount() != 1 {
		t.Errorf("subscriber count = %d, want 1", bus.SubscriberCount())
	}
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WebSocketMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WebSocketMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func TestWebSocketEventStream(t *testing.T) {
	srv := newTestServer(t, prototest.Script(prototest.ConfigModeBridge()))
	server := httptest.NewServer(srv.router)
	defer server.Close()

	conn := dial(t, server, "/ws/events")

	if err := conn.WriteJSON(WebSocketMessage{Type: "ping", RequestID: "r1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != "pong" || msg.RequestID != "r1" {
		t.Fatalf("reply = %+v, want pong r1", msg)
	}

	rec := srv.do(t, http.MethodGet, "/ws/stats", "")
	var stats struct {
		Connections ConnectionStats `json:"connections"`
		Subscribers int             `json:"subscribers"`
	}
	decodeData(t, rec, &stats)
	if stats.Connections.TotalConnections != 1 || stats.Connections.ByType["events"] != 1 || stats.Subscribers != 1 {
		t.Errorf("stats = %+v", stats)
	}

	sessionID := uuid.New()
	srv.bus.Publish(model.NewBridgeEvent(model.EventModeChanged, sessionID, model.JSONObject{"new": "responsive"}))

	msg := readMessage(t, conn)
	if msg.Type != "bridge_event" {
		t.Fatalf("message type = %q, want bridge_event", msg.Type)
	}
	raw, _ := json.Marshal(msg.Data)
	var event model.BridgeEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.EventType != model.EventModeChanged || event.SessionID != sessionID {
		t.Errorf("event = %+v", event)
	}
}

func TestWebSocketSessionCommand(t *testing.T) {
	srv := newTestServer(t, prototest.Script(prototest.ConfigModeBridge()))
	id := srv.connect(t)
	server := httptest.NewServer(srv.router)
	defer server.Close()

	conn := dial(t, server, "/ws/sessions/"+id)
	if msg := readMessage(t, conn); msg.Type != "initial_status" {
		t.Fatalf("first message = %q, want initial_status", msg.Type)
	}

	err := conn.WriteJSON(WebSocketMessage{
		Type:      "command",
		Data:      map[string]interface{}{"command": "AT"},
		RequestID: "cmd-1",
	})
	if err != nil {
		t.Fatalf("write command: %v", err)
	}

	// Operation events for the session arrive on the same connection.
	for {
		msg := readMessage(t, conn)
		if msg.Type != "command_response" {
			continue
		}
		data, _ := msg.Data.(map[string]interface{})
		if msg.RequestID != "cmd-1" || data["success"] != true {
			t.Fatalf("command response = %+v", msg)
		}
		if response, _ := data["response"].(string); !strings.Contains(response, "OK") {
			t.Errorf("response = %q", response)
		}
		break
	}
}

func TestWebSocketSessionRejectsUnknownSession(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodGet, "/ws/sessions/"+uuid.New().String(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}
	rec = srv.do(t, http.MethodGet, "/ws/sessions/bad", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed session status = %d, want 400", rec.Code)
	}
}
