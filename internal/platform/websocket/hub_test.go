package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdash/clinicdash/internal/platform/auth"
)

func ownTopics(viewerID, topic string) bool {
	return topic == SessionTopic(viewerID+"-session")
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	client := NewClient("prof-1")

	hub.Register(client)
	hub.Subscribe(client, []string{SessionTopic("s1")})
	if hub.ClientCount() != 1 || hub.TopicCount(SessionTopic("s1")) != 1 {
		t.Fatalf("expected 1 client on session:s1, got %d/%d", hub.ClientCount(), hub.TopicCount(SessionTopic("s1")))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount(SessionTopic("s1")) != 0 {
		t.Fatal("expected empty hub after unregister")
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send to be closed")
	}
	hub.Unregister(client)
}

func TestHub_SubscribeAuthorization(t *testing.T) {
	hub := NewHub(ownTopics, zerolog.Nop())
	client := NewClient("prof-1")
	hub.Register(client)

	refused := hub.Subscribe(client, []string{SessionTopic("prof-1-session"), SessionTopic("prof-2-session")})
	if len(refused) != 1 || refused[0] != SessionTopic("prof-2-session") {
		t.Fatalf("expected the other viewer's topic to be refused, got %v", refused)
	}
	if len(client.Topics) != 1 {
		t.Errorf("expected 1 topic, got %v", client.Topics)
	}
	if hub.TopicCount(SessionTopic("prof-2-session")) != 0 {
		t.Error("refused topic must have no subscribers")
	}
}

func TestHub_SubscribeTwiceIsIdempotent(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	client := NewClient("prof-1")
	hub.Register(client)

	hub.Subscribe(client, []string{"session:a"})
	hub.Subscribe(client, []string{"session:a"})
	if len(client.Topics) != 1 {
		t.Errorf("expected 1 topic, got %v", client.Topics)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	client := NewClient("prof-1")
	hub.Register(client)
	hub.Subscribe(client, []string{"session:a", "session:b"})

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{"session:a"}})
	if hub.TopicCount("session:a") != 0 || hub.TopicCount("session:b") != 1 {
		t.Fatalf("unexpected counts a=%d b=%d", hub.TopicCount("session:a"), hub.TopicCount("session:b"))
	}
	if len(client.Topics) != 1 || client.Topics[0] != "session:b" {
		t.Errorf("unexpected topics %v", client.Topics)
	}
}

func TestHub_SessionUpdatedReachesSubscribersOnly(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	hub.now = func() time.Time { return now }

	sub := NewClient("prof-1")
	other := NewClient("prof-1")
	hub.Register(sub)
	hub.Register(other)
	hub.ProcessMessage(sub, ClientMessage{Action: "subscribe", Topics: []string{SessionTopic("s1")}})
	hub.ProcessMessage(other, ClientMessage{Action: "subscribe", Topics: []string{SessionTopic("s2")}})

	hub.SessionUpdated("s1")

	select {
	case data := <-sub.Send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Type != EventSessionUpdated || ev.Topic != "session:s1" || ev.SessionID != "s1" || !ev.Timestamp.Equal(now) {
			t.Errorf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("subscriber received nothing")
	}
	select {
	case <-other.Send:
		t.Fatal("other topic must not receive the event")
	default:
	}
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	client := &Client{ID: "slow", Send: make(chan []byte, 1)}
	hub.Register(client)
	hub.Subscribe(client, []string{"session:s1"})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.SessionUpdated("s1")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
	if len(client.Send) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(client.Send))
	}
}

func TestHandler_RequiresViewer(t *testing.T) {
	e := echo.New()
	NewHandler(NewHub(nil, zerolog.Nop()), nil).RegisterRoutes(e.Group(""))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_CheckOrigin(t *testing.T) {
	h := NewHandler(NewHub(nil, zerolog.Nop()), []string{"http://localhost:3000"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://evil.example")
	if h.upgrader.CheckOrigin(req) {
		t.Error("unknown origin accepted")
	}
	req.Header.Set("Origin", "http://localhost:3000")
	if !h.upgrader.CheckOrigin(req) {
		t.Error("configured origin refused")
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	e := echo.New()
	g := e.Group("", auth.DevAuthMiddleware(auth.Viewer{ID: "prof-1", Role: auth.RoleProfessional}))
	NewHandler(hub, nil).RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{SessionTopic("s1")}}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(SessionTopic("s1")) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.SessionUpdated("s1")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != EventSessionUpdated || received.SessionID != "s1" {
		t.Fatalf("unexpected event %+v", received)
	}
}
