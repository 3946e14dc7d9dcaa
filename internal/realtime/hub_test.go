package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/user/flicklog/internal/events"
	"github.com/user/flicklog/internal/logging"
)

func fakeClient(h *Hub, userID uuid.UUID, buffer int) *Client {
	return &Client{id: clientIDCounter.Add(1), userID: userID, hub: h, send: make(chan Message, buffer)}
}

func TestHubSendToUser(t *testing.T) {
	h := NewHub()
	alice, bob := uuid.New(), uuid.New()

	a1, a2, b1 := fakeClient(h, alice, 4), fakeClient(h, alice, 4), fakeClient(h, bob, 4)
	h.Register(a1)
	h.Register(a2)
	h.Register(b1)

	if n := h.SendToUser(alice, Message{Type: MessageTypePendingRating}); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	if len(b1.send) != 0 {
		t.Fatalf("bob received alice's message")
	}

	h.Unregister(a1)
	h.Unregister(a1)
	if h.ClientCount(alice) != 1 {
		t.Fatalf("clients = %d, want 1", h.ClientCount(alice))
	}
	// 关闭前缓冲的消息仍可读出
	if _, ok := <-a1.send; !ok {
		t.Fatalf("buffered message lost")
	}
	if _, ok := <-a1.send; ok {
		t.Fatalf("send channel should be closed")
	}
}

func TestHubDropsSlowClients(t *testing.T) {
	h := NewHub()
	user := uuid.New()
	slow := fakeClient(h, user, 1)
	h.Register(slow)

	h.SendToUser(user, Message{Type: MessageTypePendingRating})
	if n := h.SendToUser(user, Message{Type: MessageTypePendingRating}); n != 0 {
		t.Fatalf("delivered = %d, want 0", n)
	}
	if h.ClientCount(user) != 0 {
		t.Fatalf("slow client still registered")
	}
}

func TestHubRun(t *testing.T) {
	bus := events.NewBus(logging.NewWatermillAdapter())
	defer bus.Close()

	h := NewHub()
	bob, carol, dave := uuid.New(), uuid.New(), uuid.New()
	cb, cc, cd := fakeClient(h, bob, 4), fakeClient(h, carol, 4), fakeClient(h, dave, 4)
	h.Register(cb)
	h.Register(cc)
	h.Register(cd)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, bus) }()
	time.Sleep(50 * time.Millisecond)

	entryID := uuid.New()
	if err := bus.Publish(events.TopicPendingCreated, events.PendingCreated{
		LogEntryID: entryID,
		SpaceName:  "Movie Night",
		FromName:   "alice",
		UserIDs:    []uuid.UUID{bob, carol},
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, c := range []*Client{cb, cc} {
		select {
		case msg := <-c.send:
			notice, ok := msg.Data.(PendingNotice)
			if msg.Type != MessageTypePendingRating || !ok || notice.LogEntryID != entryID || notice.FromName != "alice" {
				t.Fatalf("message = %+v", msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("client %s got nothing", c.userID)
		}
	}
	if len(cd.send) != 0 {
		t.Fatalf("uninvolved user was notified")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.ClientCount(bob) != 0 {
		t.Fatalf("clients not closed on shutdown")
	}
}

func TestServeWS(t *testing.T) {
	h := NewHub()
	user := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := ServeWS(h, w, r, user); err != nil {
			t.Errorf("serve: %v", err)
		}
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount(user) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.ClientCount(user) != 1 {
		t.Fatalf("client not registered")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatalf("ping: %v", err)
	}
	var pong Message
	if err := conn.ReadJSON(&pong); err != nil || pong.Type != MessageTypePong {
		t.Fatalf("pong = %+v, %v", pong, err)
	}

	h.SendToUser(user, Message{Type: MessageTypePendingRating, Data: PendingNotice{TmdbID: "603"}})
	var got struct {
		Type string        `json:"type"`
		Data PendingNotice `json:"data"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != MessageTypePendingRating || got.Data.TmdbID != "603" {
		t.Fatalf("got %+v", got)
	}

	_ = conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for h.ClientCount(user) != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.ClientCount(user) != 0 {
		t.Fatalf("client not unregistered after close")
	}
}
