package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/user/flicklog/internal/logging"
)

func TestBusRoundTrip(t *testing.T) {
	bus := NewBus(logging.NewWatermillAdapter())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := bus.Subscribe(ctx, TopicPendingCreated)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sent := PendingCreated{
		SpaceID:    uuid.New(),
		SpaceName:  "Movie Night",
		LogEntryID: uuid.New(),
		TmdbID:     "603",
		TmdbType:   "movie",
		FromName:   "alice",
		UserIDs:    []uuid.UUID{uuid.New(), uuid.New()},
		CreatedAt:  time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	}
	if err := bus.Publish(TopicPendingCreated, sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-msgs:
		got, err := Decode[PendingCreated](msg)
		msg.Ack()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.LogEntryID != sent.LogEntryID || len(got.UserIDs) != 2 || got.UserIDs[1] != sent.UserIDs[1] || !got.CreatedAt.Equal(sent.CreatedAt) {
			t.Fatalf("got %+v, want %+v", got, sent)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBusTopicsAreIsolated(t *testing.T) {
	bus := NewBus(logging.NewWatermillAdapter())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := bus.Subscribe(ctx, TopicEntryLogged)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(TopicPendingCreated, PendingCreated{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-msgs:
		t.Fatalf("unexpected message on %s: %s", TopicEntryLogged, msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}
