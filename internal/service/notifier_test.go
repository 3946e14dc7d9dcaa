package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/user/flicklog/internal/config"
	"github.com/user/flicklog/internal/events"
	"github.com/user/flicklog/internal/logging"
)

func testWebhookConfig() config.WebhookConfig {
	return config.WebhookConfig{Timeout: 2 * time.Second, RatePerMinute: 600, Burst: 10}
}

func sampleEvent(url string) events.EntryLogged {
	return events.EntryLogged{
		SpaceID:    uuid.New(),
		SpaceName:  "Movie Night",
		WebhookURL: url,
		LogEntryID: uuid.New(),
		TmdbID:     "603",
		TmdbType:   "movie",
		Rating:     4.5,
		QuickTake:  "Still holds up",
		Author:     events.Author{Username: "neo", DisplayName: "Thomas", AvatarURL: "https://example.com/a.png"},
		LoggedAt:   time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC),
	}
}

func TestStars(t *testing.T) {
	tests := map[float64]string{
		0.5: "✨",
		1:   "⭐",
		3.5: "⭐⭐⭐✨",
		5:   "⭐⭐⭐⭐⭐",
	}
	for in, want := range tests {
		if got := Stars(in); got != want {
			t.Errorf("Stars(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildDiscordPayload(t *testing.T) {
	poster := "/poster.jpg"
	details := &MovieDetails{Title: "The Matrix", ReleaseDate: "1999-03-31", PosterPath: &poster}

	p := BuildDiscordPayload(sampleEvent("https://hook"), details)
	if p.Content != "Thomas just logged a new entry!" {
		t.Fatalf("content = %q", p.Content)
	}
	if len(p.Embeds) != 1 {
		t.Fatalf("embeds = %d", len(p.Embeds))
	}
	e := p.Embeds[0]
	checks := map[string][2]string{
		"title":     {e.Title, "The Matrix (1999)"},
		"url":       {e.URL, "https://www.themoviedb.org/movie/603"},
		"author":    {e.Author.Name, "Thomas (@neo)"},
		"footer":    {e.Footer.Text, "Logged with Flicklog"},
		"timestamp": {e.Timestamp, "2024-03-10T20:00:00Z"},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", name, c[0], c[1])
		}
	}
	if !strings.HasPrefix(e.Description, "**4.5** ⭐⭐⭐⭐✨") || !strings.HasSuffix(e.Description, "> Still holds up") {
		t.Errorf("description = %q", e.Description)
	}
	if e.Color != 13915497 {
		t.Errorf("color = %d", e.Color)
	}
	if e.Image == nil || e.Image.URL != "https://image.tmdb.org/t/p/w500/poster.jpg" {
		t.Errorf("image = %+v", e.Image)
	}

	t.Run("no poster and no display name", func(t *testing.T) {
		evt := sampleEvent("https://hook")
		evt.Author.DisplayName = ""
		evt.QuickTake = ""
		p := BuildDiscordPayload(evt, &TVDetails{Name: "Severance", FirstAirDate: "2022-02-18"})
		if p.Content != "neo just logged a new entry!" {
			t.Fatalf("content = %q", p.Content)
		}
		if p.Embeds[0].Image != nil {
			t.Fatalf("unexpected image")
		}
		if strings.Contains(p.Embeds[0].Description, ">") {
			t.Fatalf("description = %q", p.Embeds[0].Description)
		}
	})
}

func TestNotifierDispatch(t *testing.T) {
	ctx := context.Background()
	lookup := newFakeLookup().movie("603", "The Matrix", "1999-03-31")

	t.Run("posts the rendered payload", func(t *testing.T) {
		var got DiscordPayload
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, &got); err != nil {
				t.Errorf("decode: %v", err)
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		n := NewNotifier(nil, lookup, testWebhookConfig())
		n.Dispatch(ctx, sampleEvent(srv.URL))
		if len(got.Embeds) != 1 || got.Embeds[0].Title != "The Matrix (1999)" {
			t.Fatalf("payload = %+v", got)
		}
	})

	t.Run("failing webhook is swallowed", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		n := NewNotifier(nil, lookup, testWebhookConfig())
		n.Dispatch(ctx, sampleEvent(srv.URL))
		if hits.Load() != 1 {
			t.Fatalf("hits = %d, want exactly one attempt", hits.Load())
		}
	})

	t.Run("missing metadata aborts the post", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
		}))
		defer srv.Close()

		n := NewNotifier(nil, newFakeLookup(), testWebhookConfig())
		n.Dispatch(ctx, sampleEvent(srv.URL))
		if hits.Load() != 0 {
			t.Fatalf("hits = %d, want 0", hits.Load())
		}
	})
}

func TestNotifierRun(t *testing.T) {
	received := make(chan DiscordPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p DiscordPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p
	}))
	defer srv.Close()

	bus := events.NewBus(logging.NewWatermillAdapter())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := NewNotifier(bus, newFakeLookup().movie("603", "The Matrix", "1999-03-31"), testWebhookConfig())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	// Subscribe 在 Run 内部完成，稍等再发布
	time.Sleep(50 * time.Millisecond)
	if err := bus.Publish(events.TopicEntryLogged, sampleEvent(srv.URL)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case p := <-received:
		if p.Content != "Thomas just logged a new entry!" {
			t.Fatalf("content = %q", p.Content)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("webhook not called")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}
