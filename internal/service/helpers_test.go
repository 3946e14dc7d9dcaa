package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/user/flicklog/internal/model"
	"github.com/user/flicklog/internal/utils"
)

type published struct {
	topic   string
	payload interface{}
}

// recordingPublisher 记录所有事件，err 非空时模拟投递失败
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic: topic, payload: payload})
	return p.err
}

func (p *recordingPublisher) byTopic(topic string) []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []interface{}
	for _, e := range p.events {
		if e.topic == topic {
			out = append(out, e.payload)
		}
	}
	return out
}

// fakeLookup 内存元数据，未登记的返回 nil
type fakeLookup struct {
	mu      sync.Mutex
	details map[string]MediaDetails
	calls   int
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{details: make(map[string]MediaDetails)}
}

func (f *fakeLookup) movie(id, title, released string) *fakeLookup {
	f.details[string(model.MediaTypeMovie)+":"+id] = &MovieDetails{Title: title, ReleaseDate: released}
	return f
}

func (f *fakeLookup) tv(id, name, firstAir string) *fakeLookup {
	f.details[string(model.MediaTypeTV)+":"+id] = &TVDetails{Name: name, FirstAirDate: firstAir}
	return f
}

func (f *fakeLookup) GetMediaDetails(_ context.Context, mediaID string, mediaType model.MediaType) MediaDetails {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.details[string(mediaType)+":"+mediaID]
}

// countingInvalidator 统计失效次数
type countingInvalidator struct {
	mu    sync.Mutex
	count map[uuid.UUID]int
}

func (c *countingInvalidator) Invalidate(spaceID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == nil {
		c.count = make(map[uuid.UUID]int)
	}
	c.count[spaceID]++
}

func (c *countingInvalidator) times(spaceID uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count[spaceID]
}

func newSecrets(t *testing.T) *utils.SecretBox {
	t.Helper()
	box, err := utils.NewSecretBox("test-secret", "flicklog-webhook")
	if err != nil {
		t.Fatalf("secret box: %v", err)
	}
	return box
}

func ratingInput(rating float64, watchedOn string) RatingInput {
	return RatingInput{Rating: rating, WatchedOn: watchedOn}
}

func entryInput(mediaID, mediaType string, rating float64) LogEntryInput {
	return LogEntryInput{MediaID: mediaID, MediaType: mediaType, RatingInput: ratingInput(rating, "2024-03-10")}
}

func assertKind(t *testing.T, err error, want ErrorKind) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	e, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if e.Kind != want {
		t.Fatalf("kind = %s, want %s (%v)", e.Kind, want, err)
	}
	return e
}

var errPublish = errors.New("bus closed")
