package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/user/flicklog/internal/model"
	"github.com/user/flicklog/internal/repository"
	"golang.org/x/sync/errgroup"
)

// RewindEntry 往年今日看过的影视
type RewindEntry struct {
	LogEntryID uuid.UUID       `json:"log_entry_id"`
	TmdbID     string          `json:"tmdb_id"`
	TmdbType   model.MediaType `json:"tmdb_type"`
	Title      string          `json:"title"`
	PosterPath *string         `json:"poster_path"`
	WatchedOn  string          `json:"watched_on"`
	Rating     float64         `json:"rating"`
}

type RewindService struct {
	repos  *repository.Repositories
	lookup MetadataLookup
	now    func() time.Time
}

func NewRewindService(repos *repository.Repositories, lookup MetadataLookup) *RewindService {
	return &RewindService{repos: repos, lookup: lookup, now: time.Now}
}

// WithClock 替换时钟，测试用
func (s *RewindService) WithClock(now func() time.Time) *RewindService {
	s.now = now
	return s
}

// Rewind 今天之前、月日与今天相同的评分，按观看日期倒序；没有命中返回空列表
func (s *RewindService) Rewind(ctx context.Context, userID uuid.UUID) ([]RewindEntry, error) {
	if userID == uuid.Nil {
		return nil, errNotAuthenticated()
	}
	today := model.DateOnly(s.now().UTC())

	ratings, err := s.repos.Rating.ListForRewind(ctx, userID, today)
	if err != nil {
		return nil, storageFailure("RewindService", err)
	}

	out := []RewindEntry{}
	for _, r := range ratings {
		w := r.WatchedOn.UTC()
		if w.Day() != today.Day() || w.Month() != today.Month() || r.LogEntry == nil {
			continue
		}
		out = append(out, RewindEntry{
			LogEntryID: r.LogEntryID,
			TmdbID:     r.LogEntry.TmdbID,
			TmdbType:   r.LogEntry.TmdbType,
			Title:      untitled,
			WatchedOn:  w.Format("2006-01-02"),
			Rating:     r.Value,
		})
	}

	if s.lookup != nil && len(out) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(lookupParallel)
		for i := range out {
			e := &out[i]
			g.Go(func() error {
				if d := s.lookup.GetMediaDetails(gctx, e.TmdbID, e.TmdbType); d != nil {
					e.Title = d.DisplayTitle()
					e.PosterPath = d.Poster()
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	return out, nil
}
