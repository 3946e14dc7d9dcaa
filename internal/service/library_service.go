package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/user/flicklog/internal/model"
	"github.com/user/flicklog/internal/repository"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// TitleSearcher 标题搜索
type TitleSearcher interface {
	Search(ctx context.Context, query string) []SearchResult
}

// EntryView 记录及其影视信息
type EntryView struct {
	*model.LogEntry
	Title       string  `json:"title"`
	PosterPath  *string `json:"poster_path"`
	ReleaseYear string  `json:"release_year"`
}

type EntryPage struct {
	Entries []EntryView `json:"entries"`
	Total   int64       `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
}

// PendingView 待评分列表项
type PendingView struct {
	LogEntryID uuid.UUID       `json:"log_entry_id"`
	SpaceID    uuid.UUID       `json:"space_id"`
	SpaceName  string          `json:"space_name"`
	TmdbID     string          `json:"tmdb_id"`
	TmdbType   model.MediaType `json:"tmdb_type"`
	Title      string          `json:"title"`
	PosterPath *string         `json:"poster_path"`
	CreatedAt  time.Time       `json:"created_at"`
}

type LibraryService struct {
	repos    *repository.Repositories
	lookup   MetadataLookup
	searcher TitleSearcher
}

func NewLibraryService(repos *repository.Repositories, lookup MetadataLookup, searcher TitleSearcher) *LibraryService {
	return &LibraryService{repos: repos, lookup: lookup, searcher: searcher}
}

// ListEntries 空间内的记录，最新在前
func (s *LibraryService) ListEntries(ctx context.Context, userID, spaceID uuid.UUID, limit, offset int) (*EntryPage, error) {
	if userID == uuid.Nil {
		return nil, errNotAuthenticated()
	}
	if err := requireMember(ctx, s.repos, spaceID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.repos.LogEntry.ListBySpace(ctx, spaceID, limit, offset)
	if err != nil {
		return nil, storageFailure("LibraryService", err)
	}
	total, err := s.repos.LogEntry.CountBySpace(ctx, spaceID)
	if err != nil {
		return nil, storageFailure("LibraryService", err)
	}

	views := make([]EntryView, len(entries))
	for i, e := range entries {
		views[i] = EntryView{LogEntry: e, Title: untitled}
	}
	s.enrich(ctx, len(views), func(i int) (string, model.MediaType) {
		return views[i].TmdbID, views[i].TmdbType
	}, func(i int, d MediaDetails) {
		views[i].Title = d.DisplayTitle()
		views[i].PosterPath = d.Poster()
		views[i].ReleaseYear = ReleaseYear(d)
	})

	return &EntryPage{Entries: views, Total: total, Limit: limit, Offset: offset}, nil
}

// ListPending 当前用户欠下的评分，最新在前
func (s *LibraryService) ListPending(ctx context.Context, userID uuid.UUID) ([]PendingView, error) {
	if userID == uuid.Nil {
		return nil, errNotAuthenticated()
	}
	pendings, err := s.repos.PendingRating.ListByUser(ctx, userID)
	if err != nil {
		return nil, storageFailure("LibraryService", err)
	}

	views := make([]PendingView, 0, len(pendings))
	for _, p := range pendings {
		if p.LogEntry == nil {
			continue
		}
		v := PendingView{
			LogEntryID: p.LogEntryID,
			SpaceID:    p.LogEntry.SpaceID,
			TmdbID:     p.LogEntry.TmdbID,
			TmdbType:   p.LogEntry.TmdbType,
			Title:      untitled,
			CreatedAt:  p.CreatedAt,
		}
		if p.LogEntry.Space != nil {
			v.SpaceName = p.LogEntry.Space.Name
		}
		views = append(views, v)
	}
	s.enrich(ctx, len(views), func(i int) (string, model.MediaType) {
		return views[i].TmdbID, views[i].TmdbType
	}, func(i int, d MediaDetails) {
		views[i].Title = d.DisplayTitle()
		views[i].PosterPath = d.Poster()
	})
	return views, nil
}

// Search 电影与剧集混合搜索
func (s *LibraryService) Search(ctx context.Context, query string) []SearchResult {
	if s.searcher == nil {
		return []SearchResult{}
	}
	return s.searcher.Search(ctx, query)
}

// enrich 并发补全影视信息，查不到的保持原样
func (s *LibraryService) enrich(ctx context.Context, n int, key func(i int) (string, model.MediaType), apply func(i int, d MediaDetails)) {
	if s.lookup == nil || n == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupParallel)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			id, typ := key(i)
			if d := s.lookup.GetMediaDetails(gctx, id, typ); d != nil {
				apply(i, d)
			}
			return nil
		})
	}
	_ = g.Wait()
}
