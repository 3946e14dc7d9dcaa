package service

import (
	"bytes"
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/user/flicklog/internal/metrics"
	"github.com/user/flicklog/internal/model"
	"github.com/user/flicklog/internal/repository"
	"github.com/user/flicklog/internal/utils"
	"golang.org/x/sync/errgroup"
)

const (
	untitled         = "Untitled"
	greatDivideLimit = 4
	lookupParallel   = 8
)

// MemberStat 成员的评分数与平均分
type MemberStat struct {
	UserID        uuid.UUID `json:"user_id"`
	Username      string    `json:"username"`
	DisplayName   *string   `json:"display_name"`
	AvatarURL     *string   `json:"avatar_url"`
	TotalRatings  int       `json:"total_ratings"`
	AverageRating float64   `json:"average_rating"`
}

// CriticStats 最严苛 / 最宽容的成员
type CriticStats struct {
	ToughestCritic *MemberStat  `json:"toughest_critic"`
	MostGenerous   *MemberStat  `json:"most_generous"`
	MemberStats    []MemberStat `json:"member_stats"`
}

// FilmRating 单条评分，display_name 未设置时为 null
type FilmRating struct {
	Value       float64   `json:"value"`
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName *string   `json:"display_name"`
}

// FilmStat 一部影视的评分分布
type FilmStat struct {
	LogEntryID    uuid.UUID       `json:"log_entry_id"`
	TmdbID        string          `json:"tmdb_id"`
	TmdbType      model.MediaType `json:"tmdb_type"`
	Title         string          `json:"title"`
	PosterPath    *string         `json:"poster_path"`
	Ratings       []FilmRating    `json:"ratings"`
	RatingCount   int             `json:"rating_count"`
	AverageRating float64         `json:"average_rating"`
	StdDev        float64         `json:"std_dev"`
}

type AgreementStats struct {
	GreatDivide    []FilmStat `json:"great_divide"`
	PerfectHarmony []FilmStat `json:"perfect_harmony"`
}

// CalculateCriticStats 按作者汇总。成员按 user_id 升序，平分时取该顺序下的第一个
func CalculateCriticStats(entries []*model.LogEntry) CriticStats {
	type acc struct {
		total float64
		stat  MemberStat
	}
	byUser := make(map[uuid.UUID]*acc)
	for _, e := range entries {
		for _, r := range e.Ratings {
			if r.User == nil {
				continue
			}
			a, ok := byUser[r.UserID]
			if !ok {
				a = &acc{stat: MemberStat{
					UserID:      r.UserID,
					Username:    r.User.Username,
					DisplayName: r.User.DisplayName,
					AvatarURL:   r.User.AvatarURL,
				}}
				byUser[r.UserID] = a
			}
			a.total += r.Value
			a.stat.TotalRatings++
		}
	}

	members := make([]MemberStat, 0, len(byUser))
	for _, a := range byUser {
		a.stat.AverageRating = a.total / float64(a.stat.TotalRatings)
		members = append(members, a.stat)
	}
	sort.Slice(members, func(i, j int) bool {
		return bytes.Compare(members[i].UserID[:], members[j].UserID[:]) < 0
	})

	if len(members) == 0 {
		return CriticStats{MemberStats: members}
	}
	toughest, generous := 0, 0
	for i := range members {
		if members[i].AverageRating < members[toughest].AverageRating {
			toughest = i
		}
		if members[i].AverageRating > members[generous].AverageRating {
			generous = i
		}
	}
	t, g := members[toughest], members[generous]
	return CriticStats{ToughestCritic: &t, MostGenerous: &g, MemberStats: members}
}

// CalculateAgreementStats 只看至少两人评过的影视；元数据并发查询，失败时标题为 Untitled
func CalculateAgreementStats(ctx context.Context, entries []*model.LogEntry, lookup MetadataLookup) AgreementStats {
	var films []FilmStat
	for _, e := range entries {
		if len(e.Ratings) < 2 {
			continue
		}
		values := make([]float64, len(e.Ratings))
		ratings := make([]FilmRating, len(e.Ratings))
		for i, r := range e.Ratings {
			values[i] = r.Value
			ratings[i] = FilmRating{Value: r.Value, UserID: r.UserID}
			if r.User != nil {
				ratings[i].Username = r.User.Username
				ratings[i].DisplayName = r.User.DisplayName
			}
		}
		mean, sd := meanStdDev(values)
		films = append(films, FilmStat{
			LogEntryID:    e.ID,
			TmdbID:        e.TmdbID,
			TmdbType:      e.TmdbType,
			Title:         untitled,
			Ratings:       ratings,
			RatingCount:   len(values),
			AverageRating: mean,
			StdDev:        sd,
		})
	}

	if lookup != nil && len(films) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(lookupParallel)
		for i := range films {
			f := &films[i]
			g.Go(func() error {
				if d := lookup.GetMediaDetails(gctx, f.TmdbID, f.TmdbType); d != nil {
					f.Title = d.DisplayTitle()
					f.PosterPath = d.Poster()
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	divide := make([]FilmStat, len(films))
	copy(divide, films)
	sort.SliceStable(divide, func(i, j int) bool {
		return divide[i].StdDev > divide[j].StdDev
	})

	harmony := []FilmStat{}
	for _, f := range films {
		if f.StdDev == 0 && f.AverageRating >= 4 {
			harmony = append(harmony, f)
		}
	}
	return AgreementStats{GreatDivide: divide, PerfectHarmony: harmony}
}

// meanStdDev 均值与总体标准差（除以 N）；所有值相同时标准差恰为 0
func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	n := float64(len(values))
	sum, lo, hi := 0.0, values[0], values[0]
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / n
	if hi == lo {
		return mean, 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	sd := math.Sqrt(sq / n)
	if math.IsNaN(sd) {
		sd = 0
	}
	return mean, sd
}

// SpaceStats 空间统计页数据
type SpaceStats struct {
	Critics        CriticStats `json:"critics"`
	GreatDivide    []FilmStat  `json:"great_divide"`
	PerfectHarmony []FilmStat  `json:"perfect_harmony"`
}

type StatsService struct {
	repos  *repository.Repositories
	lookup MetadataLookup
	cache  *cache.Cache
}

func NewStatsService(repos *repository.Repositories, lookup MetadataLookup, ttl time.Duration) *StatsService {
	return &StatsService{
		repos:  repos,
		lookup: lookup,
		cache:  utils.NewExpiringCache(ttl),
	}
}

// SpaceStats 成员才能查看；结果按空间短暂缓存
func (s *StatsService) SpaceStats(ctx context.Context, userID, spaceID uuid.UUID) (*SpaceStats, error) {
	if userID == uuid.Nil {
		return nil, errNotAuthenticated()
	}
	if err := requireMember(ctx, s.repos, spaceID, userID); err != nil {
		return nil, err
	}

	key := spaceID.String()
	if v, ok := s.cache.Get(key); ok {
		metrics.StatsCacheTotal.WithLabelValues("hit").Inc()
		return v.(*SpaceStats), nil
	}
	metrics.StatsCacheTotal.WithLabelValues("miss").Inc()

	entries, err := s.repos.LogEntry.ListForStats(ctx, spaceID)
	if err != nil {
		return nil, storageFailure("StatsService", err)
	}

	agreement := CalculateAgreementStats(ctx, entries, s.lookup)
	divide := agreement.GreatDivide
	if len(divide) > greatDivideLimit {
		divide = divide[:greatDivideLimit]
	}
	stats := &SpaceStats{
		Critics:        CalculateCriticStats(entries),
		GreatDivide:    divide,
		PerfectHarmony: agreement.PerfectHarmony,
	}
	s.cache.SetDefault(key, stats)
	return stats, nil
}

// Invalidate 写入后清除空间缓存
func (s *StatsService) Invalidate(spaceID uuid.UUID) {
	s.cache.Delete(spaceID.String())
}

// requireMember 空间存在且 userID 是成员
func requireMember(ctx context.Context, repos *repository.Repositories, spaceID, userID uuid.UUID) error {
	space, err := repos.Space.FindByID(ctx, spaceID)
	if err != nil {
		return storageFailure("Space", err)
	}
	if space == nil {
		return errNotFound("space_not_found", "空间不存在")
	}
	m, err := repos.Space.FindMembership(ctx, spaceID, userID)
	if err != nil {
		return storageFailure("Space", err)
	}
	if m == nil {
		return errPermission("你不是该空间的成员")
	}
	return nil
}
