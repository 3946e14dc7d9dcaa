package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/user/flicklog/internal/config"
	"github.com/user/flicklog/internal/logging"
	"github.com/user/flicklog/internal/metrics"
	"github.com/user/flicklog/internal/model"
	"github.com/user/flicklog/internal/utils"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	posterBaseURL = "https://image.tmdb.org/t/p/"
	breakerName   = "tmdb"
)

// MediaDetails 电影或剧集详情，只有 *MovieDetails 与 *TVDetails 两种实现
type MediaDetails interface {
	DisplayTitle() string
	Poster() *string
	Released() string
	MediaType() model.MediaType
	isMediaDetails()
}

// MovieDetails TMDB /movie/{id}
type MovieDetails struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	Overview    string  `json:"overview"`
	PosterPath  *string `json:"poster_path"`
	ReleaseDate string  `json:"release_date"`
	Runtime     int     `json:"runtime"`
}

func (m *MovieDetails) DisplayTitle() string       { return m.Title }
func (m *MovieDetails) Poster() *string            { return m.PosterPath }
func (m *MovieDetails) Released() string           { return m.ReleaseDate }
func (m *MovieDetails) MediaType() model.MediaType { return model.MediaTypeMovie }
func (*MovieDetails) isMediaDetails()              {}

// TVDetails TMDB /tv/{id}
type TVDetails struct {
	ID              int     `json:"id"`
	Name            string  `json:"name"`
	Overview        string  `json:"overview"`
	PosterPath      *string `json:"poster_path"`
	FirstAirDate    string  `json:"first_air_date"`
	NumberOfSeasons int     `json:"number_of_seasons"`
}

func (t *TVDetails) DisplayTitle() string       { return t.Name }
func (t *TVDetails) Poster() *string            { return t.PosterPath }
func (t *TVDetails) Released() string           { return t.FirstAirDate }
func (t *TVDetails) MediaType() model.MediaType { return model.MediaTypeTV }
func (*TVDetails) isMediaDetails()              {}

// ReleaseYear 上映/首播年份，未知返回空串
func ReleaseYear(d MediaDetails) string {
	if d == nil {
		return ""
	}
	if r := d.Released(); len(r) >= 4 {
		return r[:4]
	}
	return ""
}

// PosterURL 拼接海报完整地址
func PosterURL(path *string, size string) string {
	if path == nil || *path == "" {
		return ""
	}
	return posterBaseURL + size + *path
}

// MetadataLookup 元数据查询，任何失败都返回 nil
type MetadataLookup interface {
	GetMediaDetails(ctx context.Context, mediaID string, mediaType model.MediaType) MediaDetails
}

// SearchResult 统一的搜索结果
type SearchResult struct {
	ID          int             `json:"id"`
	Type        model.MediaType `json:"type"`
	Title       string          `json:"title"`
	PosterPath  *string         `json:"poster_path"`
	ReleaseYear string          `json:"release_year"`
}

type TMDBService struct {
	client  *utils.HTTPClient
	baseURL string
	token   string
	timeout time.Duration
	cache   *utils.TTLCache[MediaDetails]
	group   singleflight.Group
	breaker *gobreaker.CircuitBreaker[MediaDetails]
}

func NewTMDBService(cfg config.TMDBConfig) *TMDBService {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	breaker := gobreaker.NewCircuitBreaker[MediaDetails](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("from", from.String()).Str("to", to.String()).Msg("[TMDB] 熔断器状态变化")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &TMDBService{
		client:  utils.NewHTTPClient(cfg.Timeout),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		timeout: cfg.Timeout,
		cache:   utils.NewTTLCache[MediaDetails](cfg.CacheSize, cfg.CacheTTL),
		breaker: breaker,
	}
}

// GetMediaDetails 查询详情：先查缓存，同一 key 并发只请求一次
func (s *TMDBService) GetMediaDetails(ctx context.Context, mediaID string, mediaType model.MediaType) MediaDetails {
	if mediaID == "" || (mediaType != model.MediaTypeMovie && mediaType != model.MediaTypeTV) {
		return nil
	}
	key := string(mediaType) + ":" + mediaID
	if d, ok := s.cache.Get(key); ok {
		metrics.MetadataLookupTotal.WithLabelValues("hit").Inc()
		return d
	}

	// 请求与调用方的取消解耦，避免一个调用方取消拖累同 key 的其他调用方
	val, err, _ := s.group.Do(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.breaker.Execute(func() (MediaDetails, error) {
			return s.fetchDetails(fctx, mediaID, mediaType)
		})
	})
	if err != nil {
		result := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "rejected"
		}
		metrics.MetadataLookupTotal.WithLabelValues(result).Inc()
		logging.Warn().Err(err).Str("media_id", mediaID).Str("media_type", string(mediaType)).Msg("[TMDB] 获取详情失败")
		return nil
	}
	details, _ := val.(MediaDetails)
	if details == nil {
		metrics.MetadataLookupTotal.WithLabelValues("not_found").Inc()
		return nil
	}
	metrics.MetadataLookupTotal.WithLabelValues("miss").Inc()
	s.cache.Set(key, details)
	return details
}

func (s *TMDBService) fetchDetails(ctx context.Context, mediaID string, mediaType model.MediaType) (MediaDetails, error) {
	endpoint := fmt.Sprintf("%s/%s/%s?language=en-US", s.baseURL, mediaType, url.PathEscape(mediaID))
	var err error
	switch mediaType {
	case model.MediaTypeMovie:
		var m MovieDetails
		if err = s.client.GetJSON(ctx, endpoint, s.headers(), &m); err == nil {
			return &m, nil
		}
	default:
		var t TVDetails
		if err = s.client.GetJSON(ctx, endpoint, s.headers(), &t); err == nil {
			return &t, nil
		}
	}
	// 404 说明服务正常，只是没有这部影视，不计入熔断
	var se *utils.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	return nil, err
}

// Search 电影与剧集交替合并，最多 10 条；出错返回空列表
func (s *TMDBService) Search(ctx context.Context, query string) []SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}
	}
	if s.breaker.State() == gobreaker.StateOpen {
		return []SearchResult{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var movies struct {
		Results []struct {
			ID          int     `json:"id"`
			Title       string  `json:"title"`
			PosterPath  *string `json:"poster_path"`
			ReleaseDate string  `json:"release_date"`
		} `json:"results"`
	}
	var shows struct {
		Results []struct {
			ID           int     `json:"id"`
			Name         string  `json:"name"`
			PosterPath   *string `json:"poster_path"`
			FirstAirDate string  `json:"first_air_date"`
		} `json:"results"`
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("include_adult", "false")
	q.Set("language", "en-US")
	q.Set("page", "1")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.client.GetJSON(gctx, s.baseURL+"/search/movie?"+q.Encode(), s.headers(), &movies)
	})
	g.Go(func() error {
		return s.client.GetJSON(gctx, s.baseURL+"/search/tv?"+q.Encode(), s.headers(), &shows)
	})
	if err := g.Wait(); err != nil {
		logging.Warn().Err(err).Str("query", query).Msg("[TMDB] 搜索失败")
		return []SearchResult{}
	}

	results := make([]SearchResult, 0, 10)
	for i := 0; i < len(movies.Results) || i < len(shows.Results); i++ {
		if i < len(movies.Results) {
			m := movies.Results[i]
			results = append(results, SearchResult{
				ID: m.ID, Type: model.MediaTypeMovie, Title: m.Title,
				PosterPath: m.PosterPath, ReleaseYear: yearOrNA(m.ReleaseDate),
			})
		}
		if i < len(shows.Results) {
			t := shows.Results[i]
			results = append(results, SearchResult{
				ID: t.ID, Type: model.MediaTypeTV, Title: t.Name,
				PosterPath: t.PosterPath, ReleaseYear: yearOrNA(t.FirstAirDate),
			})
		}
	}
	if len(results) > 10 {
		results = results[:10]
	}
	return results
}

func (s *TMDBService) headers() map[string]string {
	if s.token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + s.token}
}

func yearOrNA(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return "N/A"
}
