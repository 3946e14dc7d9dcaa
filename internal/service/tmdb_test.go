package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/flicklog/internal/config"
	"github.com/user/flicklog/internal/model"
)

func newTMDBServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/movie/603", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":603,"title":"The Matrix","poster_path":"/m.jpg","release_date":"1999-03-31","runtime":136}`))
	})
	mux.HandleFunc("/tv/1399", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"id":1399,"name":"Game of Thrones","poster_path":null,"first_air_date":"2011-04-17","number_of_seasons":8}`))
	})
	mux.HandleFunc("/movie/0", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/search/movie", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[
			{"id":1,"title":"M1","release_date":"2001-01-01"},
			{"id":2,"title":"M2","release_date":""},
			{"id":3,"title":"M3","release_date":"2003-01-01"},
			{"id":4,"title":"M4"},{"id":5,"title":"M5"},{"id":6,"title":"M6"},{"id":7,"title":"M7"}]}`))
	})
	mux.HandleFunc("/search/tv", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[
			{"id":11,"name":"T1","first_air_date":"2011-01-01"},
			{"id":12,"name":"T2"},{"id":13,"name":"T3"},{"id":14,"name":"T4"},{"id":15,"name":"T5"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestTMDB(baseURL string) *TMDBService {
	return NewTMDBService(config.TMDBConfig{
		BaseURL:   baseURL,
		Token:     "test-token",
		Timeout:   2 * time.Second,
		CacheSize: 16,
		CacheTTL:  time.Minute,
	})
}

func TestTMDBGetMediaDetails(t *testing.T) {
	ctx := context.Background()
	var hits atomic.Int32
	svc := newTestTMDB(newTMDBServer(t, &hits).URL)

	t.Run("movie is fetched once then cached", func(t *testing.T) {
		hits.Store(0)
		for i := 0; i < 3; i++ {
			d := svc.GetMediaDetails(ctx, "603", model.MediaTypeMovie)
			m, ok := d.(*MovieDetails)
			if !ok || m.Title != "The Matrix" || ReleaseYear(m) != "1999" {
				t.Fatalf("details = %#v", d)
			}
		}
		if hits.Load() != 1 {
			t.Fatalf("hits = %d, want 1", hits.Load())
		}
	})

	t.Run("tv details", func(t *testing.T) {
		d := svc.GetMediaDetails(ctx, "1399", model.MediaTypeTV)
		tv, ok := d.(*TVDetails)
		if !ok || tv.DisplayTitle() != "Game of Thrones" || tv.Poster() != nil || tv.NumberOfSeasons != 8 {
			t.Fatalf("details = %#v", d)
		}
	})

	t.Run("unknown id is nil", func(t *testing.T) {
		if d := svc.GetMediaDetails(ctx, "0", model.MediaTypeMovie); d != nil {
			t.Fatalf("details = %#v, want nil", d)
		}
	})

	t.Run("invalid input is nil without a request", func(t *testing.T) {
		hits.Store(0)
		if d := svc.GetMediaDetails(ctx, "603", model.MediaType("book")); d != nil {
			t.Fatalf("details = %#v", d)
		}
		if d := svc.GetMediaDetails(ctx, "", model.MediaTypeMovie); d != nil {
			t.Fatalf("details = %#v", d)
		}
		if hits.Load() != 0 {
			t.Fatalf("hits = %d", hits.Load())
		}
	})

	t.Run("concurrent callers share one request", func(t *testing.T) {
		var slowHits atomic.Int32
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slowHits.Add(1)
			<-release
			_, _ = w.Write([]byte(`{"id":27205,"title":"Inception","release_date":"2010-07-15"}`))
		}))
		defer srv.Close()
		slow := newTestTMDB(srv.URL)

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if d := slow.GetMediaDetails(ctx, "27205", model.MediaTypeMovie); d == nil {
					t.Errorf("nil details")
				}
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()
		if slowHits.Load() != 1 {
			t.Fatalf("hits = %d, want 1", slowHits.Load())
		}
	})

	t.Run("unreachable service is nil", func(t *testing.T) {
		down := newTestTMDB("http://127.0.0.1:1")
		if d := down.GetMediaDetails(ctx, "603", model.MediaTypeMovie); d != nil {
			t.Fatalf("details = %#v", d)
		}
	})
}

func TestTMDBSearch(t *testing.T) {
	ctx := context.Background()
	var hits atomic.Int32
	svc := newTestTMDB(newTMDBServer(t, &hits).URL)

	got := svc.Search(ctx, "  m  ")
	if len(got) != 10 {
		t.Fatalf("results = %d, want 10", len(got))
	}
	wantOrder := []string{"M1", "T1", "M2", "T2", "M3", "T3", "M4", "T4", "M5", "T5"}
	for i, w := range wantOrder {
		if got[i].Title != w {
			t.Fatalf("result %d = %s, want %s", i, got[i].Title, w)
		}
	}
	if got[0].ReleaseYear != "2001" || got[2].ReleaseYear != "N/A" || got[1].Type != model.MediaTypeTV {
		t.Fatalf("unexpected fields: %+v %+v %+v", got[0], got[1], got[2])
	}

	if empty := svc.Search(ctx, "   "); empty == nil || len(empty) != 0 {
		t.Fatalf("blank query = %#v", empty)
	}

	down := newTestTMDB("http://127.0.0.1:1")
	if res := down.Search(ctx, "matrix"); res == nil || len(res) != 0 {
		t.Fatalf("failed search = %#v", res)
	}
}
