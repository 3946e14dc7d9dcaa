package handler_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/user/flicklog/internal/config"
	"github.com/user/flicklog/internal/handler"
	"github.com/user/flicklog/internal/middleware"
	"github.com/user/flicklog/internal/realtime"
	"github.com/user/flicklog/internal/router"
	"github.com/user/flicklog/internal/service"
	"github.com/user/flicklog/internal/testutil"
	"github.com/user/flicklog/internal/utils"
)

const jwtSecret = "handler-test-jwt-secret"

type apiResponse struct {
	Code        int                 `json:"code"`
	Message     string              `json:"message"`
	Data        json.RawMessage     `json:"data"`
	Success     bool                `json:"success"`
	FieldErrors map[string][]string `json:"field_errors"`
}

type testServer struct {
	t      *testing.T
	engine *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Env:       "test",
		AppSecret: "handler-test-app-secret-0123456789",
		JWTSecret: jwtSecret,
		SiteName:  "Flicklog",
	}
	repos := testutil.NewRepos(t)
	secrets, err := utils.NewSecretBox(cfg.AppSecret, "flicklog-webhook")
	if err != nil {
		t.Fatalf("secret box: %v", err)
	}

	// 元数据服务不可达，所有查询降级为空
	tmdb := service.NewTMDBService(config.TMDBConfig{
		BaseURL:   "http://127.0.0.1:1",
		Timeout:   200 * time.Millisecond,
		CacheSize: 8,
		CacheTTL:  time.Minute,
	})
	stats := service.NewStatsService(repos, tmdb, time.Minute)
	profiles := service.NewProfileService(repos, stats)
	services := handler.Services{
		Log:     service.NewLogService(repos, nil, secrets, stats),
		Stats:   stats,
		Rewind:  service.NewRewindService(repos, tmdb),
		Space:   service.NewSpaceService(repos, secrets),
		Profile: profiles,
		Library: service.NewLibraryService(repos, tmdb, tmdb),
	}
	h := handler.NewHandler(cfg, services, realtime.NewHub())
	return &testServer{t: t, engine: router.NewEngine(h, profiles)}
}

func token(t *testing.T, userID uuid.UUID, email string) string {
	t.Helper()
	tok, err := middleware.GenerateToken(userID, email, jwtSecret, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

// do 发送请求；cookies 非空时一并带上，返回响应中的新 cookie
func (s *testServer) do(method, path, tok string, body interface{}, cookies ...*http.Cookie) (int, apiResponse, []*http.Cookie) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w.Code, resp, w.Result().Cookies()
}

func decode(t *testing.T, raw json.RawMessage, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, target); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"status":"ok"`)) {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/api/me", "/api/spaces", "/api/pending", "/api/rewind"} {
		if code, _, _ := s.do(http.MethodGet, path, "", nil); code != http.StatusUnauthorized {
			t.Fatalf("%s = %d, want 401", path, code)
		}
	}
}

func TestSharedSpaceFlow(t *testing.T) {
	s := newTestServer(t)
	aliceID, bobID, carolID := uuid.New(), uuid.New(), uuid.New()
	alice := token(t, aliceID, "alice@example.com")
	bob := token(t, bobID, "bob@example.com")
	carol := token(t, carolID, "carol@example.com")

	t.Run("first request provisions the profile", func(t *testing.T) {
		for _, tok := range []string{alice, bob, carol} {
			code, resp, _ := s.do(http.MethodGet, "/api/me", tok, nil)
			if code != http.StatusOK {
				t.Fatalf("me = %d %s", code, resp.Message)
			}
		}
		_, resp, _ := s.do(http.MethodGet, "/api/me", alice, nil)
		var me struct {
			Email   string `json:"email"`
			Profile struct {
				Username string `json:"username"`
			} `json:"profile"`
			ActiveSpace *uuid.UUID `json:"active_space"`
		}
		decode(t, resp.Data, &me)
		if me.Email != "alice@example.com" || me.Profile.Username != "alice" || me.ActiveSpace != nil {
			t.Fatalf("me = %+v", me)
		}
	})

	var spaceID uuid.UUID
	t.Run("create space and invite", func(t *testing.T) {
		code, resp, _ := s.do(http.MethodPost, "/api/spaces", alice, map[string]string{"name": "Movie Night"})
		if code != http.StatusCreated {
			t.Fatalf("create = %d %s", code, resp.Message)
		}
		var space struct {
			ID uuid.UUID `json:"id"`
		}
		decode(t, resp.Data, &space)
		spaceID = space.ID

		if code, resp, _ := s.do(http.MethodPost, "/api/spaces", alice, map[string]string{"name": "ab"}); code != http.StatusUnprocessableEntity || len(resp.FieldErrors["name"]) == 0 {
			t.Fatalf("short name = %d %+v", code, resp.FieldErrors)
		}

		path := "/api/spaces/" + spaceID.String() + "/members"
		if code, _, _ := s.do(http.MethodPost, path, alice, map[string]string{"username": "bob"}); code != http.StatusCreated {
			t.Fatalf("invite = %d", code)
		}
		if code, _, _ := s.do(http.MethodPost, path, alice, map[string]string{"username": "bob"}); code != http.StatusConflict {
			t.Fatalf("reinvite = %d, want 409", code)
		}
		if code, _, _ := s.do(http.MethodPost, path, bob, map[string]string{"username": "carol"}); code != http.StatusForbidden {
			t.Fatalf("member invite = %d, want 403", code)
		}
		if code, _, _ := s.do(http.MethodPost, path, alice, map[string]string{"username": "nobody"}); code != http.StatusNotFound {
			t.Fatalf("unknown user = %d, want 404", code)
		}
	})

	t.Run("logging creates pending ratings", func(t *testing.T) {
		path := "/api/spaces/" + spaceID.String() + "/entries"
		body := map[string]interface{}{
			"media_id":   "603",
			"media_type": "movie",
			"rating":     4.5,
			"watched_on": "2026-10-18",
			"quick_take": "still holds up",
		}
		code, resp, _ := s.do(http.MethodPost, path, alice, body)
		if code != http.StatusCreated {
			t.Fatalf("log = %d %s", code, resp.Message)
		}
		var result struct {
			Entry struct {
				ID uuid.UUID `json:"id"`
			} `json:"entry"`
			PendingCreated int64 `json:"pending_created"`
		}
		decode(t, resp.Data, &result)
		if result.PendingCreated != 1 {
			t.Fatalf("pending created = %d", result.PendingCreated)
		}

		if code, _, _ := s.do(http.MethodPost, path, carol, body); code != http.StatusForbidden {
			t.Fatalf("outsider log = %d, want 403", code)
		}

		bad := map[string]interface{}{"media_id": "603", "media_type": "book", "rating": 4.2, "watched_on": "2026-10-18"}
		code, resp, _ = s.do(http.MethodPost, path, alice, bad)
		if code != http.StatusUnprocessableEntity || len(resp.FieldErrors["media_type"]) == 0 || len(resp.FieldErrors["rating"]) == 0 {
			t.Fatalf("invalid log = %d %+v", code, resp.FieldErrors)
		}

		_, resp, _ = s.do(http.MethodGet, "/api/pending", bob, nil)
		var pending []struct {
			LogEntryID uuid.UUID `json:"log_entry_id"`
		}
		decode(t, resp.Data, &pending)
		if len(pending) != 1 || pending[0].LogEntryID != result.Entry.ID {
			t.Fatalf("pending = %+v", pending)
		}

		done := "/api/pending/" + result.Entry.ID.String()
		rating := map[string]interface{}{"rating": 3, "watched_on": "2026-10-19"}
		if code, resp, _ := s.do(http.MethodPost, done, bob, rating); code != http.StatusCreated {
			t.Fatalf("complete = %d %s", code, resp.Message)
		}
		if code, _, _ := s.do(http.MethodPost, done, bob, rating); code != http.StatusConflict {
			t.Fatalf("complete twice = %d, want 409", code)
		}
	})

	t.Run("entries and stats", func(t *testing.T) {
		code, resp, _ := s.do(http.MethodGet, "/api/spaces/"+spaceID.String()+"/entries?limit=5", bob, nil)
		if code != http.StatusOK {
			t.Fatalf("entries = %d", code)
		}
		var page struct {
			Total int64 `json:"total"`
		}
		decode(t, resp.Data, &page)
		if page.Total != 1 {
			t.Fatalf("total = %d", page.Total)
		}

		if code, _, _ := s.do(http.MethodGet, "/api/spaces/"+spaceID.String()+"/stats", bob, nil); code != http.StatusOK {
			t.Fatalf("stats = %d", code)
		}
		if code, _, _ := s.do(http.MethodGet, "/api/spaces/"+spaceID.String()+"/stats", carol, nil); code != http.StatusForbidden {
			t.Fatalf("outsider stats = %d, want 403", code)
		}
		if code, _, _ := s.do(http.MethodGet, "/api/spaces/not-a-uuid/stats", bob, nil); code != http.StatusNotFound {
			t.Fatalf("bad id = %d, want 404", code)
		}
	})

	t.Run("active space lives in the session", func(t *testing.T) {
		if code, _, _ := s.do(http.MethodPut, "/api/session/space", carol, map[string]string{"space_id": spaceID.String()}); code != http.StatusForbidden {
			t.Fatalf("outsider switch = %d, want 403", code)
		}
		if code, resp, _ := s.do(http.MethodPut, "/api/session/space", bob, map[string]string{"space_id": "nope"}); code != http.StatusUnprocessableEntity || len(resp.FieldErrors["space_id"]) == 0 {
			t.Fatalf("bad switch = %d", code)
		}

		code, _, cookies := s.do(http.MethodPut, "/api/session/space", bob, map[string]string{"space_id": spaceID.String()})
		if code != http.StatusOK || len(cookies) == 0 {
			t.Fatalf("switch = %d cookies=%d", code, len(cookies))
		}

		body := map[string]interface{}{"media_id": "1399", "media_type": "tv", "rating": 5, "watched_on": "2026-10-19"}
		code, resp, _ := s.do(http.MethodPost, "/api/entries", bob, body, cookies...)
		if code != http.StatusCreated {
			t.Fatalf("log in active space = %d %s", code, resp.Message)
		}
		var result struct {
			Entry struct {
				SpaceID uuid.UUID `json:"space_id"`
			} `json:"entry"`
		}
		decode(t, resp.Data, &result)
		if result.Entry.SpaceID != spaceID {
			t.Fatalf("logged into %s, want %s", result.Entry.SpaceID, spaceID)
		}

		// 无会话时写入个人空间
		code, resp, _ = s.do(http.MethodPost, "/api/entries", bob, body)
		if code != http.StatusCreated {
			t.Fatalf("log personal = %d %s", code, resp.Message)
		}
		decode(t, resp.Data, &result)
		if result.Entry.SpaceID == spaceID {
			t.Fatalf("expected personal space")
		}
	})

	t.Run("remove member", func(t *testing.T) {
		path := "/api/spaces/" + spaceID.String() + "/members/" + bobID.String()
		if code, _, _ := s.do(http.MethodDelete, path, bob, nil); code != http.StatusConflict {
			t.Fatalf("remove self = %d, want 409", code)
		}
		ownerPath := "/api/spaces/" + spaceID.String() + "/members/" + aliceID.String()
		if code, _, _ := s.do(http.MethodDelete, ownerPath, bob, nil); code != http.StatusForbidden {
			t.Fatalf("member remove = %d, want 403", code)
		}
		if code, _, _ := s.do(http.MethodDelete, path, alice, nil); code != http.StatusOK {
			t.Fatalf("remove = %d", code)
		}
		if code, _, _ := s.do(http.MethodGet, "/api/spaces/"+spaceID.String(), bob, nil); code != http.StatusForbidden {
			t.Fatalf("removed member detail = %d, want 403", code)
		}
	})
}

func TestOnboardingAndProfile(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, uuid.New(), "dana@example.com")

	pick := func(id, typ string, r float64) map[string]interface{} {
		return map[string]interface{}{"media_id": id, "media_type": typ, "rating": r}
	}
	body := map[string]interface{}{
		"loved":    pick("603", "movie", 5),
		"okay":     pick("1399", "tv", 3),
		"disliked": pick("9999", "movie", 1),
	}
	if code, resp, _ := s.do(http.MethodPost, "/api/onboarding", tok, body); code != http.StatusOK {
		t.Fatalf("onboarding = %d %s %v", code, resp.Message, resp.FieldErrors)
	}
	if code, _, _ := s.do(http.MethodPost, "/api/onboarding", tok, body); code != http.StatusConflict {
		t.Fatalf("second onboarding = %d, want 409", code)
	}

	code, resp, _ := s.do(http.MethodPut, "/api/me/profile", tok, map[string]string{"username": "Dana_Films", "display_name": "Dana"})
	if code != http.StatusOK {
		t.Fatalf("update = %d %v", code, resp.FieldErrors)
	}
	var p struct {
		Username               string `json:"username"`
		HasCompletedOnboarding bool   `json:"has_completed_onboarding"`
	}
	decode(t, resp.Data, &p)
	if p.Username != "dana_films" || !p.HasCompletedOnboarding {
		t.Fatalf("profile = %+v", p)
	}

	if code, _, _ := s.do(http.MethodPut, "/api/me/profile", tok, "not an object"); code != http.StatusBadRequest {
		t.Fatalf("malformed body = %d, want 400", code)
	}
}

func TestSearchAndRewind(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, uuid.New(), "erin@example.com")

	if code, _, _ := s.do(http.MethodGet, "/api/search?q=", tok, nil); code != http.StatusBadRequest {
		t.Fatalf("empty search = %d, want 400", code)
	}
	code, resp, _ := s.do(http.MethodGet, "/api/search?q=matrix", tok, nil)
	if code != http.StatusOK || string(resp.Data) != "[]" {
		t.Fatalf("search = %d %s", code, resp.Data)
	}
	code, resp, _ = s.do(http.MethodGet, "/api/rewind", tok, nil)
	if code != http.StatusOK || string(resp.Data) != "[]" {
		t.Fatalf("rewind = %d %s", code, resp.Data)
	}
}
