package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/openstack"
	"github.com/MRC-CLIMB/bryn/internal/repository"
	"github.com/MRC-CLIMB/bryn/internal/service/admin"
	"github.com/MRC-CLIMB/bryn/internal/service/auth"
	"github.com/MRC-CLIMB/bryn/internal/service/stats"
	"github.com/MRC-CLIMB/bryn/internal/service/team"
	"github.com/MRC-CLIMB/bryn/internal/service/user"
	"github.com/MRC-CLIMB/bryn/internal/ws"
	"github.com/MRC-CLIMB/bryn/pkg/config"
	"github.com/MRC-CLIMB/bryn/pkg/crypto"
)

const testPassword = "correct horse battery"

type userRepoStub struct {
	repository.UserRepository
	users map[int64]*domain.User
}

func (s *userRepoStub) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	if u, ok := s.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (s *userRepoStub) GetUserByLogin(_ context.Context, login string) (*domain.User, error) {
	for _, u := range s.users {
		if u.Username == login || u.Email == login {
			clone := *u
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *userRepoStub) TouchLastLogin(context.Context, int64, time.Time) error { return nil }

type teamRepoStub struct {
	repository.TeamRepository
	members map[int64]domain.TeamMember
}

func (s *teamRepoStub) GetMember(_ context.Context, teamID, userID int64) (*domain.TeamMember, error) {
	m, ok := s.members[teamID]
	if !ok || m.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return &m, nil
}

func (s *teamRepoStub) GetTeamByID(_ context.Context, teamID int64) (*domain.Team, error) {
	return &domain.Team{ID: teamID, Name: "Pathogen Lab"}, nil
}

func (s *teamRepoStub) ListTeamsByUser(context.Context, int64) ([]domain.Team, error) {
	return []domain.Team{{ID: 1, Name: "Pathogen Lab"}}, nil
}

type statsRepoStub struct {
	repository.HypervisorStatsRepository
}

func (statsRepoStub) ListHypervisorStats(context.Context) ([]domain.HypervisorStats, error) {
	return []domain.HypervisorStats{{RegionID: 1, RegionName: "bham", HypervisorCount: 4}}, nil
}

type testEnv struct {
	router *Router
	hub    *ws.Hub
	auth   auth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	hash, err := crypto.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	users := &userRepoStub{users: map[int64]*domain.User{
		1: {ID: 1, Username: "ada", Email: "ada@example.ac.uk", PasswordHash: hash, IsActive: true},
		2: {ID: 2, Username: "grace", Email: "grace@example.ac.uk", PasswordHash: hash, IsActive: true, IsStaff: true},
	}}
	teams := &teamRepoStub{members: map[int64]domain.TeamMember{
		1: {ID: 10, TeamID: 1, UserID: 1, IsAdmin: true},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.APIConfig{JWTSecret: "test-secret", SessionTTL: time.Hour}
	hub := ws.NewHub()
	t.Cleanup(hub.Close)

	authSvc := auth.New(users, nil, logger, cfg)
	r := NewRouter(Deps{
		Logger:     logger,
		Auth:       authSvc,
		Users:      user.New(users, nil, logger, cfg),
		Teams:      team.New(teams, logger, "GB"),
		Stats:      stats.New(statsRepoStub{}, nil, nil, hub, logger),
		Admin:      admin.New(admin.Deps{Users: users, Teams: teams, Logger: logger}),
		Hub:        hub,
		Web:        http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "web page") }),
		Cookie:     CookieConfig{Name: "bryn_session"},
		Registerer: prometheus.NewRegistry(),
		DBHealth:   func(context.Context) error { return nil },
	})
	t.Cleanup(r.Close)
	return &testEnv{router: r, hub: hub, auth: authSvc}
}

func (e *testEnv) token(t *testing.T, login string) string {
	t.Helper()
	_, session, err := e.auth.Login(context.Background(), login, testPassword)
	if err != nil {
		t.Fatalf("login %s: %v", login, err)
	}
	return session.Token
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthzReportsDatabase(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	env.router.dbHealth = func(context.Context) error { return errors.New("connection refused") }
	rec = env.do(http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "degraded" {
		t.Fatalf("unexpected status %v", payload["status"])
	}
}

func TestAPIRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(http.MethodGet, "/api/teams", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/teams", "not-a-token", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
}

func TestLoginSetsSessionCookie(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/auth/login", "", `{"username":"ada","password":"`+testPassword+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "bryn_session" || !cookies[0].HttpOnly {
		t.Fatalf("unexpected cookies %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.AddCookie(cookies[0])
	userRec := httptest.NewRecorder()
	env.router.ServeHTTP(userRec, req)
	if userRec.Code != http.StatusOK {
		t.Fatalf("expected cookie session to authorize, got %d", userRec.Code)
	}
	var u domain.User
	if err := json.Unmarshal(userRec.Body.Bytes(), &u); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if u.Username != "ada" {
		t.Fatalf("unexpected user %+v", u)
	}
	if strings.Contains(userRec.Body.String(), "password") {
		t.Fatalf("password hash leaked: %s", userRec.Body.String())
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/auth/login", "", `{"username":"ada","password":"nope"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("no cookie expected on failed login")
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/auth/logout", "", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expired cookie, got %+v", cookies)
	}
}

func TestTeamAccessIsScopedToMembers(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "ada")

	if rec := env.do(http.MethodGet, "/api/teams/1", token, ""); rec.Code != http.StatusOK {
		t.Fatalf("member should see team, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/teams/2", token, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("non-member should get 404, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/teams/abc", token, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("malformed id should get 404, got %d", rec.Code)
	}
}

func TestAdminRoutesRequireStaff(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/admin/teams/verify", env.token(t, "ada"), `{"team_ids":[1]}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestLoginIsRateLimitedPerIP(t *testing.T) {
	env := newTestEnv(t)
	var rec *httptest.ResponseRecorder
	for i := 0; i <= rateLimitLogin; i++ {
		rec = env.do(http.MethodPost, "/api/auth/login", "", `{"username":"ada","password":"nope"}`)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected remaining %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestLoginLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	env := newTestEnv(t)
	var rec *httptest.ResponseRecorder
	for i := 0; i <= rateLimitLogin; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"ada","password":"nope"}`))
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		rec = httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 with rotating X-Forwarded-For, got %d", rec.Code)
	}
}

func TestClientIPTrustsOnlyConfiguredProxies(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}
	r := &Router{proxies: proxies}
	cases := []struct {
		name      string
		remote    string
		forwarded string
		want      string
	}{
		{"direct client", "198.51.100.7:5000", "203.0.113.9", "198.51.100.7"},
		{"trusted proxy", "192.0.2.1:443", "203.0.113.9", "203.0.113.9"},
		{"spoofed left hop", "192.0.2.1:443", "1.2.3.4, 203.0.113.9", "203.0.113.9"},
		{"proxy chain", "10.1.2.3:443", "203.0.113.9, 10.4.5.6", "203.0.113.9"},
		{"no header", "10.1.2.3:443", "", "10.1.2.3"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		if tc.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tc.forwarded)
		}
		if got := r.clientIP(req); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
	if _, err := ParseTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatalf("expected invalid proxy to be rejected")
	}
}

func TestUnmatchedPathsFallBackToWeb(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/register", "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "web page" {
		t.Fatalf("expected web handler, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestHypervisorStatsList(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/hypervisor-stats", env.token(t, "ada"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var items []domain.HypervisorStats
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].RegionName != "bham" {
		t.Fatalf("unexpected stats %+v", items)
	}
}

func TestHypervisorStatsStream(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "ada")
	env.hub.Broadcast(ws.TopicHypervisorStats, []byte(`[{"region":"bham"}]`))

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/hypervisor-stats/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
		if data != "" {
			break
		}
	}
	if event != ws.TopicHypervisorStats || data != `[{"region":"bham"}]` {
		t.Fatalf("unexpected frame event=%q data=%q", event, data)
	}
}

func TestMapDomainError(t *testing.T) {
	verr := domain.NewValidationError()
	verr.Add("name", "required")
	cases := []struct {
		err  error
		want int
	}{
		{verr.Err(), http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", openstack.ErrVolumeNotAvailable), http.StatusMethodNotAllowed},
		{openstack.ErrNotFound, http.StatusNotFound},
		{openstack.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{openstack.ErrProvider, http.StatusInternalServerError},
		{domain.NewError(domain.ErrUnauthorized, "no"), http.StatusUnauthorized},
		{domain.NewError(domain.ErrForbidden, "no"), http.StatusForbidden},
		{domain.NewError(domain.ErrNotFound, "no"), http.StatusNotFound},
		{repository.ErrNotFound, http.StatusNotFound},
		{domain.NewError(domain.ErrNotAllowed, "no"), http.StatusMethodNotAllowed},
		{domain.NewError(domain.ErrInvalidInput, "no"), http.StatusBadRequest},
		{repository.ErrConflict, http.StatusConflict},
		{repository.ErrInUse, http.StatusConflict},
		{team.ErrMemberHoldsLeases, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := mapDomainError(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
	if _, msg := mapDomainError(errors.New("pq: secret detail")); msg != "internal server error" {
		t.Fatalf("internal details leaked: %q", msg)
	}
}
