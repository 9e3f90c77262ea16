package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
	"github.com/bigkaa/memberhub/access-module/internal/gate"
	"github.com/bigkaa/memberhub/access-module/internal/service"
	"github.com/bigkaa/memberhub/access-module/internal/session"
	"github.com/bigkaa/memberhub/access-module/internal/ui/auth"
	"github.com/bigkaa/memberhub/access-module/internal/ui/i18n"
	uimiddleware "github.com/bigkaa/memberhub/access-module/internal/ui/middleware"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mapSource map[string][]string

func (m mapSource) ListUserRoles(_ context.Context, userID string) ([]model.UserRole, error) {
	roles, ok := m[userID]
	if !ok {
		return nil, service.ErrUserUnknown
	}
	recs := make([]model.UserRole, 0, len(roles))
	for _, r := range roles {
		recs = append(recs, model.UserRole{UserID: userID, Role: r})
	}
	return recs, nil
}

func newTestRegistry(t *testing.T) *session.Registry {
	t.Helper()
	r := session.NewRegistry(context.Background(), session.RegistryConfig{Size: 10, IdleTTL: time.Minute}, session.Deps{
		Source: mapSource{
			"u-admin":     {"admin"},
			"u-collector": {"collector"},
			"u-member":    {"member"},
		},
		SyncConfig:   service.RoleSyncConfig{Attempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		PollInterval: time.Hour,
		Logger:       testLogger(),
	})
	t.Cleanup(r.Shutdown)
	return r
}

// openSession открывает сессию и дожидается загрузки ролей.
func openSession(t *testing.T, r *session.Registry, userID string) *session.Session {
	t.Helper()
	s := r.Open(model.Member{ID: userID, Username: userID}, "/")
	s.Gate.Wait()
	return s
}

func withSession(req *http.Request, s *session.Session) *http.Request {
	ctx := context.WithValue(req.Context(), uimiddleware.ContextKeyServerSession, s)
	ctx = context.WithValue(ctx, uimiddleware.ContextKeyUISession, &auth.SessionData{
		SessionID: s.ID,
		UserID:    s.Member().ID,
		Username:  s.Member().Username,
	})
	return req.WithContext(ctx)
}

func TestEventsHandler_State(t *testing.T) {
	reg := newTestRegistry(t)
	s := openSession(t, reg, "u-collector")
	h := NewEventsHandler(time.Second, testLogger())

	rec := httptest.NewRecorder()
	h.HandleState(rec, withSession(httptest.NewRequest(http.MethodGet, "/session/state", nil), s))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	var resp struct {
		State       string   `json:"state"`
		Roles       []string `json:"roles"`
		PrimaryRole string   `json:"primary_role"`
		Tabs        []string `json:"tabs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != "authorized" {
		t.Errorf("state = %q, ожидается authorized", resp.State)
	}
	if resp.PrimaryRole != "collector" || len(resp.Roles) != 1 {
		t.Errorf("роли = %v / %q", resp.Roles, resp.PrimaryRole)
	}
	if strings.Join(resp.Tabs, ",") != "dashboard,users,financials" {
		t.Errorf("tabs = %v", resp.Tabs)
	}
}

func TestEventsHandler_NoSession(t *testing.T) {
	h := NewEventsHandler(time.Second, testLogger())
	handlers := map[string]http.HandlerFunc{
		"state":   h.HandleState,
		"tab":     h.HandleTab,
		"refresh": h.HandleRefresh,
		"events":  h.HandleEvents,
	}
	for name, fn := range handlers {
		rec := httptest.NewRecorder()
		fn(rec, httptest.NewRequest(http.MethodGet, "/session/"+name, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: статус = %d, ожидается 401", name, rec.Code)
		}
	}
}

func TestEventsHandler_Tab(t *testing.T) {
	reg := newTestRegistry(t)
	s := openSession(t, reg, "u-collector")
	h := NewEventsHandler(time.Second, testLogger())

	tests := []struct {
		tab     string
		outcome gate.Outcome
		path    string
	}{
		{"users", gate.OutcomeAllow, "/users"},
		{"system", gate.OutcomeStay, ""},
		{"dashboard", gate.OutcomeAllow, "/"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/session/tab?tab="+tt.tab, nil)
		rec := httptest.NewRecorder()
		h.HandleTab(rec, withSession(req, s))

		var d gate.Decision
		if err := json.NewDecoder(rec.Body).Decode(&d); err != nil {
			t.Fatal(err)
		}
		if d.Outcome != tt.outcome || d.Path != tt.path {
			t.Errorf("tab=%s: решение = %+v, хотели %s %q", tt.tab, d, tt.outcome, tt.path)
		}
	}

	// Отказ оставляет уведомление access_denied
	var denied bool
	for _, n := range s.Effects.Drain() {
		if n.Key == model.NotifyAccessDenied {
			denied = true
		}
	}
	if !denied {
		t.Error("ожидается уведомление access_denied после отказа")
	}
}

func TestEventsHandler_TabRequired(t *testing.T) {
	reg := newTestRegistry(t)
	s := openSession(t, reg, "u-member")
	h := NewEventsHandler(time.Second, testLogger())

	rec := httptest.NewRecorder()
	h.HandleTab(rec, withSession(httptest.NewRequest(http.MethodPost, "/session/tab", nil), s))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("статус = %d, ожидается 400", rec.Code)
	}
}

func TestEventsHandler_Refresh(t *testing.T) {
	reg := newTestRegistry(t)
	s := openSession(t, reg, "u-admin")
	h := NewEventsHandler(time.Second, testLogger())

	rec := httptest.NewRecorder()
	h.HandleRefresh(rec, withSession(httptest.NewRequest(http.MethodPost, "/session/refresh", nil), s))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	var resp refreshResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Roles) != 1 || resp.Roles[0] != "admin" {
		t.Errorf("роли = %v, ожидается [admin]", resp.Roles)
	}
}

func TestEventsHandler_RefreshUnknownUser(t *testing.T) {
	reg := newTestRegistry(t)
	s := openSession(t, reg, "u-ghost")
	h := NewEventsHandler(time.Second, testLogger())

	rec := httptest.NewRecorder()
	h.HandleRefresh(rec, withSession(httptest.NewRequest(http.MethodPost, "/session/refresh", nil), s))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("статус = %d, ожидается 503", rec.Code)
	}
}

// SSE-поток доставляет уведомление об отказе в доступе.
func TestEventsHandler_EventsStream(t *testing.T) {
	reg := newTestRegistry(t)
	s := openSession(t, reg, "u-member")
	s.Effects.Drain()
	h := NewEventsHandler(time.Hour, testLogger())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleEvents(w, withSession(r, s))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	// Подписка создаётся после первого Flush, поэтому запрос вкладки повторяется.
	go func() {
		for ctx.Err() == nil {
			s.Gate.RequestTab("system")
			time.Sleep(50 * time.Millisecond)
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
			continue
		}
		if strings.HasPrefix(line, "data: ") && event == "notify" {
			var e session.Effect
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
				t.Fatal(err)
			}
			if e.Notification == nil || e.Notification.Key != model.NotifyAccessDenied {
				t.Errorf("уведомление = %+v, ожидается access_denied", e.Notification)
			}
			return
		}
	}
	t.Fatal("поток закрыт без события notify")
}

func TestPagesHandler_Tabs(t *testing.T) {
	if _, err := i18n.Setup("en", testLogger()); err != nil {
		t.Fatal(err)
	}

	reg := newTestRegistry(t)
	s := openSession(t, reg, "u-collector")
	h := NewPagesHandler(nil, nil, reg, SystemInfo{Version: "test"}, testLogger())

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"dashboard", h.HandleDashboard, `data-tab="users"`},
		{"users", h.HandleUsers, "does not provide user counts"},
		{"financials", h.HandleFinancials, `class="nav-item active" data-tab="financials"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/"+tt.name, nil)
			req = withSession(req.WithContext(i18n.WithLang(req.Context(), "en")), s)
			rec := httptest.NewRecorder()
			tt.handler(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("статус = %d", rec.Code)
			}
			body := rec.Body.String()
			if !strings.Contains(body, tt.want) {
				t.Errorf("страница не содержит %q", tt.want)
			}
			if strings.Contains(body, `data-tab="system"`) {
				t.Error("вкладка system не должна показываться collector")
			}
		})
	}
}

type stubCounter struct {
	counts map[string]int
	err    error
}

func (c stubCounter) CountByRole(context.Context) (map[string]int, error) {
	return c.counts, c.err
}

type stubHealth map[string]bool

func (h stubHealth) Health() map[string]bool { return h }

func TestPagesHandler_UsersAndSystem(t *testing.T) {
	if _, err := i18n.Setup("en", testLogger()); err != nil {
		t.Fatal(err)
	}
	reg := newTestRegistry(t)
	s := openSession(t, reg, "u-admin")

	h := NewPagesHandler(
		stubCounter{counts: map[string]int{"admin": 2, "member": 40}},
		stubHealth{"postgresql:db:5432": true, "keycloak-jwks:kc:8080": false},
		reg,
		SystemInfo{Version: "1.2.3", RoleSource: "postgres", PollInterval: 5 * time.Second, SyncAttempts: 3},
		testLogger(),
	)

	rec := httptest.NewRecorder()
	h.HandleUsers(rec, withSession(httptest.NewRequest(http.MethodGet, "/users", nil), s))
	if body := rec.Body.String(); !strings.Contains(body, "<td>40</td>") {
		t.Error("таблица пользователей должна содержать счётчик member")
	}

	rec = httptest.NewRecorder()
	h.HandleSystem(rec, withSession(httptest.NewRequest(http.MethodGet, "/system", nil), s))
	body := rec.Body.String()
	for _, want := range []string{"1.2.3", "5s", "keycloak-jwks", `class="status-fail"`, `class="status-ok"`} {
		if !strings.Contains(body, want) {
			t.Errorf("страница system не содержит %q", want)
		}
	}
}

func TestPagesHandler_UsersCountError(t *testing.T) {
	reg := newTestRegistry(t)
	s := openSession(t, reg, "u-admin")
	h := NewPagesHandler(stubCounter{err: errors.New("db down")}, nil, reg, SystemInfo{}, testLogger())

	rec := httptest.NewRecorder()
	h.HandleUsers(rec, withSession(httptest.NewRequest(http.MethodGet, "/users", nil), s))
	if !strings.Contains(rec.Body.String(), "status-fail") {
		t.Error("ошибка подсчёта должна отображаться")
	}
}

func TestPagesHandler_Unavailable(t *testing.T) {
	h := NewPagesHandler(nil, nil, nil, SystemInfo{}, testLogger())
	rec := httptest.NewRecorder()
	h.HandleUnavailable(rec, httptest.NewRequest(http.MethodGet, "/users", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("статус = %d, ожидается 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `id="refresh-roles"`) {
		t.Error("экран недоступности должен предлагать повтор")
	}
}

func TestDependencyStatuses(t *testing.T) {
	got := dependencyStatuses(stubHealth{
		"postgresql:db:5432":    true,
		"keycloak-jwks:kc:8080": true,
		"keycloak-jwks:kc:8443": false,
	})
	if len(got) != 2 {
		t.Fatalf("len = %d, ожидается 2", len(got))
	}
	if got[0].Name != "keycloak-jwks" || got[0].Healthy {
		t.Errorf("keycloak-jwks = %+v, ожидается нездоров", got[0])
	}
	if got[1].Name != "postgresql" || !got[1].Healthy {
		t.Errorf("postgresql = %+v, ожидается здоров", got[1])
	}
	if dependencyStatuses(nil) != nil {
		t.Error("без мониторинга список пуст")
	}
}

func TestHandleSetLanguage(t *testing.T) {
	tests := []struct {
		name     string
		lang     string
		referer  string
		wantLang string
		wantLoc  string
	}{
		{"ru с локальным referer", "ru", "http://example.com/users?x=1", "ru", "/users?x=1"},
		{"неизвестный язык", "de", "", "en", "/"},
		{"чужой хост", "en", "http://evil.test/phish", "en", "/"},
		{"полный тег", "ru-RU", "/financials", "ru", "/financials"},
		{"путь с двумя слешами", "ru", "http://example.com//evil.test/x", "ru", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{"lang": {tt.lang}}
			req := httptest.NewRequest(http.MethodPost, "/set-language", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.referer != "" {
				req.Header.Set("Referer", tt.referer)
			}
			rec := httptest.NewRecorder()
			HandleSetLanguage(rec, req)

			if rec.Code != http.StatusSeeOther {
				t.Errorf("статус = %d, ожидается 303", rec.Code)
			}
			if loc := rec.Header().Get("Location"); loc != tt.wantLoc {
				t.Errorf("Location = %q, хотели %q", loc, tt.wantLoc)
			}
			cookies := rec.Result().Cookies()
			if len(cookies) != 1 || cookies[0].Value != tt.wantLang {
				t.Errorf("cookie = %v, ожидается lang=%s", cookies, tt.wantLang)
			}
			if len(cookies) == 1 && !cookies[0].HttpOnly {
				t.Error("cookie языка должна быть HttpOnly")
			}
		})
	}
}

func TestFlash_RoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	setFlash(rec, model.NotifySignedOut, false)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	got := takeFlash(rec, req, false)
	if len(got) != 1 || got[0].Key != model.NotifySignedOut || got[0].Severity != model.SeverityInfo {
		t.Errorf("takeFlash() = %+v", got)
	}
	cleared := rec.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge != -1 {
		t.Error("flash cookie должен удаляться после чтения")
	}

	req = httptest.NewRequest(http.MethodGet, "/login", nil)
	req.AddCookie(&http.Cookie{Name: flashCookieName, Value: "bogus"})
	if got := takeFlash(httptest.NewRecorder(), req, false); len(got) != 0 {
		t.Errorf("неизвестный ключ должен игнорироваться, получено %+v", got)
	}
}
