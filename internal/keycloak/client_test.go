package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockKeycloak — token endpoint и Admin API одного realm.
type mockKeycloak struct {
	tokens    atomic.Int32
	tokenCode int
	admin     http.HandlerFunc
}

func (m *mockKeycloak) start(t *testing.T) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/memberhub/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		n := m.tokens.Add(1)
		if m.tokenCode != 0 {
			w.WriteHeader(m.tokenCode)
			_, _ = w.Write([]byte(`{"error":"unauthorized_client"}`))
			return
		}
		if r.FormValue("grant_type") != "client_credentials" || r.FormValue("client_secret") != "test-secret" {
			t.Errorf("form: %v", r.Form)
		}
		_ = json.NewEncoder(w).Encode(serviceToken{AccessToken: "token-" + strconv.Itoa(int(n)), ExpiresIn: 300})
	})
	mux.HandleFunc("/admin/realms/memberhub/", func(w http.ResponseWriter, r *http.Request) {
		m.admin(w, r)
	})
	mux.HandleFunc("/admin/realms/memberhub", func(w http.ResponseWriter, r *http.Request) {
		m.admin(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "memberhub", "access-module", "test-secret", srv.Client(), testLogger())
}

func TestClient_ServiceTokenCache(t *testing.T) {
	m := &mockKeycloak{}
	c := m.start(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	steps := []struct {
		advance   time.Duration
		wantToken string
	}{
		{0, "token-1"},
		{time.Minute, "token-1"},
		// 300s жизни минус 30s запаса
		{4 * time.Minute, "token-2"},
	}
	for _, st := range steps {
		now = now.Add(st.advance)
		got, err := c.accessToken(context.Background(), "")
		if err != nil {
			t.Fatal(err)
		}
		if got != st.wantToken {
			t.Errorf("через %v: токен %q, хотели %q", st.advance, got, st.wantToken)
		}
	}
}

func TestClient_ServiceTokenRejected(t *testing.T) {
	m := &mockKeycloak{tokenCode: http.StatusUnauthorized}
	c := m.start(t)

	_, err := c.UserGroups(context.Background(), "u1")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, ожидается StatusError 401", err)
	}
}

func TestClient_UserGroupsPagination(t *testing.T) {
	m := &mockKeycloak{}
	m.admin = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/admin/realms/memberhub/users/u%2F1/groups" {
			t.Errorf("path = %s", r.URL.EscapedPath())
		}
		if r.URL.Query().Get("briefRepresentation") != "true" {
			t.Error("ожидается краткое представление групп")
		}
		first, _ := strconv.Atoi(r.URL.Query().Get("first"))
		total := groupsPageSize + 3
		var page []Group
		for i := first; i < total && i < first+groupsPageSize; i++ {
			page = append(page, Group{ID: strconv.Itoa(i), Name: "g" + strconv.Itoa(i), Path: "/g" + strconv.Itoa(i)})
		}
		_ = json.NewEncoder(w).Encode(page)
	}
	c := m.start(t)

	groups, err := c.UserGroups(context.Background(), "u/1")
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != groupsPageSize+3 {
		t.Errorf("групп = %d, ожидается %d", len(groups), groupsPageSize+3)
	}
	if m.tokens.Load() != 1 {
		t.Errorf("токен запрошен %d раз, страницы должны переиспользовать его", m.tokens.Load())
	}
}

func TestClient_RetriesOnceWithFreshToken(t *testing.T) {
	var calls atomic.Int32
	m := &mockKeycloak{}
	m.admin = func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// Первый токен отозван на стороне Keycloak
		if r.Header.Get("Authorization") == "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"g1","name":"memberhub-admins","path":"/memberhub-admins"}]`))
	}
	c := m.start(t)

	groups, err := c.UserGroups(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].Name != "memberhub-admins" {
		t.Errorf("groups = %+v", groups)
	}
	if calls.Load() != 2 || m.tokens.Load() != 2 {
		t.Errorf("запросов к Admin API %d, токенов %d; ожидается по 2", calls.Load(), m.tokens.Load())
	}
}

func TestClient_AdminErrors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantNotFound bool
	}{
		{"пользователь удалён", http.StatusNotFound, true},
		{"сбой Keycloak", http.StatusBadGateway, false},
		{"токен отвергнут дважды", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockKeycloak{admin: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("upstream says no"))
			}}
			c := m.start(t)

			_, err := c.UserGroups(context.Background(), "u1")
			if err == nil {
				t.Fatal("ожидается ошибка")
			}
			if got := errors.Is(err, ErrNotFound); got != tt.wantNotFound {
				t.Errorf("errors.Is(ErrNotFound) = %v для %v", got, err)
			}
			var statusErr *StatusError
			if !tt.wantNotFound && (!errors.As(err, &statusErr) || statusErr.Status != tt.status) {
				t.Errorf("err = %v, ожидается StatusError %d", err, tt.status)
			}
		})
	}
}

func TestClient_CheckReady(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		want   string
	}{
		{"realm включён", `{"realm":"memberhub","enabled":true}`, http.StatusOK, "ok"},
		{"realm отключён", `{"realm":"memberhub","enabled":false}`, http.StatusOK, "degraded"},
		{"Admin API недоступен", ``, http.StatusServiceUnavailable, "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockKeycloak{admin: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/admin/realms/memberhub" {
					t.Errorf("path = %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}}
			c := m.start(t)

			if status, msg := c.CheckReady(context.Background()); status != tt.want {
				t.Errorf("CheckReady() = %s (%s), хотели %s", status, msg, tt.want)
			}
		})
	}
}

// TestJWKSReadinessChecker проверяет, что готовность требует ключа подписи RS256.
func TestJWKSReadinessChecker(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"ключ подписи", http.StatusOK, `{"keys":[{"kid":"k1","kty":"RSA","use":"sig","alg":"RS256"}]}`, "ok"},
		{"без use и alg", http.StatusOK, `{"keys":[{"kid":"k1","kty":"RSA"}]}`, "ok"},
		{"только шифрование", http.StatusOK, `{"keys":[{"kid":"e1","kty":"RSA","use":"enc","alg":"RSA-OAEP"}]}`, "degraded"},
		{"только EC", http.StatusOK, `{"keys":[{"kid":"ec","kty":"EC","use":"sig","alg":"ES256"}]}`, "degraded"},
		{"нет ключей", http.StatusOK, `{"keys":[]}`, "degraded"},
		{"невалидный JSON", http.StatusOK, `not-json`, "degraded"},
		{"ошибка сервера", http.StatusInternalServerError, ``, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			checker := NewJWKSReadinessChecker(srv.URL, srv.Client(), time.Second)
			status, msg := checker.CheckReady(context.Background())
			if status != tt.want {
				t.Errorf("CheckReady() = %s (%s), хотели %s", status, msg, tt.want)
			}
		})
	}
}

func TestJWKSReadinessChecker_RespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	checker := NewJWKSReadinessChecker(srv.URL, nil, time.Minute)
	if status, _ := checker.CheckReady(ctx); status != "fail" {
		t.Errorf("status = %s, хотели fail по истечении контекста", status)
	}
}

// TestHTTPClientWithCA проверяет загрузку CA-сертификата.
func TestHTTPClientWithCA(t *testing.T) {
	client, err := HTTPClientWithCA("", 2*time.Second)
	if err != nil {
		t.Fatalf("HTTPClientWithCA(\"\") ошибка: %v", err)
	}
	if client.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v, ожидался 2s", client.Timeout)
	}

	if _, err := HTTPClientWithCA(filepath.Join(t.TempDir(), "missing.pem"), time.Second); err == nil {
		t.Error("ожидалась ошибка для отсутствующего файла")
	}

	bad := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(bad, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := HTTPClientWithCA(bad, time.Second); err == nil {
		t.Error("ожидалась ошибка для файла без PEM-блоков")
	}
}
