package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bigkaa/memberhub/access-module/internal/ui/auth"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockVerifier принимает только токены из tokens.
type mockVerifier struct {
	tokens map[string]*auth.Identity
	calls  int
}

func (m *mockVerifier) Verify(_ context.Context, token string) (*auth.Identity, error) {
	m.calls++
	id, ok := m.tokens[token]
	if !ok {
		return nil, &auth.AuthError{Reason: "невалидный токен", Err: errors.New("bad signature")}
	}
	return id, nil
}

func newMockVerifier() *mockVerifier {
	return &mockVerifier{tokens: map[string]*auth.Identity{
		"good-token": {Subject: "user-123", Username: "ivan"},
	}}
}

func TestBearerAuth_ValidToken(t *testing.T) {
	v := newMockVerifier()
	handler := NewBearerAuth(v, testLogger()).Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromContext(r.Context())
		if id == nil {
			t.Error("Identity не найдена в контексте")
			return
		}
		if id.Subject != "user-123" {
			t.Errorf("ожидался sub=user-123, получен %s", id.Subject)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/access/me", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
}

func TestBearerAuth_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantVerify bool
	}{
		{"без заголовка", "", false},
		{"basic auth", "Basic dXNlcjpwYXNz", false},
		{"без префикса bearer", "token123", false},
		{"пустой bearer", "Bearer ", false},
		{"невалидный токен", "Bearer bad-token", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newMockVerifier()
			handler := NewBearerAuth(v, testLogger()).Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler не должен быть вызван")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/access/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
			if (v.calls > 0) != tt.wantVerify {
				t.Errorf("вызовов Verify = %d", v.calls)
			}
			// invalid_token только для токена, который был проверен и отвергнут
			challenge := rec.Header().Get("WWW-Authenticate")
			if !strings.HasPrefix(challenge, "Bearer ") || strings.Contains(challenge, "invalid_token") != tt.wantVerify {
				t.Errorf("WWW-Authenticate = %q", challenge)
			}
		})
	}
}

func TestIdentityFromContext_Empty(t *testing.T) {
	if IdentityFromContext(context.Background()) != nil {
		t.Error("ожидался nil для пустого контекста")
	}
}
