package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestRandomParameters(t *testing.T) {
	seen := map[string]bool{}
	for range 3 {
		p, err := GeneratePKCE()
		if err != nil {
			t.Fatal(err)
		}
		if len(p.CodeVerifier) != 43 {
			t.Errorf("len(code_verifier) = %d, ожидается 43", len(p.CodeVerifier))
		}
		sum := sha256.Sum256([]byte(p.CodeVerifier))
		if p.CodeChallenge != base64.RawURLEncoding.EncodeToString(sum[:]) {
			t.Error("code_challenge не равен S256(code_verifier)")
		}

		state, err := GenerateState()
		if err != nil {
			t.Fatal(err)
		}
		for _, v := range []string{p.CodeVerifier, state} {
			if seen[v] {
				t.Errorf("значение %q повторилось", v)
			}
			seen[v] = true
		}
	}
}

func TestOIDCClientEndpoints(t *testing.T) {
	client := NewOIDCClient(OIDCConfig{
		KeycloakURL:        "http://keycloak:8080/",
		BrowserKeycloakURL: "https://sso.example.com",
		Realm:              "memberhub",
		ClientID:           "memberhub-dashboard",
	})

	authURL, err := url.Parse(client.AuthorizeURL("http://localhost:8010/callback", "st", "ch"))
	if err != nil {
		t.Fatal(err)
	}
	if got := authURL.Scheme + "://" + authURL.Host + authURL.Path; got != "https://sso.example.com/realms/memberhub/protocol/openid-connect/auth" {
		t.Errorf("authorize endpoint = %q", got)
	}
	want := map[string]string{
		"client_id":             "memberhub-dashboard",
		"response_type":         "code",
		"redirect_uri":          "http://localhost:8010/callback",
		"state":                 "st",
		"code_challenge":        "ch",
		"code_challenge_method": "S256",
		"scope":                 "openid profile email",
	}
	for key, v := range want {
		if got := authURL.Query().Get(key); got != v {
			t.Errorf("%s = %q, хотели %q", key, got, v)
		}
	}

	if got := client.endpoints.token; got != "http://keycloak:8080/realms/memberhub/protocol/openid-connect/token" {
		t.Errorf("token endpoint = %q, ожидается внутренний адрес", got)
	}

	logoutURL, err := url.Parse(client.LogoutURL("", "http://localhost:8010/login"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(logoutURL.String(), "https://sso.example.com/") {
		t.Errorf("logout должен идти через внешний адрес: %s", logoutURL)
	}
	if logoutURL.Query().Has("id_token_hint") {
		t.Error("пустой id_token_hint не передаётся")
	}
	if logoutURL.Query().Get("post_logout_redirect_uri") != "http://localhost:8010/login" {
		t.Error("post_logout_redirect_uri не совпадает")
	}
	if hinted := client.LogoutURL("idt", "x"); !strings.Contains(hinted, "id_token_hint=idt") {
		t.Errorf("id_token_hint потерян: %s", hinted)
	}
}

// newTokenServer — mock token endpoint Keycloak.
func newTokenServer(t *testing.T, handler http.HandlerFunc) *OIDCClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOIDCClient(OIDCConfig{
		KeycloakURL: srv.URL,
		Realm:       "memberhub",
		ClientID:    "memberhub-dashboard",
	})
}

func TestOIDCClientExchangeCode(t *testing.T) {
	client := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realms/memberhub/protocol/openid-connect/token" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
			return
		}
		if r.Form.Get("grant_type") != "authorization_code" || r.Form.Get("code_verifier") != "verifier" ||
			r.Form.Get("client_id") != "memberhub-dashboard" {
			t.Errorf("form: %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":300}`))
	})

	tokens, err := client.ExchangeCode(context.Background(), "code", "http://localhost:8010/callback", "verifier")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if tokens.AccessToken != "at" || tokens.RefreshToken != "rt" {
		t.Errorf("tokens = %+v", tokens)
	}
	now := time.Unix(1000, 0)
	if got := tokens.ExpiresAt(now); !got.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("ExpiresAt = %v", got)
	}
}

func TestOIDCClientRefreshTokensErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantEnded   bool
		wantMessage string
	}{
		{"refresh token отозван", http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Session not active"}`, true, "invalid_grant"},
		{"клиент отклонён", http.StatusUnauthorized, `{"error":"unauthorized_client"}`, true, "unauthorized_client"},
		{"Keycloak перегружен", http.StatusServiceUnavailable, `<html>busy</html>`, false, "503"},
		{"пустой access_token", http.StatusOK, `{"refresh_token":"rt"}`, false, "access_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
				_ = r.ParseForm()
				if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "old" {
					t.Errorf("form: %v", r.Form)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.RefreshTokens(context.Background(), "old")
			if err == nil {
				t.Fatal("ожидается ошибка")
			}
			if got := IsSessionEnded(err); got != tt.wantEnded {
				t.Errorf("IsSessionEnded = %v, хотели %v (%v)", got, tt.wantEnded, err)
			}
			if !strings.Contains(err.Error(), tt.wantMessage) {
				t.Errorf("ошибка %q должна содержать %q", err, tt.wantMessage)
			}
		})
	}
}

func TestIsSessionEnded_NetworkError(t *testing.T) {
	client := NewOIDCClient(OIDCConfig{KeycloakURL: "http://127.0.0.1:1", Realm: "memberhub", Timeout: time.Second})
	_, err := client.RefreshTokens(context.Background(), "rt")
	if err == nil {
		t.Fatal("ожидается ошибка соединения")
	}
	if IsSessionEnded(err) {
		t.Error("недоступность Keycloak не завершает сессию")
	}
}
