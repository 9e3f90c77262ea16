// oidc.go — вход в дашборд через Keycloak: Authorization Code Flow с PKCE (RFC 7636).
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Код ошибки token endpoint, означающий, что сессия Keycloak завершена
// (refresh token отозван, истёк или пользователь вышел в другом окне).
const grantInvalid = "invalid_grant"

// loginScope — запрашиваемые scopes. Роли берутся из хранилища ролей,
// поэтому группы в токене не нужны.
const loginScope = "openid profile email"

// realmEndpoints — адреса OpenID Connect endpoints одного realm.
type realmEndpoints struct {
	authorize string
	token     string
	logout    string
}

// newRealmEndpoints строит endpoints realm. browserBase используется для
// адресов, на которые перенаправляется браузер; backendBase — для запросов
// сервера к Keycloak.
func newRealmEndpoints(backendBase, browserBase, realm string) realmEndpoints {
	if browserBase == "" {
		browserBase = backendBase
	}
	protocol := func(base string) string {
		return strings.TrimRight(base, "/") + "/realms/" + url.PathEscape(realm) + "/protocol/openid-connect"
	}
	return realmEndpoints{
		authorize: protocol(browserBase) + "/auth",
		token:     protocol(backendBase) + "/token",
		logout:    protocol(browserBase) + "/logout",
	}
}

// OIDCClient — public client Keycloak (без client_secret) для дашборда.
type OIDCClient struct {
	clientID   string
	endpoints  realmEndpoints
	httpClient *http.Client
}

// OIDCConfig — конфигурация OIDC-клиента.
type OIDCConfig struct {
	// KeycloakURL — адрес Keycloak внутри кластера (обмен code, refresh).
	KeycloakURL string
	// BrowserKeycloakURL — внешний адрес Keycloak для редиректов браузера.
	// Пустой — совпадает с KeycloakURL.
	BrowserKeycloakURL string
	Realm              string
	ClientID           string
	// HTTPClient — клиент с доверенным CA; nil — новый клиент с Timeout.
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewOIDCClient создаёт OIDC-клиент.
func NewOIDCClient(cfg OIDCConfig) *OIDCClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &OIDCClient{
		clientID:   cfg.ClientID,
		endpoints:  newRealmEndpoints(cfg.KeycloakURL, cfg.BrowserKeycloakURL, cfg.Realm),
		httpClient: httpClient,
	}
}

// PKCEParams — пара PKCE одного входа. CodeVerifier остаётся в state cookie,
// CodeChallenge уходит в authorize URL.
type PKCEParams struct {
	CodeVerifier  string
	CodeChallenge string
}

// GeneratePKCE генерирует code_verifier (43 символа base64url) и
// code_challenge = base64url(SHA-256(code_verifier)).
func GeneratePKCE() (*PKCEParams, error) {
	verifier, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации code_verifier: %w", err)
	}
	sum := sha256.Sum256([]byte(verifier))
	return &PKCEParams{
		CodeVerifier:  verifier,
		CodeChallenge: base64.RawURLEncoding.EncodeToString(sum[:]),
	}, nil
}

// GenerateState генерирует state для защиты callback от CSRF.
func GenerateState() (string, error) {
	state, err := randomToken(16)
	if err != nil {
		return "", fmt.Errorf("ошибка генерации state: %w", err)
	}
	return state, nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AuthorizeURL — адрес страницы входа Keycloak.
func (c *OIDCClient) AuthorizeURL(redirectURI, state, codeChallenge string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("response_type", "code")
	q.Set("scope", loginScope)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("code_challenge", codeChallenge)
	q.Set("code_challenge_method", "S256")
	return c.endpoints.authorize + "?" + q.Encode()
}

// LogoutURL — адрес выхода из Keycloak с возвратом на postLogoutRedirectURI.
// idTokenHint необязателен: без него Keycloak опознаёт клиента по client_id.
func (c *OIDCClient) LogoutURL(idTokenHint, postLogoutRedirectURI string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	return c.endpoints.logout + "?" + q.Encode()
}

// TokenResponse — успешный ответ token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`  //nolint:gosec // G117: структура токена OAuth2
	RefreshToken string `json:"refresh_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	IDToken      string `json:"id_token"`
}

// ExpiresAt — момент истечения access token относительно now.
func (t *TokenResponse) ExpiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// TokenError — отказ token endpoint.
type TokenError struct {
	// Status — HTTP-статус ответа.
	Status      int
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *TokenError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("token endpoint вернул статус %d", e.Status)
	}
	if e.Description == "" {
		return "token endpoint: " + e.Code
	}
	return fmt.Sprintf("token endpoint: %s (%s)", e.Code, e.Description)
}

// IsSessionEnded сообщает, что Keycloak отказал в выдаче токена окончательно:
// повтор с тем же refresh token не поможет. Сетевые ошибки и 5xx сюда не относятся.
func IsSessionEnded(err error) bool {
	var tokenErr *TokenError
	if !errors.As(err, &tokenErr) {
		return false
	}
	return tokenErr.Code == grantInvalid || tokenErr.Status == http.StatusUnauthorized
}

// ExchangeCode обменивает authorization code из callback на токены.
// redirectURI должен совпадать с переданным в AuthorizeURL.
func (c *OIDCClient) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenResponse, error) {
	return c.grant(ctx, "authorization_code", url.Values{
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {codeVerifier},
	})
}

// RefreshTokens продлевает сессию по refresh token.
func (c *OIDCClient) RefreshTokens(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return c.grant(ctx, "refresh_token", url.Values{
		"refresh_token": {refreshToken},
	})
}

// grant выполняет запрос к token endpoint с указанным grant_type.
func (c *OIDCClient) grant(ctx context.Context, grantType string, form url.Values) (*TokenResponse, error) {
	form.Set("grant_type", grantType)
	form.Set("client_id", c.clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.token, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса %s: %w", grantType, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации OIDC
	if err != nil {
		return nil, fmt.Errorf("token endpoint недоступен: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		tokenErr := &TokenError{Status: resp.StatusCode}
		// Тело ошибки необязательно JSON (например, страница прокси)
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(tokenErr)
		return nil, tokenErr
	}

	var tokens TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("ошибка разбора ответа token endpoint: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, errors.New("token endpoint не вернул access_token")
	}
	return &tokens, nil
}
