// Пакет keycloak — доступ к Keycloak: Admin REST API (группы пользователя
// как источник ролей), проверки готовности и HTTP-клиент с доверенным CA.
package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNotFound — Keycloak вернул 404 (например, пользователь удалён).
var ErrNotFound = errors.New("ресурс Keycloak не найден")

const (
	// groupsPageSize — размер страницы при чтении групп пользователя.
	groupsPageSize = 100
	// tokenLeeway — service account token обновляется заранее.
	tokenLeeway = 30 * time.Second
)

// StatusError — ответ Admin API с неожиданным статусом.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: Keycloak вернул статус %d: %s", e.Op, e.Status, e.Body)
}

// Client — клиент Admin REST API от имени service account (client_credentials).
type Client struct {
	tokenURL    string
	adminURL    string
	credentials url.Values

	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New создаёт клиент Admin API realm.
// httpClient nil — клиент с таймаутом 30s.
func New(baseURL, realm, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	base := strings.TrimRight(baseURL, "/")
	realm = url.PathEscape(realm)

	return &Client{
		tokenURL: base + "/realms/" + realm + "/protocol/openid-connect/token",
		adminURL: base + "/admin/realms/" + realm,
		credentials: url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
		},
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "keycloak_client")),
		now:        time.Now,
	}
}

// accessToken возвращает service account token, при необходимости получая новый.
// stale — токен, который Admin API только что отверг: его нельзя вернуть снова.
func (c *Client) accessToken(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.token != stale && c.now().Add(tokenLeeway).Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(c.credentials.Encode()))
	if err != nil {
		return "", fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("запрос токена Keycloak: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Op: "client_credentials", Status: resp.StatusCode, Body: readSnippet(resp.Body)}
	}
	var tok serviceToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("декодирование токена Keycloak: %w", err)
	}

	c.token = tok.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.logger.Debug("Service account token получен", slog.Time("expires_at", c.tokenExpiry))
	return c.token, nil
}

// getJSON выполняет GET к Admin API и декодирует ответ в target.
// Если Admin API отверг токен (401), токен получается заново и запрос повторяется один раз.
func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, target any) error {
	endpoint := c.adminURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var rejected string
	for attempt := 0; ; attempt++ {
		token, err := c.accessToken(ctx, rejected)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
		if err != nil {
			return fmt.Errorf("%s: создание запроса: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && attempt == 0:
			resp.Body.Close()
			c.logger.Debug("Admin API отверг service account token, получаем новый", slog.String("op", op))
			rejected = token
			continue
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			body := readSnippet(resp.Body)
			resp.Body.Close()
			return &StatusError{Op: op, Status: resp.StatusCode, Body: body}
		}

		err = json.NewDecoder(resp.Body).Decode(target)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%s: декодирование ответа: %w", op, err)
		}
		return nil
	}
}

// UserGroups возвращает все группы пользователя, читая их постранично.
func (c *Client) UserGroups(ctx context.Context, userID string) ([]Group, error) {
	path := "/users/" + url.PathEscape(userID) + "/groups"

	var all []Group
	for first := 0; ; first += groupsPageSize {
		var page []Group
		err := c.getJSON(ctx, "UserGroups", path, url.Values{
			"briefRepresentation": {"true"},
			"first":               {strconv.Itoa(first)},
			"max":                 {strconv.Itoa(groupsPageSize)},
		}, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < groupsPageSize {
			return all, nil
		}
	}
}

// RealmInfo возвращает состояние realm.
func (c *Client) RealmInfo(ctx context.Context) (*Realm, error) {
	var realm Realm
	if err := c.getJSON(ctx, "RealmInfo", "", nil, &realm); err != nil {
		return nil, err
	}
	return &realm, nil
}

// CheckReady — готовность Admin API: без него роли из групп не загрузить.
func (c *Client) CheckReady(ctx context.Context) (string, string) {
	realm, err := c.RealmInfo(ctx)
	if err != nil {
		return statusFail, fmt.Sprintf("Keycloak Admin API недоступен: %v", err)
	}
	if !realm.Enabled {
		return "degraded", fmt.Sprintf("Realm %s отключён", realm.Realm)
	}
	return "ok", fmt.Sprintf("Realm %s доступен", realm.Realm)
}

// readSnippet читает начало тела ответа для сообщения об ошибке.
func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
