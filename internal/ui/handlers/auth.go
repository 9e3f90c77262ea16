// Пакет handlers — HTTP-обработчики дашборда.
// auth.go — вход через Keycloak (Authorization Code + PKCE) и выход.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
	"github.com/bigkaa/memberhub/access-module/internal/session"
	"github.com/bigkaa/memberhub/access-module/internal/ui/auth"
	"github.com/bigkaa/memberhub/access-module/internal/ui/pages"
)

const loginStartPath = "/login/start"

// OIDCProvider — операции Keycloak, нужные для входа и выхода.
type OIDCProvider interface {
	AuthorizeURL(redirectURI, state, codeChallenge string) string
	ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*auth.TokenResponse, error)
	LogoutURL(idTokenHint, postLogoutRedirectURI string) string
}

// TokenVerifier — проверка access token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Identity, error)
}

// AuthHandler — обработчики входа и выхода.
type AuthHandler struct {
	oidc           OIDCProvider
	verifier       TokenVerifier
	sessionManager *auth.SessionManager
	registry       *session.Registry
	secureCookie   bool
	logger         *slog.Logger
}

// NewAuthHandler создаёт новый AuthHandler.
func NewAuthHandler(
	oidc OIDCProvider,
	verifier TokenVerifier,
	sessionManager *auth.SessionManager,
	registry *session.Registry,
	secureCookie bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		oidc:           oidc,
		verifier:       verifier,
		sessionManager: sessionManager,
		registry:       registry,
		secureCookie:   secureCookie,
		logger:         logger.With(slog.String("component", "ui_auth")),
	}
}

// HandleLoginPage — GET /login
// Активная сессия → на главную, иначе страница входа с накопленными уведомлениями.
func (h *AuthHandler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	if data, err := h.sessionManager.GetSessionFromRequest(r); err == nil && data != nil && !data.IsExpired() {
		if s, ok := h.registry.Get(data.SessionID); ok && s.Member().ID != "" {
			http.Redirect(w, r, rbac.TabPath(rbac.TabDashboard), http.StatusFound)
			return
		}
	}

	startURL := loginStartPath
	if next, ok := rbac.ReturnPath(r.URL.Query().Get("next")); ok {
		startURL += "?" + url.Values{"next": {next}}.Encode()
	}
	layout := pages.Layout{
		TitleKey: "title.login",
		Flash:    takeFlash(w, r, h.secureCookie),
	}
	render(w, r, h.logger, http.StatusOK, pages.Page(layout, pages.Login(startURL)))
}

// HandleLogin — GET /login/start[?next=/tab]
// Генерирует PKCE и state, запечатывает их вместе с маршрутом возврата
// в cookie на время входа и перенаправляет на страницу входа Keycloak.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	pkce, err := auth.GeneratePKCE()
	if err != nil {
		h.logger.Error("Ошибка генерации PKCE", slog.String("error", err.Error()))
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	state, err := auth.GenerateState()
	if err != nil {
		h.logger.Error("Ошибка генерации state", slog.String("error", err.Error()))
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	returnTo, _ := rbac.ReturnPath(r.URL.Query().Get("next"))
	if err := h.sessionManager.SetLoginState(w, state, pkce.CodeVerifier, returnTo); err != nil {
		h.logger.Error("Ошибка записи состояния входа", slog.String("error", err.Error()))
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	authorizeURL := h.oidc.AuthorizeURL(h.buildRedirectURI(r), state, pkce.CodeChallenge)
	h.logger.Debug("Redirect на Keycloak login", slog.String("authorize_url", authorizeURL))
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

// HandleCallback — GET /callback
// Обменивает authorization code на tokens, проверяет access token,
// открывает серверную сессию (или передаёт ей SIGNED_IN) и ставит cookie.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// 1. Ошибка от Keycloak
	if errCode := q.Get("error"); errCode != "" {
		h.logger.Warn("Keycloak вернул ошибку авторизации",
			slog.String("error", errCode),
			slog.String("description", q.Get("error_description")),
		)
		h.failLogin(w, r)
		return
	}

	// 2. code и state
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		http.Error(w, "Отсутствует code или state", http.StatusBadRequest)
		return
	}

	// 3. state cookie одноразовый (CSRF-защита)
	sd, err := h.sessionManager.TakeLoginState(w, r)
	if err != nil {
		h.logger.Warn("Некорректное состояние входа", slog.String("error", err.Error()))
		http.Error(w, "Сессия авторизации истекла, попробуйте ещё раз", http.StatusBadRequest)
		return
	}
	if sd.State != state {
		h.logger.Warn("State mismatch (возможная CSRF атака)")
		http.Error(w, "State mismatch", http.StatusBadRequest)
		return
	}

	// 4. Обмен code на tokens
	tokenResp, err := h.oidc.ExchangeCode(r.Context(), code, h.buildRedirectURI(r), sd.CodeVerifier)
	if err != nil {
		h.logger.Error("Ошибка обмена code на tokens", slog.String("error", err.Error()))
		h.failLogin(w, r)
		return
	}

	// 5. Проверка подписи и claims access token
	identity, err := h.verifier.Verify(r.Context(), tokenResp.AccessToken)
	if err != nil {
		h.logger.Warn("Access token не прошёл проверку", slog.String("error", err.Error()))
		h.failLogin(w, r)
		return
	}
	member := identity.Member()

	// 6. Серверная сессия: существующая получает SIGNED_IN, иначе открываем новую
	data := &auth.SessionData{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    tokenResp.ExpiresAt(time.Now()).Unix(),
		UserID:       member.ID,
		Username:     member.Username,
		Email:        member.Email,
		Name:         member.Name,
	}
	if prev, _ := h.sessionManager.GetSessionFromRequest(r); prev != nil && h.registry.SignIn(prev.SessionID, member) {
		data.SessionID = prev.SessionID
	} else {
		data.SessionID = h.registry.Open(member, rbac.TabPath(rbac.TabDashboard)).ID
	}

	// 7. Session cookie
	if err := h.sessionManager.SetSessionCookie(w, data); err != nil {
		h.logger.Error("Ошибка установки session cookie", slog.String("error", err.Error()))
		h.registry.SignOut(data.SessionID)
		http.Error(w, "Ошибка создания сессии", http.StatusInternalServerError)
		return
	}

	// Маршрут возврата проверен при записи; доступ к вкладке решит шлюз.
	target := rbac.TabPath(rbac.TabDashboard)
	if sd.ReturnTo != "" {
		target = sd.ReturnTo
	}
	h.logger.Info("Пользователь аутентифицирован",
		slog.String("username", member.Username),
		slog.String("user_id", member.ID),
		slog.String("return_to", target),
	)
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleLogout — POST /logout
// Завершает серверную сессию, очищает cookie, redirect на Keycloak logout.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if data, _ := h.sessionManager.GetSessionFromRequest(r); data != nil {
		h.registry.SignOut(data.SessionID)
		h.logger.Info("Пользователь выполняет logout", slog.String("user_id", data.UserID))
	}
	h.sessionManager.ClearSessionCookie(w)
	setFlash(w, model.NotifySignedOut, h.secureCookie)

	postLogoutRedirectURI := buildBaseURL(r) + rbac.LoginPath
	http.Redirect(w, r, h.oidc.LogoutURL("", postLogoutRedirectURI), http.StatusFound)
}

// failLogin — вход не удался: уведомление и возврат на страницу входа.
func (h *AuthHandler) failLogin(w http.ResponseWriter, r *http.Request) {
	setFlash(w, model.NotifyAuthFailed, h.secureCookie)
	http.Redirect(w, r, rbac.LoginPath, http.StatusFound)
}

// buildRedirectURI формирует callback redirect URI на основе текущего запроса.
func (h *AuthHandler) buildRedirectURI(r *http.Request) string {
	return buildBaseURL(r) + "/callback"
}

// buildBaseURL формирует базовый URL (scheme + host) из заголовков запроса.
// Учитывает X-Forwarded-* заголовки от reverse proxy.
func buildBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	host := r.Host
	if fwdHost := r.Header.Get("X-Forwarded-Host"); fwdHost != "" {
		host = fwdHost
	}
	return scheme + "://" + host
}
