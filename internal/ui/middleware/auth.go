// Пакет middleware — HTTP middleware дашборда.
// auth.go — проверка cookie-сессии, авто-refresh токенов, привязка к серверной сессии.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
	"github.com/bigkaa/memberhub/access-module/internal/session"
	"github.com/bigkaa/memberhub/access-module/internal/ui/auth"
)

// contextKey — тип для ключей контекста UI (избегаем коллизий с API middleware).
type contextKey string

const (
	// ContextKeyUISession — данные cookie-сессии в контексте запроса.
	ContextKeyUISession contextKey = "ui_session"
	// ContextKeyServerSession — серверная сессия (шлюз доступа) в контексте запроса.
	ContextKeyServerSession contextKey = "server_session"
)

// TokenRefresher — обновление токенов через refresh token.
type TokenRefresher interface {
	RefreshTokens(ctx context.Context, refreshToken string) (*auth.TokenResponse, error)
}

// TokenVerifier — проверка access token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Identity, error)
}

// UIAuth — middleware аутентификации дашборда.
// Извлекает сессию из зашифрованного cookie, при необходимости обновляет
// access token через Keycloak и находит (или открывает) серверную сессию.
type UIAuth struct {
	sessionManager *auth.SessionManager
	refresher      TokenRefresher
	verifier       TokenVerifier
	registry       *session.Registry
	logger         *slog.Logger
}

// NewUIAuth создаёт новый UIAuth middleware.
func NewUIAuth(
	sessionManager *auth.SessionManager,
	refresher TokenRefresher,
	verifier TokenVerifier,
	registry *session.Registry,
	logger *slog.Logger,
) *UIAuth {
	return &UIAuth{
		sessionManager: sessionManager,
		refresher:      refresher,
		verifier:       verifier,
		registry:       registry,
		logger:         logger.With(slog.String("component", "ui_auth_middleware")),
	}
}

// Middleware возвращает HTTP middleware для проверки сессии.
// Применяется ко всем маршрутам дашборда, кроме /login, /callback, /logout и /static.
func (ua *UIAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Извлекаем сессию из cookie
			data, err := ua.sessionManager.GetSessionFromRequest(r)
			if err != nil {
				ua.logger.Debug("Ошибка чтения сессии",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				// Повреждённый cookie — очищаем
				ua.sessionManager.ClearSessionCookie(w)
				unauthenticated(w, r)
				return
			}
			if data == nil {
				unauthenticated(w, r)
				return
			}

			// 2. Access token истекает: обновляем
			if data.IsExpired() {
				refreshed, refreshErr := ua.refreshSession(r.Context(), data)
				switch {
				case refreshErr == nil:
					member := refreshed.Member()
					ua.registry.TokenRefreshed(refreshed.SessionID, &member)
					data = refreshed
					if err := ua.sessionManager.SetSessionCookie(w, data); err != nil {
						ua.logger.Error("Ошибка обновления session cookie", slog.String("error", err.Error()))
					}
					ua.logger.Debug("Сессия обновлена через refresh token",
						slog.String("username", data.Username),
					)
				case !auth.IsSessionEnded(refreshErr) && time.Now().Unix() < data.ExpiresAt:
					// Keycloak временно недоступен, а токен ещё действует:
					// обслуживаем запрос, refresh повторится на следующем.
					ua.logger.Warn("Refresh отложен, Keycloak недоступен",
						slog.String("username", data.Username),
						slog.String("error", refreshErr.Error()),
					)
				default:
					ua.logger.Info("Не удалось обновить сессию",
						slog.String("username", data.Username),
						slog.String("error", refreshErr.Error()),
					)
					// Шлюз узнаёт, что сессии больше нет
					ua.registry.TokenRefreshed(data.SessionID, nil)
					ua.sessionManager.ClearSessionCookie(w)
					unauthenticated(w, r)
					return
				}
			}

			// 3. Серверная сессия: после рестарта или вытеснения открываем заново
			srv, ok := ua.registry.Get(data.SessionID)
			if !ok {
				srv = ua.registry.Open(data.Member(), r.URL.Path)
				data.SessionID = srv.ID
				if err := ua.sessionManager.SetSessionCookie(w, data); err != nil {
					ua.logger.Error("Ошибка записи session cookie", slog.String("error", err.Error()))
				}
			}

			// 4. Помещаем сессии в контекст
			ctx := context.WithValue(r.Context(), ContextKeyUISession, data)
			ctx = context.WithValue(ctx, ContextKeyServerSession, srv)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// refreshSession обновляет access token через Keycloak refresh token
// и заново проверяет владельца нового токена.
func (ua *UIAuth) refreshSession(ctx context.Context, data *auth.SessionData) (*auth.SessionData, error) {
	tokenResp, err := ua.refresher.RefreshTokens(ctx, data.RefreshToken)
	if err != nil {
		return nil, err
	}
	identity, err := ua.verifier.Verify(ctx, tokenResp.AccessToken)
	if err != nil {
		return nil, err
	}

	refreshToken := tokenResp.RefreshToken
	if refreshToken == "" {
		refreshToken = data.RefreshToken
	}
	return &auth.SessionData{
		SessionID:    data.SessionID,
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    tokenResp.ExpiresAt(time.Now()).Unix(),
		UserID:       identity.Subject,
		Username:     identity.Username,
		Email:        identity.Email,
		Name:         identity.Name,
	}, nil
}

// unauthenticated — ответ на запрос без действующей сессии.
// Страницы перенаправляются на /login, служебные endpoints получают 401.
func unauthenticated(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/session/") {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, rbac.LoginURL(r.URL.Path), http.StatusFound)
}

// SessionFromContext извлекает SessionData из контекста запроса.
// Возвращает nil если сессия не найдена (не прошёл через UIAuth middleware).
func SessionFromContext(ctx context.Context) *auth.SessionData {
	data, ok := ctx.Value(ContextKeyUISession).(*auth.SessionData)
	if !ok {
		return nil
	}
	return data
}

// ServerSessionFromContext извлекает серверную сессию из контекста запроса.
func ServerSessionFromContext(ctx context.Context) *session.Session {
	s, ok := ctx.Value(ContextKeyServerSession).(*session.Session)
	if !ok {
		return nil
	}
	return s
}

// MemberFromContext возвращает профиль пользователя запроса.
func MemberFromContext(ctx context.Context) model.Member {
	if data := SessionFromContext(ctx); data != nil {
		return data.Member()
	}
	return model.Member{}
}
