// auth.go — Bearer middleware для API access-module.
// Подпись, срок действия и issuer проверяет auth.TokenVerifier (JWKS Keycloak).
// Роли в токене не используются: они загружаются из источника ролей отдельно.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/memberhub/access-module/internal/api/errors"
	"github.com/bigkaa/memberhub/access-module/internal/ui/auth"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyIdentity — владелец проверенного токена в контексте запроса.
	ContextKeyIdentity contextKey = "identity"
)

// TokenVerifier — проверка access token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Identity, error)
}

// BearerAuth — middleware JWT-аутентификации API.
type BearerAuth struct {
	verifier TokenVerifier
	logger   *slog.Logger
}

// NewBearerAuth создаёт middleware поверх verifier.
func NewBearerAuth(verifier TokenVerifier, logger *slog.Logger) *BearerAuth {
	return &BearerAuth{
		verifier: verifier,
		logger:   logger.With(slog.String("component", "bearer_auth")),
	}
}

// Middleware извлекает Bearer token, проверяет его и помещает Identity в контекст.
func (b *BearerAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Write(w, apierrors.Unauthorized("Отсутствует заголовок Authorization", false))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Write(w, apierrors.Unauthorized("Неверный формат Authorization: ожидается Bearer <token>", false))
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				apierrors.Write(w, apierrors.Unauthorized("Пустой Bearer token", false))
				return
			}

			identity, err := b.verifier.Verify(r.Context(), tokenString)
			if err != nil {
				b.logger.Debug("Токен отклонён",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Write(w, apierrors.Unauthorized("Невалидный или просроченный токен", true))
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyIdentity, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext извлекает Identity из контекста запроса.
// Возвращает nil, если запрос не прошёл через BearerAuth.
func IdentityFromContext(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(ContextKeyIdentity).(*auth.Identity)
	return id
}
