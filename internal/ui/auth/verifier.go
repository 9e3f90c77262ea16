// verifier.go — проверка access token Keycloak по JWKS.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
)

// ErrTokenMissing — токен не передан.
var ErrTokenMissing = errors.New("токен отсутствует")

// AuthError — проверка сессии (токена) не удалась.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ошибка аутентификации: %s: %v", e.Reason, e.Err)
	}
	return "ошибка аутентификации: " + e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Identity — подтверждённый владелец токена.
type Identity struct {
	Subject   string
	Username  string
	Email     string
	Name      string
	ExpiresAt time.Time
}

// Member возвращает профиль пользователя.
func (i *Identity) Member() model.Member {
	return model.Member{ID: i.Subject, Username: i.Username, Email: i.Email, Name: i.Name}
}

// keycloakClaims — claims access token Keycloak, нужные модулю.
type keycloakClaims struct {
	jwt.RegisteredClaims
	// AuthorizedParty — client, которому Keycloak выдал токен
	AuthorizedParty   string `json:"azp"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	Name              string `json:"name,omitempty"`
}

// TokenVerifier проверяет подпись (RS256), срок действия, issuer и azp токена.
type TokenVerifier struct {
	jwks    keyfunc.Keyfunc
	parser  *jwt.Parser
	parties []string
	logger  *slog.Logger
}

// VerifierConfig — параметры проверки токенов.
type VerifierConfig struct {
	// JWKSURL — URL JWKS endpoint Keycloak
	JWKSURL string
	// HTTPClient — клиент для загрузки JWKS (nil — http.DefaultClient)
	HTTPClient *http.Client
	// RefreshInterval — интервал обновления ключей (AC_JWKS_REFRESH_INTERVAL)
	RefreshInterval time.Duration
	// Issuer — ожидаемый iss (пустой — не проверяется)
	Issuer string
	// Leeway — допустимое расхождение часов (AC_JWT_LEEWAY)
	Leeway time.Duration
	// AuthorizedParties — допустимые azp (AC_JWT_AUTHORIZED_PARTIES); пусто — любой client realm
	AuthorizedParties []string
}

// NewTokenVerifier создаёт verifier с фоновым обновлением JWKS.
func NewTokenVerifier(cfg VerifierConfig, logger *slog.Logger) (*TokenVerifier, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	// NoErrorReturnFirstHTTPReq — стартуем даже если Keycloak ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", cfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewTokenVerifierWithKeyfunc(k, cfg, logger), nil
}

// NewTokenVerifierWithKeyfunc создаёт verifier с готовой keyfunc
// (в тестах — JWKS из памяти). Поля загрузки JWKS в cfg не используются.
func NewTokenVerifierWithKeyfunc(kf keyfunc.Keyfunc, cfg VerifierConfig, logger *slog.Logger) *TokenVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &TokenVerifier{
		jwks:    kf,
		parser:  jwt.NewParser(opts...),
		parties: cfg.AuthorizedParties,
		logger:  logger.With(slog.String("component", "token_verifier")),
	}
}

// Verify проверяет токен и возвращает владельца.
// Любая ошибка проверки — *AuthError.
func (v *TokenVerifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, &AuthError{Reason: "пустой токен", Err: ErrTokenMissing}
	}

	claims := &keycloakClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, v.jwks.KeyfuncCtx(ctx))
	if err != nil {
		v.logger.Debug("JWT валидация не пройдена", slog.String("error", err.Error()))
		return nil, &AuthError{Reason: "невалидный или просроченный токен", Err: err}
	}
	if !token.Valid {
		return nil, &AuthError{Reason: "невалидный токен"}
	}
	if len(v.parties) > 0 && !slices.Contains(v.parties, claims.AuthorizedParty) {
		return nil, &AuthError{Reason: fmt.Sprintf("токен выдан client %q", claims.AuthorizedParty)}
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, &AuthError{Reason: "отсутствует sub в токене", Err: err}
	}

	id := &Identity{
		Subject:  subject,
		Username: claims.PreferredUsername,
		Email:    claims.Email,
		Name:     claims.Name,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}
