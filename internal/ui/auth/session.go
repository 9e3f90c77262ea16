// Пакет auth — аутентификация пользователей дашборда:
// зашифрованные cookie (сессия и состояние входа), OIDC-клиент Keycloak
// с PKCE и проверка access token по JWKS.
package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
)

const (
	// SessionCookieName — cookie сессии дашборда.
	SessionCookieName = "memberhub_session"
	// SessionCookieMaxAge — срок жизни cookie сессии, секунды.
	SessionCookieMaxAge = 24 * 60 * 60

	// LoginStateCookieName — cookie с state и code_verifier незавершённого входа.
	LoginStateCookieName = "memberhub_auth_state"
	// LoginStateTTL — сколько ждём возврата из Keycloak.
	LoginStateTTL = 5 * time.Minute

	// refreshLeeway — за сколько до истечения access token считается просроченным.
	refreshLeeway = 30
)

// ErrLoginStateExpired — вход начат слишком давно или state cookie нет.
var ErrLoginStateExpired = errors.New("состояние входа отсутствует или истекло")

// SessionData — содержимое cookie сессии. Роли сюда не попадают:
// они живут в серверной сессии с идентификатором SessionID.
type SessionData struct {
	SessionID    string `json:"sid"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresAt — истечение access token, Unix time.
	ExpiresAt int64  `json:"expires_at"`
	UserID    string `json:"sub"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
}

// IsExpired сообщает, что access token пора обновлять.
func (s *SessionData) IsExpired() bool {
	return time.Now().Unix() >= s.ExpiresAt-refreshLeeway
}

// Member возвращает профиль пользователя сессии.
func (s *SessionData) Member() model.Member {
	return model.Member{
		ID:       s.UserID,
		Username: s.Username,
		Email:    s.Email,
		Name:     s.Name,
	}
}

// LoginState — незавершённый вход: state для сверки в callback, PKCE verifier
// и маршрут, на который пользователь вернётся после входа.
type LoginState struct {
	State        string `json:"state"`
	CodeVerifier string `json:"code_verifier"`
	ReturnTo     string `json:"return_to,omitempty"`
	IssuedAt     int64  `json:"iat"`
}

// SessionManager запечатывает данные в cookie через AES-256-GCM.
// Имя cookie входит в associated data: содержимое одного cookie
// нельзя подставить в другой.
type SessionManager struct {
	aead   cipher.AEAD
	secure bool
	now    func() time.Time
}

// NewSessionManager создаёт менеджер cookie.
// key — base64 от 32 байт либо произвольная строка (из неё берётся SHA-256).
// Пустой key — случайный ключ, сессии не переживают рестарт.
func NewSessionManager(key string, secure bool) (*SessionManager, error) {
	keyBytes, err := sessionKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}
	return &SessionManager{aead: aead, secure: secure, now: time.Now}, nil
}

func sessionKey(key string) ([]byte, error) {
	if key == "" {
		b := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, b); err != nil {
			return nil, fmt.Errorf("ошибка генерации ключа сессии: %w", err)
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) == 32 {
		return b, nil
	}
	sum := sha256.Sum256([]byte(key))
	return sum[:], nil
}

// seal сериализует v и шифрует его для cookie name.
func (sm *SessionManager) seal(name string, v any) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации %s: %w", name, err)
	}
	nonce := make([]byte, sm.aead.NonceSize(), sm.aead.NonceSize()+len(plaintext)+sm.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("ошибка генерации nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sm.aead.Seal(nonce, nonce, plaintext, []byte(name))), nil
}

// open расшифровывает значение cookie name в v.
func (sm *SessionManager) open(name, value string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return fmt.Errorf("cookie %s: ошибка декодирования: %w", name, err)
	}
	ns := sm.aead.NonceSize()
	if len(raw) < ns {
		return fmt.Errorf("cookie %s: данные слишком короткие", name)
	}
	plaintext, err := sm.aead.Open(nil, raw[:ns], raw[ns:], []byte(name))
	if err != nil {
		return fmt.Errorf("cookie %s: ошибка дешифрования: %w", name, err)
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("cookie %s: ошибка десериализации: %w", name, err)
	}
	return nil
}

func (sm *SessionManager) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Encrypt запечатывает SessionData в значение cookie сессии.
func (sm *SessionManager) Encrypt(data *SessionData) (string, error) {
	return sm.seal(SessionCookieName, data)
}

// Decrypt восстанавливает SessionData из значения cookie сессии.
func (sm *SessionManager) Decrypt(value string) (*SessionData, error) {
	var data SessionData
	if err := sm.open(SessionCookieName, value, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// SetSessionCookie записывает cookie сессии в ответ.
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, data *SessionData) error {
	value, err := sm.Encrypt(data)
	if err != nil {
		return err
	}
	http.SetCookie(w, sm.cookie(SessionCookieName, value, SessionCookieMaxAge))
	return nil
}

// GetSessionFromRequest читает cookie сессии. Нет cookie — nil, nil.
func (sm *SessionManager) GetSessionFromRequest(r *http.Request) (*SessionData, error) {
	c, err := r.Cookie(SessionCookieName)
	if errors.Is(err, http.ErrNoCookie) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sm.Decrypt(c.Value)
}

// ClearSessionCookie удаляет cookie сессии (выход).
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, sm.cookie(SessionCookieName, "", -1))
}

// SetLoginState сохраняет состояние начатого входа.
func (sm *SessionManager) SetLoginState(w http.ResponseWriter, state, codeVerifier, returnTo string) error {
	value, err := sm.seal(LoginStateCookieName, &LoginState{
		State:        state,
		CodeVerifier: codeVerifier,
		ReturnTo:     returnTo,
		IssuedAt:     sm.now().Unix(),
	})
	if err != nil {
		return err
	}
	http.SetCookie(w, sm.cookie(LoginStateCookieName, value, int(LoginStateTTL/time.Second)))
	return nil
}

// TakeLoginState читает состояние входа и сразу удаляет cookie: callback
// с одним state принимается не больше одного раза.
func (sm *SessionManager) TakeLoginState(w http.ResponseWriter, r *http.Request) (*LoginState, error) {
	c, err := r.Cookie(LoginStateCookieName)
	if err != nil {
		return nil, ErrLoginStateExpired
	}
	http.SetCookie(w, sm.cookie(LoginStateCookieName, "", -1))

	var ls LoginState
	if err := sm.open(LoginStateCookieName, c.Value, &ls); err != nil {
		return nil, err
	}
	if sm.now().Sub(time.Unix(ls.IssuedAt, 0)) > LoginStateTTL {
		return nil, ErrLoginStateExpired
	}
	return &ls, nil
}
