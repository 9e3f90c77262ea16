// Пакет errors — ошибки JSON API в формате {"error": {"code", "message"}}.
package errors

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Коды ошибок из OpenAPI контракта.
const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeRolesUnavailable = "ROLES_UNAVAILABLE"
	CodeInternalError    = "INTERNAL_ERROR"
)

// rolesRetryAfter — подсказка клиенту, когда повторить запрос при недоступном источнике ролей.
const rolesRetryAfter = 5 * time.Second

// Error — ответ API с ошибкой.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	// RetryAfter > 0 добавляет заголовок Retry-After.
	RetryAfter time.Duration `json:"-"`
	// challenge — значение WWW-Authenticate для 401.
	challenge string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Write отправляет ошибку клиенту.
func Write(w http.ResponseWriter, e *Error) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	if e.challenge != "" {
		h.Set("WWW-Authenticate", e.challenge)
	}
	if e.RetryAfter > 0 {
		h.Set("Retry-After", strconv.Itoa(int(e.RetryAfter.Round(time.Second)/time.Second)))
	}
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(struct {
		Error *Error `json:"error"`
	}{e})
}

// Validation — 400, запрос не соответствует контракту.
func Validation(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: CodeValidationError, Message: message}
}

// MethodNotAllowed — 405, путь есть в контракте, метода нет.
func MethodNotAllowed(method string) *Error {
	return &Error{Status: http.StatusMethodNotAllowed, Code: CodeMethodNotAllowed, Message: "Метод не поддерживается: " + method}
}

// Unauthorized — 401 с Bearer challenge (RFC 6750). invalidToken отличает
// отвергнутый токен от запроса без токена.
func Unauthorized(message string, invalidToken bool) *Error {
	challenge := `Bearer realm="access-module"`
	if invalidToken {
		challenge += `, error="invalid_token"`
	}
	return &Error{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: message, challenge: challenge}
}

// Forbidden — 403, пользователь не зарегистрирован в источнике ролей.
func Forbidden(message string) *Error {
	return &Error{Status: http.StatusForbidden, Code: CodeForbidden, Message: message}
}

// RolesUnavailable — 503, роли получить не удалось, повтор возможен.
func RolesUnavailable(message string) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Code: CodeRolesUnavailable, Message: message, RetryAfter: rolesRetryAfter}
}

// Internal — 500.
func Internal() *Error {
	return &Error{Status: http.StatusInternalServerError, Code: CodeInternalError, Message: "Внутренняя ошибка сервера"}
}
