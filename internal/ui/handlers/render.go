package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-h/templ"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
)

// flashCookieName — уведомления, которые нужно показать после redirect
// (сессии уже или ещё нет, очередь эффектов недоступна).
const flashCookieName = "memberhub_flash"

// flashSeverity — уровень для уведомлений, передаваемых через cookie.
var flashSeverity = map[string]model.Severity{
	model.NotifySignedOut:  model.SeverityInfo,
	model.NotifyAuthFailed: model.SeverityDestructive,
}

// render отрисовывает компонент страницы с указанным статусом.
func render(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	if err := c.Render(r.Context(), w); err != nil {
		// Заголовки уже отправлены, остаётся только залогировать
		logger.Error("Ошибка рендеринга страницы",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// setFlash добавляет уведомление в flash cookie.
func setFlash(w http.ResponseWriter, key string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    key,
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// takeFlash читает и удаляет flash cookie. Неизвестные ключи игнорируются.
func takeFlash(w http.ResponseWriter, r *http.Request, secure bool) []model.Notification {
	c, err := r.Cookie(flashCookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})

	var out []model.Notification
	for _, key := range strings.Split(c.Value, ",") {
		if sev, ok := flashSeverity[key]; ok {
			out = append(out, model.Notification{Key: key, Severity: sev})
		}
	}
	return out
}
