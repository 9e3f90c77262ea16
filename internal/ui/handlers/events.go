// events.go — служебные endpoints серверной сессии дашборда:
// состояние шлюза, переключение вкладок, обновление ролей и
// SSE-поток эффектов (уведомления и навигация).
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
	"github.com/bigkaa/memberhub/access-module/internal/gate"
	"github.com/bigkaa/memberhub/access-module/internal/service"
	"github.com/bigkaa/memberhub/access-module/internal/session"
	uimiddleware "github.com/bigkaa/memberhub/access-module/internal/ui/middleware"
)

// EventsHandler — обработчик /session/* endpoints.
type EventsHandler struct {
	keepAlive time.Duration
	logger    *slog.Logger
}

// NewEventsHandler создаёт новый EventsHandler.
// keepAlive — интервал SSE-комментариев, удерживающих соединение (AC_SSE_KEEPALIVE).
func NewEventsHandler(keepAlive time.Duration, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		keepAlive: keepAlive,
		logger:    logger.With(slog.String("component", "ui.events")),
	}
}

// stateResponse — состояние шлюза доступа сессии.
type stateResponse struct {
	State       gate.State   `json:"state"`
	Tab         rbac.Tab     `json:"tab,omitempty"`
	Route       string       `json:"route,omitempty"`
	UserID      string       `json:"user_id,omitempty"`
	Roles       []string     `json:"roles"`
	PrimaryRole *rbac.Role   `json:"primary_role,omitempty"`
	Loading     bool         `json:"loading"`
	Error       string       `json:"error,omitempty"`
	Tabs        []rbac.Tab   `json:"tabs"`
	Member      model.Member `json:"member"`
}

// HandleState — GET /session/state.
func (h *EventsHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	srv := uimiddleware.ServerSessionFromContext(r.Context())
	if srv == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	snap := srv.Gate.Snapshot()
	resp := stateResponse{
		State:       snap.State,
		Tab:         snap.Tab,
		Route:       snap.Route,
		UserID:      snap.UserID,
		Roles:       snap.Roles.Strings(),
		PrimaryRole: snap.Role,
		Loading:     snap.Loading,
		Tabs:        rbac.VisibleTabs(snap.Roles),
		Member:      srv.Member(),
	}
	if resp.Roles == nil {
		resp.Roles = []string{}
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleTab — POST /session/tab?tab=<tab>.
// Отказ не является ошибкой HTTP: решение приходит в теле ответа,
// уведомление — через поток эффектов.
func (h *EventsHandler) HandleTab(w http.ResponseWriter, r *http.Request) {
	srv := uimiddleware.ServerSessionFromContext(r.Context())
	if srv == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	tab := r.FormValue("tab")
	if tab == "" {
		http.Error(w, "Параметр tab обязателен", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, srv.Gate.RequestTab(tab))
}

// refreshResponse — результат ручного обновления ролей.
type refreshResponse struct {
	Roles []string `json:"roles"`
	Error string   `json:"error,omitempty"`
}

// HandleRefresh — POST /session/refresh.
func (h *EventsHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	srv := uimiddleware.ServerSessionFromContext(r.Context())
	if srv == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	roles, err := srv.Gate.Refresh(r.Context())
	switch {
	case errors.Is(err, gate.ErrNoSession):
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	case err != nil:
		status := http.StatusServiceUnavailable
		var fetchErr *service.FetchError
		if !errors.As(err, &fetchErr) && !errors.Is(err, service.ErrUserUnknown) {
			status = http.StatusInternalServerError
		}
		h.logger.Warn("Ручное обновление ролей не удалось",
			slog.String("user_id", srv.Member().ID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, refreshResponse{Roles: []string{}, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Roles: roles.Strings()})
}

// HandleEvents — GET /session/events, SSE endpoint.
// Формат: event: notify|navigate\ndata: {json}\n\n.
// Накопленные до подключения уведомления отправляются сразу.
// Поток закрывается при отключении клиента или закрытии сессии.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	srv := uimiddleware.ServerSessionFromContext(r.Context())
	if srv == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Отключаем буферизацию Nginx

	// ResponseController находит http.Flusher через Unwrap() обёрток middleware.
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		http.Error(w, "SSE не поддерживается", http.StatusInternalServerError)
		return
	}
	// Поток живёт дольше WriteTimeout сервера
	_ = rc.SetWriteDeadline(time.Time{})

	effects, cancel := srv.Effects.Subscribe()
	defer cancel()

	ctx := r.Context()
	h.logger.Debug("SSE клиент подключён",
		slog.String("user_id", srv.Member().ID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE клиент отключён", slog.String("user_id", srv.Member().ID))
			return
		case e, ok := <-effects:
			if !ok {
				// Сессия закрыта (выход или вытеснение)
				return
			}
			if err := h.sendEffect(w, rc, e); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// sendEffect отправляет один эффект сессии.
func (h *EventsHandler) sendEffect(w http.ResponseWriter, rc *http.ResponseController, e session.Effect) error {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("Ошибка сериализации эффекта", slog.String("error", err.Error()))
		return nil
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data); err != nil {
		return err
	}
	return rc.Flush()
}

// writeJSON записывает JSON-ответ.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
