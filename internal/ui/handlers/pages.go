// pages.go — страницы вкладок дашборда и экраны ожидания/недоступности.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
	uimiddleware "github.com/bigkaa/memberhub/access-module/internal/ui/middleware"
	"github.com/bigkaa/memberhub/access-module/internal/ui/pages"
)

// RoleCounter — подсчёт пользователей по ролям (только источник postgres).
type RoleCounter interface {
	CountByRole(ctx context.Context) (map[string]int, error)
}

// HealthReporter — состояние внешних зависимостей (topologymetrics).
type HealthReporter interface {
	Health() map[string]bool
}

// SessionCounter — число активных сессий.
type SessionCounter interface {
	Len() int
}

// SystemInfo — сведения о сервисе для вкладки system.
type SystemInfo struct {
	Version      string
	RoleSource   string
	PollInterval time.Duration
	SyncAttempts int
}

// PagesHandler — обработчик вкладок дашборда.
type PagesHandler struct {
	counter  RoleCounter    // nil — источник не умеет считать
	health   HealthReporter // может быть nil
	sessions SessionCounter
	info     SystemInfo
	logger   *slog.Logger
}

// NewPagesHandler создаёт новый PagesHandler.
func NewPagesHandler(
	counter RoleCounter,
	health HealthReporter,
	sessions SessionCounter,
	info SystemInfo,
	logger *slog.Logger,
) *PagesHandler {
	return &PagesHandler{
		counter:  counter,
		health:   health,
		sessions: sessions,
		info:     info,
		logger:   logger.With(slog.String("component", "ui.pages")),
	}
}

// layout собирает каркас страницы из серверной сессии запроса.
func (h *PagesHandler) layout(r *http.Request, titleKey string, active rbac.Tab) pages.Layout {
	l := pages.Layout{
		TitleKey: titleKey,
		Member:   uimiddleware.MemberFromContext(r.Context()),
		Active:   active,
		Nav:      rbac.VisibleTabs(nil),
		Session:  true,
	}
	if srv := uimiddleware.ServerSessionFromContext(r.Context()); srv != nil {
		snap := srv.Gate.Snapshot()
		l.Nav = rbac.VisibleTabs(snap.Roles)
		l.Role = snap.Role
		l.Flash = srv.Effects.Drain()
	}
	return l
}

func (h *PagesHandler) renderTab(w http.ResponseWriter, r *http.Request, tab rbac.Tab, content templ.Component) {
	render(w, r, h.logger, http.StatusOK, pages.Page(h.layout(r, "tab."+string(tab), tab), content))
}

// HandleDashboard — GET / и GET /dashboard.
func (h *PagesHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	data := pages.DashboardData{Member: uimiddleware.MemberFromContext(r.Context())}
	if srv := uimiddleware.ServerSessionFromContext(r.Context()); srv != nil {
		data.Roles = srv.Store.Roles().Slice()
	}
	h.renderTab(w, r, rbac.TabDashboard, pages.Dashboard(data))
}

// HandleUsers — GET /users.
func (h *PagesHandler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	var data pages.UsersData
	if h.counter != nil {
		data.Counts, data.Err = h.counter.CountByRole(r.Context())
		if data.Err != nil {
			h.logger.Error("Ошибка подсчёта пользователей по ролям", slog.String("error", data.Err.Error()))
		}
	}
	h.renderTab(w, r, rbac.TabUsers, pages.Users(data))
}

// HandleFinancials — GET /financials.
func (h *PagesHandler) HandleFinancials(w http.ResponseWriter, r *http.Request) {
	h.renderTab(w, r, rbac.TabFinancials, pages.Financials())
}

// HandleSystem — GET /system.
func (h *PagesHandler) HandleSystem(w http.ResponseWriter, r *http.Request) {
	data := pages.SystemData{
		Version:      h.info.Version,
		RoleSource:   h.info.RoleSource,
		PollInterval: h.info.PollInterval.String(),
		SyncAttempts: h.info.SyncAttempts,
		Dependencies: dependencyStatuses(h.health),
	}
	if h.sessions != nil {
		data.ActiveSessions = h.sessions.Len()
	}
	h.renderTab(w, r, rbac.TabSystem, pages.System(data))
}

// HandlePending — экран ожидания: сессия проверяется или роли загружаются.
// Страница сама опрашивает /session/state и перезагружается по готовности.
func (h *PagesHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	l := h.layout(r, "title.pending", "")
	l.Pending = true
	render(w, r, h.logger, http.StatusOK, pages.Page(l, pages.Pending()))
}

// HandleUnavailable — роли получить не удалось, доступ закрыт.
func (h *PagesHandler) HandleUnavailable(w http.ResponseWriter, r *http.Request) {
	l := h.layout(r, "title.unavailable", "")
	render(w, r, h.logger, http.StatusServiceUnavailable, pages.Page(l, pages.Unavailable()))
}

// dependencyStatuses переводит Health() в строки таблицы.
// Ключи topologymetrics имеют вид "dependency:host:port";
// зависимость здорова, только если здоровы все её endpoints.
func dependencyStatuses(health HealthReporter) []pages.DependencyStatus {
	if health == nil {
		return nil
	}
	byName := make(map[string]bool)
	for key, ok := range health.Health() {
		name, _, _ := strings.Cut(key, ":")
		prev, seen := byName[name]
		byName[name] = ok && (!seen || prev)
	}

	out := make([]pages.DependencyStatus, 0, len(byName))
	for name, ok := range byName {
		out = append(out, pages.DependencyStatus{Name: name, Healthy: ok})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
