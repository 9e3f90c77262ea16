// access.go — обработчики /api/v1/access endpoints.
// Роли берутся из источника ролей (с кэшем), а не из claims токена.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/memberhub/access-module/internal/api/errors"
	"github.com/bigkaa/memberhub/access-module/internal/api/middleware"
	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
	"github.com/bigkaa/memberhub/access-module/internal/service"
)

// AccessInfo — ответ GET /api/v1/access/me.
type AccessInfo struct {
	Id           string               `json:"id"` //nolint:revive // имя поля из OpenAPI контракта
	Username     string               `json:"username"`
	Email        *openapi_types.Email `json:"email,omitempty"`
	Name         string               `json:"name,omitempty"`
	Roles        []string             `json:"roles"`
	PrimaryRole  string               `json:"primary_role"`
	DefaultRoute string               `json:"default_route"`
	Tabs         []rbac.Tab           `json:"tabs"`
}

// AccessCheck — ответ GET /api/v1/access/check.
type AccessCheck struct {
	Tab          rbac.Tab `json:"tab"`
	Allowed      bool     `json:"allowed"`
	Roles        []string `json:"roles"`
	DefaultRoute string   `json:"default_route"`
}

// PolicyEntry — строка таблицы доступа.
type PolicyEntry struct {
	Tab   rbac.Tab `json:"tab"`
	Path  string   `json:"path"`
	Roles []string `json:"roles"`
}

// PolicyResponse — ответ GET /api/v1/access/policy.
type PolicyResponse struct {
	Tabs []PolicyEntry `json:"tabs"`
}

// GetAccessMe — GET /api/v1/access/me.
// Профиль из токена, роли из источника ролей.
func (h *APIHandler) GetAccessMe(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		apierrors.Write(w, apierrors.Unauthorized("Отсутствует identity в контексте", false))
		return
	}

	roles, ok := h.resolveRoles(w, r, identity.Subject)
	if !ok {
		return
	}

	resp := AccessInfo{
		Id:           identity.Subject,
		Username:     identity.Username,
		Name:         identity.Name,
		Roles:        roles.Strings(),
		DefaultRoute: rbac.DefaultRoute(roles),
		Tabs:         rbac.VisibleTabs(roles),
	}
	if primary, ok := rbac.PrimaryRole(roles); ok {
		resp.PrimaryRole = string(primary)
	}
	if identity.Email != "" {
		email := openapi_types.Email(identity.Email)
		resp.Email = &email
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetAccessCheck — GET /api/v1/access/check?tab=<tab>.
// Отказ — не ошибка: allowed=false и маршрут по умолчанию.
// Вкладка вне контракта — 400, как описано в openapi.yaml.
func (h *APIHandler) GetAccessCheck(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		apierrors.Write(w, apierrors.Unauthorized("Отсутствует identity в контексте", false))
		return
	}

	var tab string
	if err := runtime.BindQueryParameter("form", true, true, "tab", r.URL.Query(), &tab); err != nil {
		apierrors.Write(w, apierrors.Validation("Некорректный параметр tab: "+err.Error()))
		return
	}
	if _, known := rbac.ParseTab(tab); !known {
		apierrors.Write(w, apierrors.Validation("Неизвестная вкладка: "+tab))
		return
	}

	roles, ok := h.resolveRoles(w, r, identity.Subject)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, AccessCheck{
		Tab:          rbac.Tab(tab),
		Allowed:      rbac.CanAccessTab(roles, tab),
		Roles:        roles.Strings(),
		DefaultRoute: rbac.DefaultRoute(roles),
	})
}

// GetAccessPolicy — GET /api/v1/access/policy.
// Статическая таблица доступа; роли вызывающего не запрашиваются.
func (h *APIHandler) GetAccessPolicy(w http.ResponseWriter, r *http.Request) {
	resp := PolicyResponse{Tabs: make([]PolicyEntry, 0, len(rbac.Tabs))}
	for _, tab := range rbac.Tabs {
		allowed := rbac.AllowedRoles(tab)
		names := make([]string, len(allowed))
		for i, role := range allowed {
			names[i] = string(role)
		}
		resp.Tabs = append(resp.Tabs, PolicyEntry{Tab: tab, Path: rbac.TabPath(tab), Roles: names})
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveRoles получает роли пользователя и пишет ответ-ошибку при неудаче.
func (h *APIHandler) resolveRoles(w http.ResponseWriter, r *http.Request, userID string) (rbac.RoleSet, bool) {
	roles, err := h.resolver.Resolve(r.Context(), userID)
	if err == nil {
		return roles, true
	}

	var fetchErr *service.FetchError
	switch {
	case errors.Is(err, service.ErrUserUnknown):
		apierrors.Write(w, apierrors.Forbidden("Пользователь не зарегистрирован в источнике ролей"))
	case errors.Is(err, context.Canceled):
		// Клиент отключился, отвечать некому
	case errors.As(err, &fetchErr):
		h.logger.Warn("Роли пользователя недоступны",
			slog.String("user_id", userID),
			slog.Int("attempts", fetchErr.Attempts),
			slog.String("error", err.Error()),
		)
		apierrors.Write(w, apierrors.RolesUnavailable("Не удалось получить роли пользователя"))
	default:
		h.logger.Error("Ошибка получения ролей",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		apierrors.Write(w, apierrors.Internal())
	}
	return nil, false
}
