// policy.go — статическая таблица доступа к вкладкам дашборда и маршруты по умолчанию.
package rbac

import (
	"net/url"
	"strings"
)

// Tab — идентификатор раздела дашборда.
type Tab string

// Вкладки дашборда.
const (
	TabDashboard  Tab = "dashboard"
	TabUsers      Tab = "users"
	TabFinancials Tab = "financials"
	TabSystem     Tab = "system"
)

// Маршруты, не являющиеся вкладками.
const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

// Tabs — все вкладки в порядке отображения в навигации.
var Tabs = []Tab{TabDashboard, TabUsers, TabFinancials, TabSystem}

// tabAccess — вкладка → роли, которым она доступна.
// Неизменяемая таблица на всё время жизни процесса.
var tabAccess = map[Tab][]Role{
	TabDashboard:  {RoleAdmin, RoleCollector, RoleMember},
	TabUsers:      {RoleAdmin, RoleCollector},
	TabFinancials: {RoleAdmin, RoleCollector},
	TabSystem:     {RoleAdmin},
}

// ParseTab проверяет, что строка — известная вкладка.
func ParseTab(s string) (Tab, bool) {
	t := Tab(s)
	_, ok := tabAccess[t]
	return t, ok
}

// AllowedRoles возвращает роли, которым доступна вкладка (nil для неизвестной).
func AllowedRoles(tab Tab) []Role {
	roles, ok := tabAccess[tab]
	if !ok {
		return nil
	}
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// CanAccessTab решает, доступна ли вкладка набору ролей.
// Fail-closed: неизвестная вкладка и незагруженный (nil) набор — всегда false,
// в том числе для dashboard.
func CanAccessTab(set RoleSet, tab string) bool {
	if set == nil {
		return false
	}
	allowed, ok := tabAccess[Tab(tab)]
	if !ok {
		return false
	}
	return HasAnyRole(set, allowed...)
}

// DefaultRoute возвращает стартовый маршрут для набора ролей.
// Пустой или nil-набор → /login; иначе по старшей роли:
// admin → /system, collector → /users, member → /dashboard.
func DefaultRoute(set RoleSet) string {
	primary, ok := set.Primary()
	if !ok {
		return LoginPath
	}
	switch primary {
	case RoleAdmin:
		return TabPath(TabSystem)
	case RoleCollector:
		return TabPath(TabUsers)
	default:
		return DashboardPath
	}
}

// TabFromPath извлекает вкладку из первого сегмента пути.
// Пустой и нераспознанный сегмент → dashboard.
func TabFromPath(path string) Tab {
	segment := strings.TrimPrefix(path, "/")
	if i := strings.IndexAny(segment, "/?#"); i >= 0 {
		segment = segment[:i]
	}
	if tab, ok := ParseTab(segment); ok {
		return tab
	}
	return TabDashboard
}

// TabPath возвращает маршрут вкладки: dashboard → "/", остальные → "/<tab>".
func TabPath(tab Tab) string {
	if tab == TabDashboard {
		return "/"
	}
	return "/" + string(tab)
}

// ReturnPath проверяет адрес возврата после входа. Допустим только маршрут
// вкладки ("/", "/dashboard", "/users", ...): абсолютные URL, "//host" и
// прочие пути отклоняются.
func ReturnPath(raw string) (string, bool) {
	if raw == "" || raw[0] != '/' || strings.HasPrefix(raw, "//") {
		return "", false
	}
	for _, tab := range Tabs {
		if raw == TabPath(tab) || raw == "/"+string(tab) {
			return raw, true
		}
	}
	return "", false
}

// LoginURL — страница входа, после которой пользователь вернётся на returnTo.
func LoginURL(returnTo string) string {
	path, ok := ReturnPath(returnTo)
	if !ok || path == "/" {
		return LoginPath
	}
	return LoginPath + "?" + url.Values{"next": {path}}.Encode()
}

// VisibleTabs возвращает вкладки боковой панели.
// Dashboard показывается всегда, остальные — только для загруженного набора
// и только разрешённые ему.
func VisibleTabs(set RoleSet) []Tab {
	tabs := []Tab{TabDashboard}
	if set == nil {
		return tabs
	}
	for _, tab := range Tabs {
		if tab != TabDashboard && CanAccessTab(set, string(tab)) {
			tabs = append(tabs, tab)
		}
	}
	return tabs
}
