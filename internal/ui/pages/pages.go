package pages

import (
	"context"
	"io"
	"sort"
	"strconv"

	"github.com/a-h/templ"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
	"github.com/bigkaa/memberhub/access-module/internal/ui/i18n"
)

// DashboardData — данные главной страницы.
type DashboardData struct {
	Member model.Member
	Roles  []rbac.Role
}

// Dashboard — профиль пользователя и его роли.
func Dashboard(d DashboardData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<section class="card"><h2>`)
		h.text(i18n.Tf(ctx, "dashboard.welcome", displayName(d.Member)))
		h.raw(`</h2><p>`)
		h.text(d.Member.Email)
		h.raw(`</p></section><section class="card"><h3>`)
		h.text(i18n.T(ctx, "dashboard.roles"))
		h.raw(`</h3><div>`)
		for _, r := range d.Roles {
			h.raw(`<span class="badge">`)
			h.text(i18n.RoleLabel(ctx, r))
			h.raw(`</span>`)
		}
		h.raw(`</div><p><button type="button" id="refresh-roles">`)
		h.text(i18n.T(ctx, "action.refresh_roles"))
		h.raw(`</button></p></section>`)
		return h.err
	})
}

// UsersData — данные страницы пользователей.
type UsersData struct {
	// Counts — число пользователей по ролям; nil — источник не умеет считать
	Counts map[string]int
	// Err — ошибка получения счётчиков
	Err error
}

// Users — распределение пользователей по ролям и таблица доступа.
func Users(d UsersData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<section class="card"><h3>`)
		h.text(i18n.T(ctx, "users.by_role"))
		h.raw(`</h3>`)
		switch {
		case d.Err != nil:
			h.raw(`<p class="status-fail">`)
			h.text(i18n.T(ctx, "users.counts_failed"))
			h.raw(`</p>`)
		case d.Counts == nil:
			h.raw(`<p>`)
			h.text(i18n.T(ctx, "users.counts_unsupported"))
			h.raw(`</p>`)
		default:
			h.raw(`<table><tr><th>`)
			h.text(i18n.T(ctx, "users.role"))
			h.raw(`</th><th>`)
			h.text(i18n.T(ctx, "users.count"))
			h.raw(`</th></tr>`)
			keys := make([]string, 0, len(d.Counts))
			for k := range d.Counts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				h.raw(`<tr><td>`)
				if role, err := rbac.ParseRole(k); err == nil {
					h.text(i18n.RoleLabel(ctx, role))
				} else {
					h.text(k)
				}
				h.raw(`</td><td>`)
				h.text(strconv.Itoa(d.Counts[k]))
				h.raw(`</td></tr>`)
			}
			h.raw(`</table>`)
		}
		h.raw(`</section>`)
		h.component(ctx, policyTable())
		return h.err
	})
}

// policyTable — какие роли видят какие вкладки.
func policyTable() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<section class="card"><h3>`)
		h.text(i18n.T(ctx, "users.policy"))
		h.raw(`</h3><table>`)
		for _, tab := range rbac.Tabs {
			h.raw(`<tr><td>`)
			h.text(i18n.TabLabel(ctx, tab))
			h.raw(`</td><td>`)
			for _, r := range rbac.AllowedRoles(tab) {
				h.raw(`<span class="badge">`)
				h.text(i18n.RoleLabel(ctx, r))
				h.raw(`</span>`)
			}
			h.raw(`</td></tr>`)
		}
		h.raw(`</table></section>`)
		return h.err
	})
}

// Financials — раздел взносов (доступен admin и collector).
func Financials() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<section class="card"><p>`)
		h.text(i18n.T(ctx, "financials.empty"))
		h.raw(`</p></section>`)
		return h.err
	})
}

// DependencyStatus — состояние внешней зависимости.
type DependencyStatus struct {
	Name    string
	Healthy bool
}

// SystemData — данные страницы system.
type SystemData struct {
	Version        string
	RoleSource     string
	ActiveSessions int
	PollInterval   string
	SyncAttempts   int
	Dependencies   []DependencyStatus
}

// System — сведения о сервисе (только admin).
func System(d SystemData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<section class="card"><table>`)
		row := func(key, value string) {
			h.raw(`<tr><th>`)
			h.text(i18n.T(ctx, key))
			h.raw(`</th><td>`)
			h.text(value)
			h.raw(`</td></tr>`)
		}
		row("system.version", d.Version)
		row("system.role_source", d.RoleSource)
		row("system.sessions", strconv.Itoa(d.ActiveSessions))
		row("system.poll_interval", d.PollInterval)
		row("system.sync_attempts", strconv.Itoa(d.SyncAttempts))
		h.raw(`</table></section><section class="card"><h3>`)
		h.text(i18n.T(ctx, "system.dependencies"))
		h.raw(`</h3><table>`)
		for _, dep := range d.Dependencies {
			class, key := "status-ok", "system.online"
			if !dep.Healthy {
				class, key = "status-fail", "system.offline"
			}
			h.raw(`<tr><td>`)
			h.text(dep.Name)
			h.rawf(`</td><td class="%s">`, class)
			h.text(i18n.T(ctx, key))
			h.raw(`</td></tr>`)
		}
		h.raw(`</table></section>`)
		return h.err
	})
}

// Pending — экран ожидания проверки сессии и загрузки ролей.
func Pending() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<div class="centered"><div class="spinner"></div><p>`)
		h.text(i18n.T(ctx, "pending.message"))
		h.raw(`</p></div>`)
		return h.err
	})
}

// Unavailable — роли не подтверждены: доступ закрыт до успешной загрузки.
func Unavailable() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<div class="centered"><h2>`)
		h.text(i18n.T(ctx, "unavailable.title"))
		h.raw(`</h2><p>`)
		h.text(i18n.T(ctx, "unavailable.message"))
		h.raw(`</p><button type="button" id="refresh-roles">`)
		h.text(i18n.T(ctx, "action.retry"))
		h.raw(`</button></div>`)
		return h.err
	})
}

// Login — страница входа. startURL ведёт на /login/start (с next, если есть).
func Login(startURL string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<div class="centered"><h2>MemberHub</h2><p>`)
		h.text(i18n.T(ctx, "login.message"))
		h.raw(`</p><a href="`)
		h.text(startURL)
		h.raw(`"><button type="button">`)
		h.text(i18n.T(ctx, "action.login"))
		h.raw(`</button></a></div>`)
		return h.err
	})
}
