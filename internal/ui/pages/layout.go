// Пакет pages — HTML-страницы дашборда (компоненты templ).
package pages

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
	"github.com/bigkaa/memberhub/access-module/internal/ui/i18n"
)

// notificationKeys — уведомления, тексты которых нужны клиентскому скрипту.
var notificationKeys = []string{
	model.NotifyRolesFetchFailed,
	model.NotifyAccessDenied,
	model.NotifyRolesLoading,
	model.NotifyAccessUnavailable,
	model.NotifySignedOut,
	model.NotifyAuthFailed,
}

// Layout — общие данные страницы дашборда.
type Layout struct {
	// TitleKey — ключ каталога для заголовка страницы
	TitleKey string
	Member   model.Member
	Role     *rbac.Role
	// Active — текущая вкладка (подсвечивается в навигации)
	Active rbac.Tab
	// Nav — вкладки боковой панели
	Nav []rbac.Tab
	// Session — страница подписывается на поток эффектов сессии
	Session bool
	// Pending — страница ожидает решения шлюза
	Pending bool
	// Flash — уведомления, показываемые сразу при загрузке
	Flash []model.Notification
}

// html — запись HTML с запоминанием первой ошибки.
type html struct {
	w   io.Writer
	err error
}

func (h *html) raw(s string) {
	if h.err == nil {
		_, h.err = io.WriteString(h.w, s)
	}
}

func (h *html) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *html) rawf(format string, args ...any) {
	if h.err == nil {
		_, h.err = fmt.Fprintf(h.w, format, args...)
	}
}

func (h *html) component(ctx context.Context, c templ.Component) {
	if h.err == nil && c != nil {
		h.err = c.Render(ctx, h.w)
	}
}

// notifyTexts — тексты уведомлений на языке запроса для data-notify.
func notifyTexts(ctx context.Context) string {
	texts := make(map[string]map[string]string, len(notificationKeys))
	for _, key := range notificationKeys {
		title, desc := i18n.Notification(ctx, model.Notification{Key: key})
		texts[key] = map[string]string{"title": title, "description": desc}
	}
	data, _ := json.Marshal(texts)
	return string(data)
}

// Page оборачивает содержимое в общий каркас с навигацией.
func Page(l Layout, content templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<!DOCTYPE html><html lang="`)
		h.text(i18n.LangFromContext(ctx))
		h.raw(`"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">`)
		h.raw(`<title>`)
		h.text(i18n.T(ctx, l.TitleKey))
		h.raw(` · MemberHub</title><link rel="stylesheet" href="/static/css/app.css"></head>`)

		h.raw(`<body data-notify="`)
		h.text(notifyTexts(ctx))
		h.raw(`"`)
		if l.Session {
			h.raw(` data-session`)
		}
		if l.Pending {
			h.raw(` data-pending`)
		}
		h.raw(`><div class="layout">`)

		if l.Session {
			h.raw(`<nav class="sidebar"><div class="brand">MemberHub</div>`)
			for _, tab := range l.Nav {
				class := "nav-item"
				if tab == l.Active {
					class += " active"
				}
				h.rawf(`<button type="button" class="%s" data-tab="%s">`, class, templ.EscapeString(string(tab)))
				h.text(i18n.TabLabel(ctx, tab))
				h.raw(`</button>`)
			}
			h.raw(`</nav>`)
		}

		h.raw(`<main class="main">`)
		if l.Session {
			h.raw(`<div class="topbar"><h1>`)
			h.text(i18n.T(ctx, l.TitleKey))
			h.raw(`</h1><div><span class="user">`)
			h.text(displayName(l.Member))
			if l.Role != nil {
				h.raw(` · `)
				h.text(i18n.RoleLabel(ctx, *l.Role))
			}
			h.raw(`</span> <form method="post" action="/set-language"><select name="lang" onchange="this.form.submit()">`)
			for _, lang := range i18n.Languages() {
				selected := ""
				if lang == i18n.LangFromContext(ctx) {
					selected = " selected"
				}
				h.rawf(`<option value="%s"%s>%s</option>`, lang, selected, lang)
			}
			h.raw(`</select></form> <form method="post" action="/logout"><button type="submit">`)
			h.text(i18n.T(ctx, "action.logout"))
			h.raw(`</button></form></div></div>`)
		}

		h.component(ctx, content)
		h.raw(`</main></div><div id="toasts">`)
		for _, n := range l.Flash {
			title, desc := i18n.Notification(ctx, n)
			h.rawf(`<div class="toast %s"><div class="title">`, templ.EscapeString(string(n.Severity)))
			h.text(title)
			h.raw(`</div><div class="description">`)
			h.text(desc)
			h.raw(`</div></div>`)
		}
		h.raw(`</div><script src="/static/js/app.js"></script></body></html>`)
		return h.err
	})
}

func displayName(m model.Member) string {
	switch {
	case m.Name != "":
		return m.Name
	case m.Username != "":
		return m.Username
	default:
		return m.Email
	}
}
