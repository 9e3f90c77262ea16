package handlers

import (
	"net/http"
	"net/url"

	"github.com/bigkaa/memberhub/access-module/internal/ui/i18n"
)

const langCookieMaxAge = 365 * 24 * 60 * 60

// HandleSetLanguage запоминает язык интерфейса (POST /set-language, поле lang)
// и возвращает пользователя на страницу, с которой пришла форма.
// Принимается и полный тег ("ru-RU"); неизвестный язык даёт язык по умолчанию.
func HandleSetLanguage(w http.ResponseWriter, r *http.Request) {
	lang := r.FormValue("lang")
	if !i18n.Supported(lang) {
		lang = i18n.MatchLanguage(lang)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     i18n.LangCookieName,
		Value:    lang,
		Path:     "/",
		MaxAge:   langCookieMaxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, localReferer(r), http.StatusSeeOther)
}

// localReferer возвращает путь из Referer того же хоста, иначе "/".
func localReferer(r *http.Request) string {
	ref, err := url.Parse(r.Header.Get("Referer"))
	if err != nil || ref.Path == "" || (ref.Host != "" && ref.Host != r.Host) {
		return "/"
	}
	if !isLocalPath(ref.Path) {
		return "/"
	}
	if ref.RawQuery != "" {
		return ref.Path + "?" + ref.RawQuery
	}
	return ref.Path
}

// isLocalPath отсекает пути вида "//host", которые браузер понял бы как чужой адрес.
func isLocalPath(p string) bool {
	return len(p) > 0 && p[0] == '/' && (len(p) == 1 || (p[1] != '/' && p[1] != '\\'))
}
