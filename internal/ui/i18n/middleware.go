package i18n

import "net/http"

// LangCookieName — cookie с языком, выбранным пользователем.
const LangCookieName = "lang"

// Middleware определяет язык запроса: cookie "lang", затем Accept-Language,
// затем язык по умолчанию.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := requestLanguage(r)
			w.Header().Set("Content-Language", lang)
			w.Header().Add("Vary", "Accept-Language, Cookie")
			next.ServeHTTP(w, r.WithContext(WithLang(r.Context(), lang)))
		})
	}
}

func requestLanguage(r *http.Request) string {
	if c, err := r.Cookie(LangCookieName); err == nil && Supported(c.Value) {
		return c.Value
	}
	return MatchLanguage(r.Header.Get("Accept-Language"))
}
