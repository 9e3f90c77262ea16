// Пакет static — CSS и JS дашборда, встроенные в бинарник.
package static

import (
	"embed"
	"net/http"
)

//go:embed css/*.css js/*.js
var content embed.FS

// Handler раздаёт встроенные файлы (монтируется с StripPrefix("/static/")).
// Файлы меняются только вместе с бинарником, поэтому кэш браузера ограничен часом
// без revalidate, а листинг каталогов закрыт.
func Handler() http.Handler {
	files := http.FileServerFS(content)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || r.URL.Path[len(r.URL.Path)-1] == '/' {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=3600")
		files.ServeHTTP(w, r)
	})
}
