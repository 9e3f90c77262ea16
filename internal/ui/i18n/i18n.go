// Пакет i18n — переводы дашборда (en, ru).
//
// Каталоги загружаются один раз при старте (Setup) и дальше не меняются.
// T и Tf берут язык из контекста запроса, который кладёт Middleware.
package i18n

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/text/language"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
)

// SupportedLanguages — поддерживаемые языки, первый служит последним fallback.
var SupportedLanguages = []language.Tag{
	language.English,
	language.Russian,
}

var matcher = language.NewMatcher(SupportedLanguages)

// fallbackLang — язык, каталог которого обязан содержать все ключи.
const fallbackLang = "en"

// Bundle — загруженные каталоги: lang → key → перевод.
type Bundle struct {
	catalogs    map[string]map[string]string
	defaultLang string
}

// active — каталоги, которыми пользуются T и Tf.
var active atomic.Pointer[Bundle]

// Translate ищет ключ в языке lang, затем в языке по умолчанию и в английском.
// Не найденный нигде ключ возвращается как есть.
func (b *Bundle) Translate(lang, key string) string {
	for _, l := range [...]string{lang, b.defaultLang, fallbackLang} {
		if msg, ok := b.catalogs[l][key]; ok {
			return msg
		}
	}
	return key
}

// Translatef — Translate с подстановкой аргументов.
func (b *Bundle) Translatef(lang, key string, args ...any) string {
	return format(b.Translate(lang, key), args...)
}

// Supported сообщает, поддерживается ли язык (базовый код: "en", "ru").
func Supported(lang string) bool {
	for _, l := range Languages() {
		if l == lang {
			return true
		}
	}
	return false
}

// Languages возвращает базовые коды поддерживаемых языков в порядке SupportedLanguages.
func Languages() []string {
	out := make([]string, 0, len(SupportedLanguages))
	for _, tag := range SupportedLanguages {
		base, _ := tag.Base()
		out = append(out, base.String())
	}
	return out
}

// Default — язык по умолчанию установленных каталогов.
func Default() string {
	if b := active.Load(); b != nil {
		return b.defaultLang
	}
	return fallbackLang
}

type contextKey struct{}

// WithLang помещает язык в контекст.
func WithLang(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, contextKey{}, lang)
}

// LangFromContext возвращает язык запроса или язык по умолчанию.
func LangFromContext(ctx context.Context) string {
	if lang, ok := ctx.Value(contextKey{}).(string); ok && lang != "" {
		return lang
	}
	return Default()
}

// T возвращает перевод ключа на языке запроса.
// До Setup возвращается сам ключ.
func T(ctx context.Context, key string) string {
	b := active.Load()
	if b == nil {
		return key
	}
	return b.Translate(LangFromContext(ctx), key)
}

// Tf — T с подстановкой аргументов.
func Tf(ctx context.Context, key string, args ...any) string {
	return format(T(ctx, key), args...)
}

// Notification возвращает заголовок и текст уведомления
// (ключи notify.<key>.title и notify.<key>.description).
func Notification(ctx context.Context, n model.Notification) (title, description string) {
	prefix := "notify." + n.Key
	return T(ctx, prefix+".title"), T(ctx, prefix+".description")
}

// TabLabel — подпись вкладки, ключ "tab.<tab>".
func TabLabel(ctx context.Context, tab rbac.Tab) string {
	return T(ctx, "tab."+string(tab))
}

// RoleLabel — название роли, ключ "role.<role>".
func RoleLabel(ctx context.Context, role rbac.Role) string {
	return T(ctx, "role."+string(role))
}

// MatchLanguage выбирает поддерживаемый язык по заголовку Accept-Language.
func MatchLanguage(acceptLanguage string) string {
	tag, _ := language.MatchStrings(matcher, acceptLanguage)
	base, conf := tag.Base()
	if conf == language.No || !Supported(base.String()) {
		return Default()
	}
	return base.String()
}

// format-строки приходят из каталогов, поэтому go vet их не проверяет.
var sprintf = fmt.Sprintf

func format(template string, args ...any) string {
	if len(args) == 0 {
		return template
	}
	return sprintf(template, args...)
}
