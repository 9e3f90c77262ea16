// loader.go — загрузка каталогов locales/<lang>.json.
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
)

// localeFS — каталоги переводов, встроенные в бинарник.
//
//go:embed locales/*.json
var localeFS embed.FS

// Setup загружает встроенные каталоги и делает их активными для T и Tf.
func Setup(defaultLang string, logger *slog.Logger) (*Bundle, error) {
	b, err := LoadFS(localeFS, defaultLang, logger)
	if err != nil {
		return nil, err
	}
	active.Store(b)
	return b, nil
}

// LoadFS читает каталоги locales/*.json из fsys.
// Каталог нужен каждому поддерживаемому языку; ключи, которых нет
// в английском каталоге, считаются ошибкой: у них не будет fallback.
func LoadFS(fsys fs.FS, defaultLang string, logger *slog.Logger) (*Bundle, error) {
	if !Supported(defaultLang) {
		return nil, fmt.Errorf("i18n: язык по умолчанию %q не поддерживается", defaultLang)
	}
	files, err := fs.Glob(fsys, "locales/*.json")
	if err != nil {
		return nil, fmt.Errorf("i18n: поиск каталогов: %w", err)
	}

	b := &Bundle{
		catalogs:    make(map[string]map[string]string, len(files)),
		defaultLang: defaultLang,
	}
	for _, file := range files {
		lang := strings.TrimSuffix(path.Base(file), ".json")
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("i18n: чтение %s: %w", file, err)
		}
		var messages map[string]string
		if err := json.Unmarshal(data, &messages); err != nil {
			return nil, fmt.Errorf("i18n: разбор %s: %w", file, err)
		}
		b.catalogs[lang] = messages
	}

	for _, lang := range Languages() {
		if _, ok := b.catalogs[lang]; !ok {
			return nil, fmt.Errorf("i18n: нет каталога для языка %s", lang)
		}
	}
	for lang, messages := range b.catalogs {
		for key := range messages {
			if _, ok := b.catalogs[fallbackLang][key]; !ok {
				return nil, fmt.Errorf("i18n: ключ %q из %s.json отсутствует в %s.json", key, lang, fallbackLang)
			}
		}
	}

	logger.Info("Каталоги переводов загружены",
		slog.Int("languages", len(b.catalogs)),
		slog.Int("keys", len(b.catalogs[fallbackLang])),
		slog.String("default_lang", defaultLang),
	)
	return b, nil
}
