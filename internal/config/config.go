// Пакет config — загрузка и валидация конфигурации Access Module
// из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Источники записей о ролях.
const (
	RoleSourcePostgres = "postgres"
	RoleSourceKeycloak = "keycloak"
)

// Config содержит все параметры конфигурации Access Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Источник ролей ---

	// postgres — таблица user_roles, keycloak — группы пользователя в realm
	RoleSource string

	// --- PostgreSQL (обязательны только для RoleSource=postgres) ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Keycloak ---

	// URL Keycloak для backend-запросов (token exchange, JWKS, Admin API)
	KeycloakURL string
	// Внешний URL Keycloak для browser redirects (пусто — KeycloakURL)
	KeycloakBrowserURL string
	// Имя realm в Keycloak
	KeycloakRealm string
	// Confidential client для Admin API (обязателен только для RoleSource=keycloak)
	KeycloakClientID     string
	KeycloakClientSecret string
	// Public client дашборда (Authorization Code + PKCE)
	OIDCClientID string
	// Таймаут HTTP-запросов к Keycloak
	OIDCClientTimeout time.Duration
	// Путь к CA-сертификату для TLS-соединений с Keycloak (опционально)
	CACertPath string

	// --- JWT ---

	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string
	// Допустимое расхождение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал фонового обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимые azp access token; пусто — токен любого client realm
	JWTAuthorizedParties []string
	// Общий таймаут проверок зависимостей в /health/ready
	ReadinessTimeout time.Duration

	// --- Маппинг групп → ролей (RoleSource=keycloak) ---

	RoleAdminGroups     []string
	RoleCollectorGroups []string
	RoleMemberGroups    []string

	// --- Синхронизация ролей ---

	// Общее число попыток запроса ролей (включая первую)
	RoleSyncAttempts int
	// Задержка перед первым повтором, далее удваивается
	RoleSyncBaseDelay time.Duration
	// Потолок задержки между повторами
	RoleSyncMaxDelay time.Duration
	// Интервал фонового опроса ролей активной сессии
	RolePollInterval time.Duration
	// Кэш ролей для JSON API (0 — без кэша)
	RoleCacheSize int
	RoleCacheTTL  time.Duration

	// --- Сессии ---

	// Ключ шифрования cookie (пусто — случайный ключ на время жизни процесса)
	SessionSecret string
	// Максимальное число одновременно живых сессий в памяти
	SessionCacheSize int
	// Сессия без обращений дольше этого времени закрывается
	SessionIdleTTL time.Duration
	// Интервал keep-alive комментариев в SSE-потоке
	SSEKeepAlive time.Duration
	// Язык дашборда, если ни cookie, ни Accept-Language его не определили
	UIDefaultLang string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load читает конфигурацию из переменных окружения AC_*.
// Ошибки всех переменных собираются вместе, чтобы неверный деплой
// был виден целиком с первого запуска.
func Load() (*Config, error) {
	e := &envReader{}
	cfg := &Config{}

	cfg.Port = e.intIn("AC_PORT", 8010, 1, 65535)
	cfg.LogLevel = e.logLevel("AC_LOG_LEVEL", slog.LevelInfo)
	cfg.LogFormat = e.oneOf("AC_LOG_FORMAT", "json", "json", "text")
	cfg.RoleSource = e.oneOf("AC_ROLE_SOURCE", RoleSourcePostgres, RoleSourcePostgres, RoleSourceKeycloak)

	if cfg.UsesPostgres() {
		cfg.DBHost = e.required("AC_DB_HOST")
		cfg.DBPort = e.intIn("AC_DB_PORT", 5432, 1, 65535)
		cfg.DBName = e.required("AC_DB_NAME")
		cfg.DBUser = e.required("AC_DB_USER")
		cfg.DBPassword = e.required("AC_DB_PASSWORD")
		cfg.DBSSLMode = e.oneOf("AC_DB_SSL_MODE", "disable", "disable", "require", "verify-ca", "verify-full")
	}

	// Keycloak
	cfg.KeycloakURL = strings.TrimRight(e.required("AC_KEYCLOAK_URL"), "/")
	cfg.KeycloakBrowserURL = strings.TrimRight(e.str("AC_KEYCLOAK_BROWSER_URL", ""), "/")
	cfg.KeycloakRealm = e.str("AC_KEYCLOAK_REALM", "memberhub")
	if cfg.RoleSource == RoleSourceKeycloak {
		cfg.KeycloakClientID = e.required("AC_KEYCLOAK_CLIENT_ID")
		cfg.KeycloakClientSecret = e.required("AC_KEYCLOAK_CLIENT_SECRET")
	}
	cfg.OIDCClientID = e.str("AC_OIDC_CLIENT_ID", "memberhub-dashboard")
	cfg.OIDCClientTimeout = e.positive("AC_OIDC_CLIENT_TIMEOUT", 30*time.Second)
	cfg.CACertPath = e.str("AC_CA_CERT_PATH", "")

	realmURL := fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm)
	cfg.JWTIssuer = e.str("AC_JWT_ISSUER", realmURL)
	cfg.JWTJWKSURL = e.str("AC_JWT_JWKS_URL", realmURL+"/protocol/openid-connect/certs")
	cfg.JWTLeeway = e.duration("AC_JWT_LEEWAY", 30*time.Second)
	cfg.JWTAuthorizedParties = parseCSV(e.str("AC_JWT_AUTHORIZED_PARTIES", ""))
	cfg.JWKSRefreshInterval = e.positive("AC_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	cfg.ReadinessTimeout = e.positive("AC_READINESS_TIMEOUT", 5*time.Second)

	cfg.RoleAdminGroups = parseCSV(e.str("AC_ROLE_ADMIN_GROUPS", "memberhub-admins"))
	cfg.RoleCollectorGroups = parseCSV(e.str("AC_ROLE_COLLECTOR_GROUPS", "memberhub-collectors"))
	cfg.RoleMemberGroups = parseCSV(e.str("AC_ROLE_MEMBER_GROUPS", "memberhub-members"))

	// Синхронизация ролей
	cfg.RoleSyncAttempts = e.intIn("AC_ROLE_SYNC_ATTEMPTS", 3, 1, 10)
	cfg.RoleSyncBaseDelay = e.positive("AC_ROLE_SYNC_BASE_DELAY", time.Second)
	cfg.RoleSyncMaxDelay = e.positive("AC_ROLE_SYNC_MAX_DELAY", 30*time.Second)
	if cfg.RoleSyncBaseDelay > 0 && cfg.RoleSyncMaxDelay > 0 && cfg.RoleSyncMaxDelay < cfg.RoleSyncBaseDelay {
		e.fail("AC_ROLE_SYNC_MAX_DELAY", fmt.Errorf("значение %s меньше AC_ROLE_SYNC_BASE_DELAY (%s)",
			cfg.RoleSyncMaxDelay, cfg.RoleSyncBaseDelay))
	}
	cfg.RolePollInterval = e.positive("AC_ROLE_POLL_INTERVAL", 5*time.Second)
	cfg.RoleCacheSize = e.intIn("AC_ROLE_CACHE_SIZE", 1000, 0, 1_000_000)
	cfg.RoleCacheTTL = e.positive("AC_ROLE_CACHE_TTL", 30*time.Second)

	// Сессии
	cfg.SessionSecret = e.str("AC_SESSION_SECRET", "")
	cfg.SessionCacheSize = e.intIn("AC_SESSION_CACHE_SIZE", 1000, 1, 100000)
	cfg.SessionIdleTTL = e.positive("AC_SESSION_IDLE_TTL", 30*time.Minute)
	cfg.SSEKeepAlive = e.positive("AC_SSE_KEEPALIVE", 15*time.Second)
	cfg.UIDefaultLang = e.oneOf("AC_UI_DEFAULT_LANG", "en", "en", "ru")

	cfg.DephealthGroup = e.str("AC_DEPHEALTH_GROUP", "memberhub")
	cfg.DephealthCheckInterval = e.positive("AC_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	cfg.ShutdownTimeout = e.positive("AC_SHUTDOWN_TIMEOUT", 5*time.Second)

	if err := e.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UsesPostgres сообщает, нужен ли модулю PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return c.RoleSource == RoleSourcePostgres
}

// OIDCDiscoveryURL — документ openid-configuration realm на backend URL Keycloak.
func (c *Config) OIDCDiscoveryURL() string {
	return fmt.Sprintf("%s/realms/%s/.well-known/openid-configuration", c.KeycloakURL, url.PathEscape(c.KeycloakRealm))
}

// DatabaseDSN возвращает строку подключения к PostgreSQL (формат key=value для pgxpool).
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL с заданной схемой
// (pgx5 — для golang-migrate, postgres — для topologymetrics).
func (c *Config) DatabaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// envReader читает переменные окружения и копит ошибки разбора.
type envReader struct {
	errs []error
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}

func (e *envReader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (e *envReader) required(key string) string {
	v := os.Getenv(key)
	if v == "" {
		e.fail(key, errors.New("обязательная переменная окружения не задана"))
	}
	return v
}

func (e *envReader) oneOf(key, def string, allowed ...string) string {
	v := e.str(key, def)
	if !slices.Contains(allowed, v) {
		e.fail(key, fmt.Errorf("недопустимое значение %q, допустимые: %s", v, strings.Join(allowed, ", ")))
	}
	return v
}

// intIn — целое в диапазоне [lo, hi].
func (e *envReader) intIn(key string, def, lo, hi int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, fmt.Errorf("некорректное целое число: %q", raw))
		return def
	}
	if n < lo || n > hi {
		e.fail(key, fmt.Errorf("значение %d вне допустимого диапазона %d-%d", n, lo, hi))
	}
	return n
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, fmt.Errorf("некорректная длительность: %q (формат Go: 30s, 1h, 15m)", raw))
		return def
	}
	return d
}

// positive — длительность строго больше нуля (таймеры и тикеры не принимают 0).
func (e *envReader) positive(key string, def time.Duration) time.Duration {
	d := e.duration(key, def)
	if d <= 0 {
		e.fail(key, errors.New("значение должно быть положительным"))
	}
	return d
}

func (e *envReader) logLevel(key string, def slog.Level) slog.Level {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	// slog понимает debug/info/warn/error и смещения вида "info+2"
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
		e.fail(key, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", raw))
		return def
	}
	return level
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
