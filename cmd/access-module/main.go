// Точка входа Access Module — разграничение доступа к дашборду участников.
// Загружает конфигурацию, подключает источник ролей (PostgreSQL или группы
// Keycloak), настраивает проверку токенов и OIDC-вход, реестр серверных
// сессий со шлюзами доступа, JSON API и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/memberhub/access-module/internal/api/handlers"
	"github.com/bigkaa/memberhub/access-module/internal/api/middleware"
	"github.com/bigkaa/memberhub/access-module/internal/api/openapi"
	"github.com/bigkaa/memberhub/access-module/internal/config"
	"github.com/bigkaa/memberhub/access-module/internal/database"
	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
	"github.com/bigkaa/memberhub/access-module/internal/keycloak"
	"github.com/bigkaa/memberhub/access-module/internal/repository"
	"github.com/bigkaa/memberhub/access-module/internal/server"
	"github.com/bigkaa/memberhub/access-module/internal/service"
	"github.com/bigkaa/memberhub/access-module/internal/session"
	"github.com/bigkaa/memberhub/access-module/internal/ui/auth"
	uihandlers "github.com/bigkaa/memberhub/access-module/internal/ui/handlers"
	"github.com/bigkaa/memberhub/access-module/internal/ui/i18n"
	uimiddleware "github.com/bigkaa/memberhub/access-module/internal/ui/middleware"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Access Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("role_source", cfg.RoleSource),
	)

	if os.Getenv("AC_DEPHEALTH_GROUP") == "" {
		logger.Warn("AC_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. HTTP-клиент с кастомным CA (Keycloak)
	httpClient, err := keycloak.HTTPClientWithCA(cfg.CACertPath, cfg.OIDCClientTimeout)
	if err != nil {
		logger.Error("Ошибка загрузки CA-сертификата",
			slog.String("path", cfg.CACertPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// 4. Источник ролей
	var (
		source      service.RoleRecordSource
		roleCounter uihandlers.RoleCounter
		pgDB        *sql.DB
		checkers    []handlers.NamedChecker
	)
	switch cfg.RoleSource {
	case config.RoleSourcePostgres:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		userRoleRepo := repository.NewUserRoleRepository(pool)
		source = service.NewPostgresRoleSource(userRoleRepo)
		roleCounter = userRoleRepo
		checkers = append(checkers, handlers.NamedChecker{
			Name:    "postgresql",
			Checker: database.NewReadinessChecker(pool),
		})

	case config.RoleSourceKeycloak:
		kcClient := keycloak.New(
			cfg.KeycloakURL,
			cfg.KeycloakRealm,
			cfg.KeycloakClientID,
			cfg.KeycloakClientSecret,
			httpClient,
			logger,
		)
		source = service.NewKeycloakRoleSource(kcClient, map[rbac.Role][]string{
			rbac.RoleAdmin:     cfg.RoleAdminGroups,
			rbac.RoleCollector: cfg.RoleCollectorGroups,
			rbac.RoleMember:    cfg.RoleMemberGroups,
		})
		checkers = append(checkers, handlers.NamedChecker{Name: "keycloak_admin", Checker: kcClient})
		logger.Info("Роли загружаются из групп Keycloak",
			slog.String("url", cfg.KeycloakURL),
			slog.String("realm", cfg.KeycloakRealm),
		)
	}

	syncCfg := service.RoleSyncConfig{
		Attempts:  cfg.RoleSyncAttempts,
		BaseDelay: cfg.RoleSyncBaseDelay,
		MaxDelay:  cfg.RoleSyncMaxDelay,
	}

	// 5. Проверка токенов (JWKS с фоновым обновлением)
	verifier, err := auth.NewTokenVerifier(auth.VerifierConfig{
		JWKSURL:           cfg.JWTJWKSURL,
		HTTPClient:        httpClient,
		RefreshInterval:   cfg.JWKSRefreshInterval,
		Issuer:            cfg.JWTIssuer,
		Leeway:            cfg.JWTLeeway,
		AuthorizedParties: cfg.JWTAuthorizedParties,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания verifier", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT verifier инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
		slog.Any("authorized_parties", cfg.JWTAuthorizedParties),
	)
	checkers = append(checkers, handlers.NamedChecker{
		Name:    "keycloak",
		Checker: keycloak.NewJWKSReadinessChecker(cfg.JWTJWKSURL, httpClient, cfg.ReadinessTimeout),
	})

	// 6. Реестр серверных сессий (шлюз доступа на каждую сессию)
	registry := session.NewRegistry(ctx, session.RegistryConfig{
		Size:    cfg.SessionCacheSize,
		IdleTTL: cfg.SessionIdleTTL,
	}, session.Deps{
		Source:       source,
		SyncConfig:   syncCfg,
		PollInterval: cfg.RolePollInterval,
		Logger:       logger,
	})

	// 7. topologymetrics — мониторинг зависимостей
	var health uihandlers.HealthReporter
	dephealthSvc, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:        "access-module",
		Group:            cfg.DephealthGroup,
		DB:               pgDB,
		PostgresURL:      postgresURL(cfg),
		JWKSURL:          cfg.JWTJWKSURL,
		OIDCDiscoveryURL: cfg.OIDCDiscoveryURL(),
		CheckInterval:    cfg.DephealthCheckInterval,
	}, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		dephealthSvc = nil
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
	} else {
		health = dephealthSvc
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 8. JSON API
	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := openapi.NewValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания OpenAPI validator", slog.String("error", err.Error()))
		os.Exit(1)
	}
	resolver := service.NewRoleResolver(source, syncCfg, cfg.RoleCacheSize, cfg.RoleCacheTTL, logger)
	apiComponents := server.APIComponents{
		Handler:   handlers.NewAPIHandler(handlers.NewHealthHandler(cfg.ReadinessTimeout, checkers...), resolver, logger),
		Auth:      middleware.NewBearerAuth(verifier, logger),
		Validator: validator,
	}

	// 9. Дашборд
	if _, err := i18n.Setup(cfg.UIDefaultLang, logger); err != nil {
		logger.Error("Ошибка загрузки переводов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// secure cookie: true если Keycloak доступен браузеру по https
	browserURL := cfg.KeycloakBrowserURL
	if browserURL == "" {
		browserURL = cfg.KeycloakURL
	}
	secureCookie := strings.HasPrefix(browserURL, "https")

	sessionMgr, err := auth.NewSessionManager(cfg.SessionSecret, secureCookie)
	if err != nil {
		logger.Error("Ошибка создания Session Manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.SessionSecret == "" {
		logger.Warn("AC_SESSION_SECRET не задан, сессии не сохраняются между рестартами")
	}

	oidcClient := auth.NewOIDCClient(auth.OIDCConfig{
		KeycloakURL:        cfg.KeycloakURL,
		BrowserKeycloakURL: cfg.KeycloakBrowserURL,
		Realm:              cfg.KeycloakRealm,
		ClientID:           cfg.OIDCClientID,
		HTTPClient:         httpClient,
		Timeout:            cfg.OIDCClientTimeout,
	})

	uiComponents := &server.UIComponents{
		AuthHandler:    uihandlers.NewAuthHandler(oidcClient, verifier, sessionMgr, registry, secureCookie, logger),
		AuthMiddleware: uimiddleware.NewUIAuth(sessionMgr, oidcClient, verifier, registry, logger),
		PagesHandler: uihandlers.NewPagesHandler(roleCounter, health, registry, uihandlers.SystemInfo{
			Version:      config.Version,
			RoleSource:   cfg.RoleSource,
			PollInterval: cfg.RolePollInterval,
			SyncAttempts: cfg.RoleSyncAttempts,
		}, logger),
		EventsHandler: uihandlers.NewEventsHandler(cfg.SSEKeepAlive, logger),
	}
	logger.Info("Дашборд инициализирован",
		slog.String("oidc_client_id", cfg.OIDCClientID),
		slog.Bool("secure_cookie", secureCookie),
	)

	// 10. HTTP-сервер. Закрытие сессий в начале shutdown завершает SSE-потоки.
	srv := server.New(cfg, logger, apiComponents, uiComponents)
	srv.OnShutdown(registry.Shutdown)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 11. Остановка фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	registry.Shutdown()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	cancel()

	logger.Info("Access Module остановлен")
}

// postgresURL — URL PostgreSQL для лейблов topologymetrics (пусто без PostgreSQL).
func postgresURL(cfg *config.Config) string {
	if !cfg.UsesPostgres() {
		return ""
	}
	return cfg.DatabaseURL("postgres")
}
