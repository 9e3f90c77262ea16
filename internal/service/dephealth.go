// dephealth.go — мониторинг зависимостей через topologymetrics.
//
// Метрики app_dependency_* публикуются на /metrics рядом с остальными,
// а состояние выводится на вкладке system дашборда.
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрирует HTTP checker
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// Имена зависимостей в метриках и на вкладке system.
const (
	DepKeycloakJWKS = "keycloak-jwks"
	DepKeycloakOIDC = "keycloak-oidc"
	DepPostgres     = "postgresql"
)

// DephealthConfig — что мониторить.
type DephealthConfig struct {
	ServiceID string
	Group     string // AC_DEPHEALTH_GROUP
	// JWKSURL — ключи проверки токенов, нужны при любом источнике ролей
	JWKSURL string
	// OIDCDiscoveryURL — .well-known/openid-configuration realm; пусто — не мониторится
	OIDCDiscoveryURL string
	// DB — пул источника ролей (stdlib.OpenDBFromPool); nil — PostgreSQL не мониторится
	DB *sql.DB
	// PostgresURL — только для лейблов, подключение идёт через DB
	PostgresURL   string
	CheckInterval time.Duration
}

// DephealthService — фоновые проверки зависимостей.
type DephealthService struct {
	dh     *dephealth.DepHealth
	deps   []string
	logger *slog.Logger
}

// NewDephealthService регистрирует метрики в глобальном Prometheus registry.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, logger)
}

// NewDephealthServiceWithRegisterer — то же с отдельным registry (для тестов).
func NewDephealthServiceWithRegisterer(cfg DephealthConfig, logger *slog.Logger, registerer prometheus.Registerer) (*DephealthService, error) {
	return newDephealthService(cfg, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(cfg DephealthConfig, logger *slog.Logger, extra ...dephealth.Option) (*DephealthService, error) {
	opts := []dephealth.Option{dephealth.WithLogger(logger)}
	var deps []string

	add := func(name string, opt dephealth.Option) {
		opts = append(opts, opt)
		deps = append(deps, name)
	}

	add(DepKeycloakJWKS, httpDependency(DepKeycloakJWKS, cfg.JWKSURL, cfg.CheckInterval))
	if cfg.OIDCDiscoveryURL != "" {
		add(DepKeycloakOIDC, httpDependency(DepKeycloakOIDC, cfg.OIDCDiscoveryURL, cfg.CheckInterval))
	}
	if cfg.DB != nil {
		add(DepPostgres, dephealth.AddDependency(DepPostgres, dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.PostgresURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		))
	}

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, append(opts, extra...)...)
	if err != nil {
		return nil, err
	}
	return &DephealthService{
		dh:     dh,
		deps:   deps,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// httpDependency проверяет GET по пути самого URL: /health у Keycloak
// доступен только на management-порту.
func httpDependency(name, rawURL string, interval time.Duration) dephealth.Option {
	path := "/"
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	return dephealth.HTTP(name,
		dephealth.FromURL(rawURL),
		dephealth.WithHTTPHealthPath(path),
		dephealth.CheckInterval(interval),
		dephealth.Critical(true),
	)
}

// Start запускает периодические проверки.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен", slog.Any("dependencies", ds.deps))
	return ds.dh.Start(ctx)
}

// Stop останавливает проверки.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health — последнее состояние зависимостей: имя → ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

// Dependencies — имена мониторируемых зависимостей в порядке регистрации.
func (ds *DephealthService) Dependencies() []string {
	return slices.Clone(ds.deps)
}
