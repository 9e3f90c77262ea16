// Пакет database — PostgreSQL как источник ролей: пул pgx, миграции
// схемы user_roles (golang-migrate) и проверка готовности.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/memberhub/access-module/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// applicationName видна в pg_stat_activity.
const applicationName = "access-module"

// connectWait — сколько ждём PostgreSQL при старте (под может подняться раньше БД).
const connectWait = 30 * time.Second

// ErrDirtyMigration — предыдущая миграция прервалась, схему нужно починить вручную.
var ErrDirtyMigration = errors.New("схема БД в состоянии dirty")

// Connect создаёт пул подключений и дожидается доступности PostgreSQL.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = 500 * time.Millisecond
	wait.MaxInterval = 5 * time.Second
	wait.MaxElapsedTime = connectWait

	err = backoff.RetryNotify(func() error {
		return pool.Ping(ctx)
	}, backoff.WithContext(wait, ctx), func(err error, next time.Duration) {
		logger.Warn("PostgreSQL недоступен, повтор",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", next),
		)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)
	return pool, nil
}

// Migrate приводит схему к последней версии из встроенных миграций.
// Повторный запуск без новых миграций ничего не делает.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.DatabaseURL("pgx5"))
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	// Up поверх dirty-версии падает с невнятной ошибкой, проверяем заранее
	if version, dirty, err := m.Version(); err == nil && dirty {
		return fmt.Errorf("%w: версия %d", ErrDirtyMigration, version)
	}

	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Debug("Новых миграций нет")
	case err != nil:
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info("Схема БД актуальна", slog.Uint64("version", uint64(version)))
	return nil
}

// ReadinessChecker — готовность PostgreSQL как источника ролей:
// подключение живо и таблица user_roles читается.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady реализует handlers.ReadinessChecker.
func (c *ReadinessChecker) CheckReady(ctx context.Context) (status, message string) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	var one int
	err := c.pool.QueryRow(ctx, `SELECT 1 FROM user_roles LIMIT 1`).Scan(&one)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "degraded", fmt.Sprintf("таблица user_roles недоступна: %v", err)
	}
	stat := c.pool.Stat()
	return "ok", fmt.Sprintf("подключений: %d из %d", stat.TotalConns(), stat.MaxConns())
}
