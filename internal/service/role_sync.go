// role_sync.go — синхронизация кэша ролей сессии с внешним источником.
//
// Одна загрузка (SyncRoles):
//  1. Взять билет кэша для пользователя и отметить начало загрузки
//  2. Запросить записи у источника, повторяя с экспоненциальной задержкой
//  3. Отобразить записи на роли (недопустимые значения пропускаются)
//  4. Пустой результат заменить на {member}
//  5. Записать набор в кэш под билетом и снять отметку загрузки
//
// После исчерпания попыток ошибка записывается в кэш, прежние роли
// сохраняются, пользователь получает одно уведомление.
// Результат загрузки для неактуальной сессии отбрасывается.
//
// Prometheus-метрики:
//   - access_module_role_sync_duration_seconds — длительность загрузки ролей
//   - access_module_role_sync_total — число загрузок по исходу
//   - access_module_role_sync_retries_total — число повторных попыток
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
	"github.com/bigkaa/memberhub/access-module/internal/rolestore"
)

// Исходы загрузки для метрики access_module_role_sync_total.
const (
	syncOutcomeSuccess  = "success"
	syncOutcomeFailed   = "failed"
	syncOutcomeStale    = "stale"
	syncOutcomeCanceled = "canceled"
)

var (
	roleSyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "access_module_role_sync_duration_seconds",
		Help:    "Длительность загрузки ролей пользователя (включая повторы)",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms … ~41s
	})
	roleSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_module_role_sync_total",
		Help: "Число загрузок ролей по исходу",
	}, []string{"outcome"})
	roleSyncRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "access_module_role_sync_retries_total",
		Help: "Число повторных попыток загрузки ролей",
	})
)

// Notifier принимает уведомления для пользователя. Вызов не блокирует.
type Notifier interface {
	Notify(n model.Notification)
}

// RoleSyncConfig — параметры повторов загрузки.
type RoleSyncConfig struct {
	// Attempts — общее число попыток, включая первую
	Attempts int
	// BaseDelay — задержка перед второй попыткой, далее удваивается
	BaseDelay time.Duration
	// MaxDelay — верхняя граница задержки
	MaxDelay time.Duration
}

// DefaultRoleSyncConfig — 3 попытки, задержка 1s с удвоением, не больше 30s.
func DefaultRoleSyncConfig() RoleSyncConfig {
	return RoleSyncConfig{
		Attempts:  3,
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
	}
}

// RoleSynchronizer — единственный писатель в кэш ролей сессии.
type RoleSynchronizer struct {
	source   RoleRecordSource
	store    *rolestore.Store
	notifier Notifier
	cfg      RoleSyncConfig
	logger   *slog.Logger
}

// NewRoleSynchronizer создаёт синхронизатор ролей.
// notifier может быть nil — тогда уведомления не отправляются.
func NewRoleSynchronizer(
	source RoleRecordSource,
	store *rolestore.Store,
	notifier Notifier,
	cfg RoleSyncConfig,
	logger *slog.Logger,
) *RoleSynchronizer {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return &RoleSynchronizer{
		source:   source,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "role_sync")),
	}
}

// newBackOff собирает политику повторов: Attempts-1 повторов,
// задержка BaseDelay·2^n без джиттера, ограниченная MaxDelay.
func (s *RoleSynchronizer) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.cfg.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = s.cfg.MaxDelay
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.cfg.Attempts-1)), ctx)
}

// SyncRoles загружает роли пользователя и записывает их в кэш.
//
// Возвращает:
//   - загруженный набор при успехе
//   - ErrSessionChanged, если кэш уже не привязан к userID или сессия сменилась во время загрузки
//   - *FetchError после исчерпания попыток (в кэше остаётся прежний набор)
func (s *RoleSynchronizer) SyncRoles(ctx context.Context, userID string) (rbac.RoleSet, error) {
	ticket, ok := s.store.Ticket(userID)
	if !ok || !s.store.BeginFetch(ticket) {
		roleSyncTotal.WithLabelValues(syncOutcomeStale).Inc()
		return nil, ErrSessionChanged
	}
	defer s.store.EndFetch(ticket)

	start := time.Now()
	defer func() {
		roleSyncDuration.Observe(time.Since(start).Seconds())
	}()

	var (
		records  []model.UserRole
		attempts int
	)
	operation := func() error {
		if !s.store.Valid(ticket) {
			return backoff.Permanent(ErrSessionChanged)
		}
		attempts++
		recs, err := s.source.ListUserRoles(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrUserUnknown) {
				return backoff.Permanent(err)
			}
			return err
		}
		records = recs
		return nil
	}
	onRetry := func(err error, delay time.Duration) {
		roleSyncRetries.Inc()
		s.logger.Warn("Ошибка загрузки ролей, повтор",
			slog.String("user_id", userID),
			slog.Int("attempt", attempts),
			slog.String("delay", delay.String()),
			slog.String("error", err.Error()),
		)
	}

	err := backoff.RetryNotify(operation, s.newBackOff(ctx), onRetry)
	if err != nil {
		return nil, s.handleFailure(ctx, ticket, attempts, err)
	}

	roles := s.recordsToRoles(userID, records)
	if !s.store.SetRoles(ticket, roles) {
		roleSyncTotal.WithLabelValues(syncOutcomeStale).Inc()
		s.logger.Debug("Результат загрузки ролей отброшен: сессия изменилась",
			slog.String("user_id", userID),
		)
		return nil, ErrSessionChanged
	}

	roleSyncTotal.WithLabelValues(syncOutcomeSuccess).Inc()
	primary, _ := s.store.PrimaryRole()
	s.logger.Debug("Роли пользователя загружены",
		slog.String("user_id", userID),
		slog.Any("roles", roles.Strings()),
		slog.String("primary_role", string(primary)),
		slog.Int("attempts", attempts),
	)
	return roles, nil
}

// handleFailure фиксирует неуспешную загрузку.
func (s *RoleSynchronizer) handleFailure(ctx context.Context, ticket rolestore.Ticket, attempts int, err error) error {
	if errors.Is(err, ErrSessionChanged) || !s.store.Valid(ticket) {
		roleSyncTotal.WithLabelValues(syncOutcomeStale).Inc()
		return ErrSessionChanged
	}
	if ctx.Err() != nil {
		// Остановка сервиса или закрытие сессии: не ошибка источника.
		roleSyncTotal.WithLabelValues(syncOutcomeCanceled).Inc()
		return ctx.Err()
	}

	fetchErr := &FetchError{UserID: ticket.UserID, Attempts: attempts, Err: err}
	if !s.store.SetError(ticket, fetchErr) {
		roleSyncTotal.WithLabelValues(syncOutcomeStale).Inc()
		return ErrSessionChanged
	}

	roleSyncTotal.WithLabelValues(syncOutcomeFailed).Inc()
	s.logger.Error("Загрузка ролей не удалась",
		slog.String("user_id", ticket.UserID),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
	if s.notifier != nil {
		s.notifier.Notify(model.Notification{
			Key:      model.NotifyRolesFetchFailed,
			Severity: model.SeverityDestructive,
		})
	}
	return fetchErr
}

// recordsToRoles отображает записи на набор ролей.
// Пустой результат заменяется на {member}: у вошедшего пользователя всегда есть роль.
func (s *RoleSynchronizer) recordsToRoles(userID string, records []model.UserRole) rbac.RoleSet {
	roles := rbac.NewRoleSet()
	for _, rec := range records {
		role, err := rbac.ParseRole(rec.Role)
		if err != nil {
			s.logger.Warn("Пропущена недопустимая роль",
				slog.String("user_id", userID),
				slog.String("role", rec.Role),
			)
			continue
		}
		roles[role] = struct{}{}
	}
	if roles.Len() == 0 {
		roles[rbac.RoleMember] = struct{}{}
	}
	return roles
}
