// role_poller.go — периодическое обновление ролей активной сессии.
//
// RolePoller запускает фоновую горутину с ticker (AC_ROLE_POLL_INTERVAL),
// которая вызывает RoleSynchronizer.SyncRoles для пользователя сессии.
// При выходе из сессии поллер обязан быть остановлен: Stop дожидается
// завершения горутины, после него загрузки не запускаются.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
)

// RoleSyncer — операция загрузки ролей, которую вызывает поллер.
type RoleSyncer interface {
	SyncRoles(ctx context.Context, userID string) (rbac.RoleSet, error)
}

// SyncResultFunc получает результат каждой периодической загрузки.
type SyncResultFunc func(userID string, roles rbac.RoleSet, err error)

// RolePoller — фоновое периодическое обновление ролей.
type RolePoller struct {
	syncer   RoleSyncer
	interval time.Duration
	onResult SyncResultFunc
	logger   *slog.Logger

	mu     sync.Mutex
	userID string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRolePoller создаёт поллер. onResult может быть nil.
func NewRolePoller(syncer RoleSyncer, interval time.Duration, onResult SyncResultFunc, logger *slog.Logger) *RolePoller {
	return &RolePoller{
		syncer:   syncer,
		interval: interval,
		onResult: onResult,
		logger:   logger.With(slog.String("component", "role_poller")),
	}
}

// Start запускает периодическое обновление ролей userID.
// Уже запущенный поллер сначала останавливается.
func (p *RolePoller) Start(ctx context.Context, userID string) {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.userID = userID
	done := p.done

	go func() {
		defer close(done)

		p.logger.Debug("Периодическое обновление ролей запущено",
			slog.String("user_id", userID),
			slog.String("interval", p.interval.String()),
		)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Периодическое обновление ролей остановлено",
					slog.String("user_id", userID),
				)
				return
			case <-ticker.C:
				roles, err := p.syncer.SyncRoles(ctx, userID)
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, ErrSessionChanged) {
					// Сессия уже другая: этот поллер своё отработал.
					return
				}
				if p.onResult != nil {
					p.onResult(userID, roles, err)
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (p *RolePoller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done, p.userID = nil, nil, ""
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Running сообщает, запущен ли поллер, и для какого пользователя.
func (p *RolePoller) Running() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.userID, p.cancel != nil
}
