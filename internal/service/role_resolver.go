// role_resolver.go — разовое определение ролей пользователя для API без сессии.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
	"github.com/bigkaa/memberhub/access-module/internal/rolestore"
)

// RoleResolver загружает роли пользователя через RoleSynchronizer
// с отдельным кэшем на каждый запрос. Уведомления не отправляются.
// Успешные результаты кэшируются на ttl.
type RoleResolver struct {
	source RoleRecordSource
	cfg    RoleSyncConfig
	cache  *expirable.LRU[string, rbac.RoleSet]
	logger *slog.Logger
}

// NewRoleResolver создаёт resolver. size <= 0 или ttl <= 0 — без кэша.
func NewRoleResolver(source RoleRecordSource, cfg RoleSyncConfig, size int, ttl time.Duration, logger *slog.Logger) *RoleResolver {
	r := &RoleResolver{
		source: source,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "role_resolver")),
	}
	if size > 0 && ttl > 0 {
		r.cache = expirable.NewLRU[string, rbac.RoleSet](size, nil, ttl)
	}
	return r
}

// Resolve возвращает роли пользователя.
// Ошибки те же, что у RoleSynchronizer.SyncRoles (*FetchError, ctx.Err()).
func (r *RoleResolver) Resolve(ctx context.Context, userID string) (rbac.RoleSet, error) {
	if r.cache != nil {
		if roles, ok := r.cache.Get(userID); ok {
			return roles.Clone(), nil
		}
	}

	store := rolestore.New()
	store.Bind(userID)
	roles, err := NewRoleSynchronizer(r.source, store, nil, r.cfg, r.logger).SyncRoles(ctx, userID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Add(userID, roles.Clone())
	}
	return roles, nil
}
